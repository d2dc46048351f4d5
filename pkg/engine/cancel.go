package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/handoff/pkg/directory"
	"github.com/dukex/handoff/pkg/events"
	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/persistence"
)

type CancelRequest struct {
	InstanceID        string
	UserID            string
	ExpectedUpdatedAt time.Time
	Reason            string
}

// CancelInstance stops an active instance. Its live steps are closed and a history row records
// who cancelled it.
func (e *Engine) CancelInstance(ctx context.Context, req CancelRequest) (*models.WorkflowInstance, error) {
	const op = "CancelInstance"

	instance, err := e.loadInstance(ctx, op, req.InstanceID)
	if err != nil {
		return nil, err
	}

	status, err := advanceInstance(instance.Status, triggerCancel)
	if err != nil {
		return nil, &ConflictError{Op: op, InstanceID: instance.ID, Message: fmt.Sprintf("instance already %s", instance.Status)}
	}

	if !instance.UpdatedAt.Equal(req.ExpectedUpdatedAt) {
		return nil, &ConflictError{
			Op:         op,
			InstanceID: instance.ID,
			Message:    "instance was modified by someone else, reload and retry",
			Err:        persistence.ErrStaleInstance,
		}
	}

	allowed, err := e.isSuperadminOrMember(ctx, req.UserID, instance.ProjectID)
	if err != nil {
		return nil, err
	}

	if !allowed {
		return nil, &PermissionError{Op: op, UserID: req.UserID, Reason: ReasonNotProjectMember}
	}

	steps, err := e.persistence.InstanceRepository().Steps(ctx, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	var (
		live []string
		from string
	)

	for _, s := range steps {
		if s.Live() {
			live = append(live, s.ID)
			if from == "" {
				from = s.NodeID
			}
		}
	}

	if from == "" && instance.CurrentNodeID != nil {
		from = *instance.CurrentNodeID
	}

	notes := "cancelled"
	if req.Reason != "" {
		notes += ": " + req.Reason
	}

	now := e.nextVersion(instance.UpdatedAt)

	commit := &persistence.TransitionCommit{
		InstanceID:        instance.ID,
		ExpectedUpdatedAt: instance.UpdatedAt,
		UpdatedAt:         now,
		Status:            status,
		CurrentNodeID:     instance.CurrentNodeID,
		CompleteStepIDs:   live,
		History: []*models.WorkflowHistory{{
			ID:          newID(),
			InstanceID:  instance.ID,
			FromNodeID:  from,
			HandedOffAt: now,
			Notes:       notes,
			ActorID:     req.UserID,
		}},
	}

	if err := e.persistence.InstanceRepository().CommitTransition(ctx, commit); err != nil {
		if persistence.IsConflict(err) {
			return nil, &ConflictError{Op: op, InstanceID: instance.ID, Message: "instance was modified by someone else, reload and retry", Err: err}
		}

		return nil, fmt.Errorf("failed to cancel instance: %w", err)
	}

	updated := *instance
	updated.Status = status
	updated.UpdatedAt = now

	e.logger.InfoContext(ctx, "Cancelled instance", "instance_id", instance.ID, "user_id", req.UserID)

	e.publish(ctx, &updated, events.InstanceCancelled{
		BaseEvent: events.NewBaseEvent(events.InstanceCancelledEvent, instance.ID, instance.ProjectID, req.UserID),
	})

	return &updated, nil
}

// DeleteInstance removes an instance with its steps and history.
func (e *Engine) DeleteInstance(ctx context.Context, instanceID, userID string) error {
	const op = "DeleteInstance"

	instance, err := e.loadInstance(ctx, op, instanceID)
	if err != nil {
		return err
	}

	allowed, err := e.isSuperadminOrMember(ctx, userID, instance.ProjectID)
	if err != nil {
		return err
	}

	if !allowed {
		return &PermissionError{Op: op, UserID: userID, Reason: ReasonNotProjectMember}
	}

	if err := e.persistence.InstanceRepository().Delete(ctx, instance.ID); err != nil {
		if persistence.IsInstanceNotFound(err) {
			return &NotFoundError{Op: op, Resource: "instance", ID: instanceID, Err: err}
		}

		return fmt.Errorf("failed to delete instance: %w", err)
	}

	e.logger.InfoContext(ctx, "Deleted instance", "instance_id", instance.ID, "user_id", userID)

	return nil
}

// GetInstance returns an instance by id.
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	return e.loadInstance(ctx, "GetInstance", instanceID)
}

func (e *Engine) ListInstances(ctx context.Context, projectID string) ([]*models.WorkflowInstance, error) {
	return e.persistence.InstanceRepository().ListByProject(ctx, projectID)
}

func (e *Engine) isSuperadminOrMember(ctx context.Context, userID, projectID string) (bool, error) {
	superadmin, err := e.directory.IsSuperadmin(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check superadmin: %w", err)
	}

	if superadmin {
		return true, nil
	}

	member, err := directory.IsProjectMember(ctx, e.directory, userID, projectID)
	if err != nil {
		return false, fmt.Errorf("failed to check project assignment: %w", err)
	}

	return member, nil
}
