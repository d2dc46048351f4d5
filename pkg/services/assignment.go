package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/handoff/pkg/directory"
	"github.com/dukex/handoff/pkg/engine"
	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/persistence"
)

// Assignment manages pipeline pre-assignments: users designated in advance for nodes of an
// instance that has not reached them yet.
type Assignment struct {
	persistence persistence.Persistence
	engine      *engine.Engine
	logger      *slog.Logger
}

func NewAssignment(persistence persistence.Persistence, eng *engine.Engine, logger *slog.Logger) *Assignment {
	return &Assignment{persistence: persistence, engine: eng, logger: logger}
}

type AssignRequest struct {
	InstanceID string `json:"instance_id" validate:"required"`
	NodeID     string `json:"node_id"     validate:"required"`
	UserID     string `json:"user_id"     validate:"required"`
	// ActorID is the user making the assignment.
	ActorID string `json:"-"`
}

// Assign designates a user for a node. The actor must be a superadmin or a project member, and
// the assignee must be eligible for the node.
func (a *Assignment) Assign(ctx context.Context, req AssignRequest) (*models.WorkflowNodeAssignment, error) {
	const op = "Assign"

	if req.InstanceID == "" || req.NodeID == "" || req.UserID == "" {
		return nil, ErrAssignmentIncomplete
	}

	instance, node, err := a.target(ctx, op, req.InstanceID, req.NodeID)
	if err != nil {
		return nil, err
	}

	err = a.authorize(ctx, op, instance, req.ActorID)
	if err != nil {
		return nil, err
	}

	eligible, err := a.engine.CanAssign(ctx, instance.ProjectID, node, req.UserID)
	if err != nil {
		return nil, err
	}

	if !eligible {
		return nil, NewValidationError(op, "NOT_ELIGIBLE",
			fmt.Sprintf("user %s cannot be assigned to %s", req.UserID, node.Label), ErrNotEligible)
	}

	assignment := &models.WorkflowNodeAssignment{
		InstanceID: instance.ID,
		NodeID:     node.ID,
		UserID:     req.UserID,
		CreatedAt:  time.Now().UTC(),
	}

	err = a.persistence.AssignmentRepository().Assign(ctx, assignment)
	if err != nil {
		return nil, fmt.Errorf("failed to assign user: %w", err)
	}

	a.logger.InfoContext(ctx, "Assigned user to node",
		"instance_id", instance.ID,
		"node_id", node.ID,
		"user_id", req.UserID,
		"actor_id", req.ActorID)

	return assignment, nil
}

// Unassign removes a pre-assignment. Removing an assignment that does not exist is not an error.
func (a *Assignment) Unassign(ctx context.Context, req AssignRequest) error {
	const op = "Unassign"

	if req.InstanceID == "" || req.NodeID == "" || req.UserID == "" {
		return ErrAssignmentIncomplete
	}

	instance, _, err := a.target(ctx, op, req.InstanceID, req.NodeID)
	if err != nil {
		return err
	}

	err = a.authorize(ctx, op, instance, req.ActorID)
	if err != nil {
		return err
	}

	err = a.persistence.AssignmentRepository().Unassign(ctx, req.InstanceID, req.NodeID, req.UserID)
	if err != nil {
		return fmt.Errorf("failed to unassign user: %w", err)
	}

	return nil
}

// List returns the pre-assignments of an instance.
func (a *Assignment) List(ctx context.Context, instanceID string) ([]*models.WorkflowNodeAssignment, error) {
	if _, err := a.engine.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}

	return a.persistence.AssignmentRepository().ListByInstance(ctx, instanceID)
}

func (a *Assignment) target(ctx context.Context, op, instanceID, nodeID string) (*models.WorkflowInstance, *models.WorkflowNode, error) {
	instance, graph, err := a.engine.InstanceGraph(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}

	if instance.Status.Terminal() {
		return nil, nil, NewConflictError(op, "instance is "+string(instance.Status))
	}

	node, ok := graph.Node(nodeID)
	if !ok {
		return nil, nil, NewValidationError(op, "UNKNOWN_NODE", "unknown node "+nodeID, ErrUnknownNode)
	}

	return instance, node, nil
}

func (a *Assignment) authorize(ctx context.Context, op string, instance *models.WorkflowInstance, actorID string) error {
	dir := a.engine.Directory()

	superadmin, err := dir.IsSuperadmin(ctx, actorID)
	if err != nil {
		return fmt.Errorf("failed to check superadmin: %w", err)
	}

	if superadmin {
		return nil
	}

	member, err := directory.IsProjectMember(ctx, dir, actorID, instance.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to check project assignment: %w", err)
	}

	if !member {
		return &engine.PermissionError{Op: op, UserID: actorID, Reason: engine.ReasonNotProjectMember}
	}

	return nil
}
