package engine

import (
	"context"
	"fmt"

	"github.com/dukex/handoff/pkg/models"
)

// SiblingStatus describes a parallel sibling step for display next to the step being acted on.
type SiblingStatus struct {
	StepID         string            `json:"step_id"`
	NodeID         string            `json:"node_id"`
	NodeLabel      string            `json:"node_label"`
	BranchID       string            `json:"branch_id"`
	Status         models.StepStatus `json:"status"`
	AssignedUserID *string           `json:"assigned_user_id,omitempty"`
	Decision       string            `json:"decision,omitempty"`
}

// SiblingsOf returns the steps of the branches created by the same fork as step's branch.
func (e *Engine) SiblingsOf(ctx context.Context, step *models.WorkflowActiveStep) ([]*models.WorkflowActiveStep, error) {
	steps, err := e.persistence.InstanceRepository().Steps(ctx, step.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	return siblingsOf(steps, step), nil
}

// AllSiblingsCompleted reports whether every other branch of step's fork, including branches
// forked from them, has no live step left. The step itself counts as completed.
func (e *Engine) AllSiblingsCompleted(ctx context.Context, step *models.WorkflowActiveStep) (bool, error) {
	branch, err := step.Branch()
	if err != nil {
		return false, err
	}

	steps, err := e.persistence.InstanceRepository().Steps(ctx, step.InstanceID)
	if err != nil {
		return false, fmt.Errorf("failed to list steps: %w", err)
	}

	return forkSettled(steps, branch, step.ID), nil
}

// ParallelStatus lists step's siblings with their node label and, for approvals, the decision taken.
func (e *Engine) ParallelStatus(ctx context.Context, step *models.WorkflowActiveStep) ([]SiblingStatus, error) {
	instance, err := e.loadInstance(ctx, "ParallelStatus", step.InstanceID)
	if err != nil {
		return nil, err
	}

	graph, err := e.graphFor(ctx, "ParallelStatus", instance)
	if err != nil {
		return nil, err
	}

	steps, err := e.persistence.InstanceRepository().Steps(ctx, step.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	approvals, err := e.persistence.HistoryRepository().Approvals(ctx, step.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}

	return parallelStatus(graph, steps, approvals, step), nil
}

func parallelStatus(graph *GraphView, steps []*models.WorkflowActiveStep, approvals []*models.WorkflowApproval, step *models.WorkflowActiveStep) []SiblingStatus {
	decisions := make(map[string]string, len(approvals))
	for _, a := range approvals {
		decisions[a.ActiveStepID] = a.Decision
	}

	siblings := siblingsOf(steps, step)
	out := make([]SiblingStatus, 0, len(siblings))

	for _, s := range siblings {
		out = append(out, SiblingStatus{
			StepID:         s.ID,
			NodeID:         s.NodeID,
			NodeLabel:      graph.label(s.NodeID),
			BranchID:       s.BranchID,
			Status:         s.Status,
			AssignedUserID: s.AssignedUserID,
			Decision:       decisions[s.ID],
		})
	}

	return out
}

func siblingsOf(steps []*models.WorkflowActiveStep, step *models.WorkflowActiveStep) []*models.WorkflowActiveStep {
	branch, err := step.Branch()
	if err != nil || branch.IsRoot() {
		return nil
	}

	var out []*models.WorkflowActiveStep

	for _, s := range steps {
		other, err := s.Branch()
		if err != nil {
			continue
		}

		if branch.SiblingOf(other) {
			out = append(out, s)
		}
	}

	return out
}

// forkSettled reports whether no live step other than excludeStepID remains anywhere inside the
// fork that created branch.
func forkSettled(steps []*models.WorkflowActiveStep, branch models.BranchID, excludeStepID string) bool {
	if branch.IsRoot() {
		return true
	}

	for _, s := range steps {
		if s.ID == excludeStepID || !s.Live() {
			continue
		}

		other, err := s.Branch()
		if err != nil {
			continue
		}

		if withinFork(other, branch) {
			return false
		}
	}

	return true
}

// withinFork reports whether b, or one of its ancestors, was created by the same fork as member.
func withinFork(b, member models.BranchID) bool {
	for !b.IsRoot() {
		if b.ForkToken == member.ForkToken && b.Base == member.Base {
			return true
		}

		parent, err := b.Parent()
		if err != nil {
			return false
		}

		b = parent
	}

	return false
}
