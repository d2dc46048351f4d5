// Package persistence provides the storage abstraction for workflow templates, running instances
// and their audit trail.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/handoff/pkg/models"
)

type Persistence interface {
	TemplateRepository() TemplateRepository
	InstanceRepository() InstanceRepository
	AssignmentRepository() AssignmentRepository
	HistoryRepository() HistoryRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// TemplateRepository stores templates together with their live nodes and connections.
type TemplateRepository interface {
	// Save creates or replaces a template. Nodes and connections are replaced as a whole.
	Save(ctx context.Context, template *models.WorkflowTemplate) error
	GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	List(ctx context.Context) ([]*models.WorkflowTemplate, error)
	Delete(ctx context.Context, id string) error
}

// InstanceRepository stores instances and their active steps.
type InstanceRepository interface {
	// Create stores a new instance with its first steps and history rows in one atomic unit.
	Create(ctx context.Context, instance *models.WorkflowInstance, steps []*models.WorkflowActiveStep, history []*models.WorkflowHistory) error
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	ListByProject(ctx context.Context, projectID string) ([]*models.WorkflowInstance, error)
	Delete(ctx context.Context, id string) error

	// Steps returns every step of an instance, in activation order.
	Steps(ctx context.Context, instanceID string) ([]*models.WorkflowActiveStep, error)
	// Step returns a step of the given instance. A step belonging to another instance is not found.
	Step(ctx context.Context, instanceID, stepID string) (*models.WorkflowActiveStep, error)

	// CommitTransition applies a transition atomically. It fails with ErrStaleInstance when the
	// instance version differs from ExpectedUpdatedAt and with ErrStepAlreadyCompleted when a step
	// to complete was completed concurrently. Nothing is written on failure.
	CommitTransition(ctx context.Context, commit *TransitionCommit) error
}

type AssignmentRepository interface {
	// Assign is idempotent per (instance, node, user).
	Assign(ctx context.Context, assignment *models.WorkflowNodeAssignment) error
	Unassign(ctx context.Context, instanceID, nodeID, userID string) error
	ListByInstance(ctx context.Context, instanceID string) ([]*models.WorkflowNodeAssignment, error)
}

// HistoryRepository reads the append-only audit trail. Rows are written by the instance repository.
type HistoryRepository interface {
	// ListByInstance returns rows ordered by handed_off_at then sequence.
	ListByInstance(ctx context.Context, instanceID string) ([]*models.WorkflowHistory, error)
	Approvals(ctx context.Context, instanceID string) ([]*models.WorkflowApproval, error)
	FormResponses(ctx context.Context, instanceID string) ([]*models.FormResponse, error)
}

// TransitionCommit is everything a single transition writes.
type TransitionCommit struct {
	InstanceID        string
	ExpectedUpdatedAt time.Time
	UpdatedAt         time.Time
	Status            models.InstanceStatus
	CurrentNodeID     *string

	// CompleteStepIDs are marked completed at UpdatedAt, fenced on status <> 'completed'.
	CompleteStepIDs []string
	NewSteps        []*models.WorkflowActiveStep
	History         []*models.WorkflowHistory
	Approvals       []*models.WorkflowApproval
	FormResponses   []*models.FormResponse
}
