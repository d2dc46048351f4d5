// Package web provides HTTP request and response types for the handoff API.
package web

import (
	"time"

	"github.com/dukex/handoff/pkg/models"
)

// UserHeader carries the id of the acting user. Authentication happens in front of the API.
const UserHeader = "X-User-ID"

// StartInstanceRequest represents the request body for starting an instance.
type StartInstanceRequest struct {
	TemplateID        string            `json:"template_id"                  validate:"required"`
	ProjectID         string            `json:"project_id"                   validate:"required"`
	AssignedUserID    string            `json:"assigned_user_id,omitempty"`
	BranchAssignments map[string]string `json:"branch_assignments,omitempty"`
}

// ProgressRequest represents the request body for acting on a step. ExpectedUpdatedAt is the
// updated_at value the client loaded the instance with.
type ProgressRequest struct {
	ActiveStepID      string            `json:"active_step_id"               validate:"required"`
	ExpectedUpdatedAt time.Time         `json:"expected_updated_at"          validate:"required"`
	Decision          string            `json:"decision,omitempty"`
	Feedback          string            `json:"feedback,omitempty"`
	FormData          map[string]any    `json:"form_data,omitempty"`
	AssignedUserID    string            `json:"assigned_user_id,omitempty"`
	BranchAssignments map[string]string `json:"branch_assignments,omitempty"`
}

// CancelInstanceRequest represents the request body for cancelling an instance.
type CancelInstanceRequest struct {
	ExpectedUpdatedAt time.Time `json:"expected_updated_at" validate:"required"`
	Reason            string    `json:"reason,omitempty"    validate:"max=500"`
}

// AssignmentRequest represents the request body for pipeline assignments.
type AssignmentRequest struct {
	NodeID string `json:"node_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
}

// InstanceDetail is an instance with its steps.
type InstanceDetail struct {
	*models.WorkflowInstance

	Steps []*models.WorkflowActiveStep `json:"steps"`
}
