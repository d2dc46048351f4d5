package models

import "time"

type InstanceStatus string

const (
	InstanceStatusActive    InstanceStatus = "active"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// Terminal reports whether no further transitions are accepted.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusCancelled
}

// Snapshot is the frozen copy of a template graph taken when an instance starts.
type Snapshot struct {
	TemplateName string                `json:"template_name"`
	Nodes        []*WorkflowNode       `json:"nodes"`
	Connections  []*WorkflowConnection `json:"connections"`
}

// WorkflowInstance is a running execution of a template bound to a project. UpdatedAt is the
// version stamp used for optimistic concurrency.
type WorkflowInstance struct {
	ID              string         `json:"id"`
	TemplateID      string         `json:"template_id"`
	ProjectID       string         `json:"project_id"`
	CurrentNodeID   *string        `json:"current_node_id,omitempty"`
	Status          InstanceStatus `json:"status"`
	StartedSnapshot *Snapshot      `json:"started_snapshot,omitempty"`
	StartedBy       string         `json:"started_by,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type StepStatus string

const (
	StepStatusActive    StepStatus = "active"
	StepStatusCompleted StepStatus = "completed"
	StepStatusWaiting   StepStatus = "waiting"
)

// WorkflowActiveStep is a position of an instance on one branch.
type WorkflowActiveStep struct {
	ID             string     `json:"id"`
	InstanceID     string     `json:"instance_id"`
	NodeID         string     `json:"node_id"`
	BranchID       string     `json:"branch_id"`
	Status         StepStatus `json:"status"`
	AssignedUserID *string    `json:"assigned_user_id,omitempty"`
	ActivatedAt    time.Time  `json:"activated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Live reports whether the step still awaits an actor.
func (s *WorkflowActiveStep) Live() bool {
	return s.Status == StepStatusActive || s.Status == StepStatusWaiting
}

// Branch parses the step's branch id.
func (s *WorkflowActiveStep) Branch() (BranchID, error) {
	return ParseBranchID(s.BranchID)
}

// WorkflowNodeAssignment pre-assigns a user to a node of an instance.
type WorkflowNodeAssignment struct {
	InstanceID string    `json:"instance_id"`
	NodeID     string    `json:"node_id"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
}
