package models

import "time"

// WorkflowApproval records one approval decision.
type WorkflowApproval struct {
	ID           string    `json:"id"`
	InstanceID   string    `json:"instance_id"`
	NodeID       string    `json:"node_id"`
	ActiveStepID string    `json:"active_step_id"`
	BranchID     string    `json:"branch_id"`
	Decision     string    `json:"decision"`
	Feedback     string    `json:"feedback,omitempty"`
	DecidedBy    string    `json:"decided_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// FormResponse is the payload captured when a form step is submitted.
type FormResponse struct {
	ID           string         `json:"id"`
	InstanceID   string         `json:"instance_id"`
	NodeID       string         `json:"node_id"`
	ActiveStepID string         `json:"active_step_id"`
	SubmittedBy  string         `json:"submitted_by"`
	Data         map[string]any `json:"data"`
	CreatedAt    time.Time      `json:"created_at"`
}

// WorkflowHistory is one append-only handoff record. Rows are ordered by HandedOffAt then
// Sequence.
type WorkflowHistory struct {
	ID             string         `json:"id"`
	InstanceID     string         `json:"instance_id"`
	FromNodeID     string         `json:"from_node_id"`
	ToNodeID       *string        `json:"to_node_id,omitempty"`
	HandedOffAt    time.Time      `json:"handed_off_at"`
	Notes          string         `json:"notes,omitempty"`
	FormData       map[string]any `json:"form_data,omitempty"`
	FormResponseID *string        `json:"form_response_id,omitempty"`
	ActorID        string         `json:"actor_id"`
	Sequence       int64          `json:"sequence"`
}
