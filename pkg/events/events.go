// Package events defines the domain events published when workflow instances move.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every workflow instance event.
const Topic = "handoff.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	InstanceStartedEvent   EventType = "instance.started"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceCancelledEvent EventType = "instance.cancelled"

	StepActivatedEvent  EventType = "step.activated"
	BranchesForkedEvent EventType = "branches.forked"
	SyncReleasedEvent   EventType = "sync.released"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	InstanceID string    `json:"instance_id"`
	ProjectID  string    `json:"project_id"`
	ActorID    string    `json:"actor_id,omitempty"`
}

func NewBaseEvent(eventType EventType, instanceID, projectID, actorID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		InstanceID: instanceID,
		ProjectID:  projectID,
		ActorID:    actorID,
	}
}

type InstanceStarted struct {
	BaseEvent

	TemplateID   string `json:"template_id"`
	TemplateName string `json:"template_name"`
}

func (e InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

type InstanceCompleted struct {
	BaseEvent

	EndNodeID string `json:"end_node_id"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceCancelled struct {
	BaseEvent
}

func (e InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}

// StepActivated announces a step that now awaits an actor.
type StepActivated struct {
	BaseEvent

	StepID         string  `json:"step_id"`
	NodeID         string  `json:"node_id"`
	NodeLabel      string  `json:"node_label"`
	BranchID       string  `json:"branch_id"`
	AssignedUserID *string `json:"assigned_user_id,omitempty"`
}

func (e StepActivated) GetType() EventType {
	return StepActivatedEvent
}

type BranchesForked struct {
	BaseEvent

	FromNodeID string   `json:"from_node_id"`
	ForkToken  string   `json:"fork_token"`
	BranchIDs  []string `json:"branch_ids"`
}

func (e BranchesForked) GetType() EventType {
	return BranchesForkedEvent
}

// SyncReleased is published when the last parallel branch reaches its sync node.
type SyncReleased struct {
	BaseEvent

	SyncNodeID string `json:"sync_node_id"`
	ForkToken  string `json:"fork_token"`
	BranchID   string `json:"branch_id"`
}

func (e SyncReleased) GetType() EventType {
	return SyncReleasedEvent
}
