// Package eventbus publishes and consumes workflow instance events.
package eventbus

import (
	"context"

	"github.com/dukex/handoff/pkg/events"
)

// Event is anything the engine announces after a committed transition.
type Event interface {
	GetType() events.EventType
}

// EventPublisher is the only part of the bus the engine depends on.
type EventPublisher interface {
	// Publish sends event keyed by key; events sharing a key keep their order.
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event struct, e.g. *events.SyncReleased.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
