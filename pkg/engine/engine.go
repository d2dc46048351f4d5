// Package engine drives workflow instances through their template graph: it starts instances from
// a frozen snapshot, decides who may act on a step, applies approval decisions and form
// submissions, forks and synchronizes parallel branches, and records every hand-off.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/handoff/pkg/directory"
	"github.com/dukex/handoff/pkg/eventbus"
	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type Engine struct {
	persistence persistence.Persistence
	directory   directory.Directory
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

type Option func(*Engine)

// WithPublisher publishes instance events after every committed transition.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(p persistence.Persistence, dir directory.Directory, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		persistence: p,
		directory:   dir,
		logger:      logger,
		tracer:      noop.NewTracerProvider().Tracer("handoff/engine"),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Directory returns the permission lookup the engine was built with.
func (e *Engine) Directory() directory.Directory {
	return e.directory
}

func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// nextVersion returns a version stamp strictly after the previous one, even when the clock has
// not moved.
func (e *Engine) nextVersion(previous time.Time) time.Time {
	now := e.clock()
	if !now.After(previous) {
		return previous.Add(time.Microsecond)
	}

	return now
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

func (e *Engine) publish(ctx context.Context, instance *models.WorkflowInstance, evts ...eventbus.Event) {
	if e.publisher == nil {
		return
	}

	for _, event := range evts {
		if err := e.publisher.Publish(ctx, instance.ID, event); err != nil {
			e.logger.ErrorContext(ctx, "Failed to publish event",
				"instance_id", instance.ID,
				"event_type", event.GetType(),
				"error", err)
		}
	}
}

// loadInstance maps a missing instance to a NotFoundError.
func (e *Engine) loadInstance(ctx context.Context, op, instanceID string) (*models.WorkflowInstance, error) {
	instance, err := e.persistence.InstanceRepository().GetByID(ctx, instanceID)
	if err != nil {
		if persistence.IsInstanceNotFound(err) {
			return nil, &NotFoundError{Op: op, Resource: "instance", ID: instanceID, Err: err}
		}

		return nil, err
	}

	return instance, nil
}

func (e *Engine) loadStep(ctx context.Context, op, instanceID, stepID string) (*models.WorkflowActiveStep, error) {
	step, err := e.persistence.InstanceRepository().Step(ctx, instanceID, stepID)
	if err != nil {
		if persistence.IsStepNotFound(err) {
			return nil, &NotFoundError{Op: op, Resource: "active step", ID: stepID, Err: err}
		}

		return nil, err
	}

	return step, nil
}
