package engine

import (
	"fmt"

	"github.com/dukex/handoff/pkg/models"
	"github.com/qmuntal/stateless"
)

type lifecycleTrigger string

const (
	triggerComplete lifecycleTrigger = "complete"
	triggerCancel   lifecycleTrigger = "cancel"
)

// newStepMachine covers stored waiting steps too; they complete like active ones.
func newStepMachine(status models.StepStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(status)

	sm.Configure(models.StepStatusWaiting).
		Permit(triggerComplete, models.StepStatusCompleted)

	sm.Configure(models.StepStatusActive).
		Permit(triggerComplete, models.StepStatusCompleted)

	sm.Configure(models.StepStatusCompleted)

	return sm
}

func newInstanceMachine(status models.InstanceStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(status)

	sm.Configure(models.InstanceStatusActive).
		Permit(triggerComplete, models.InstanceStatusCompleted).
		Permit(triggerCancel, models.InstanceStatusCancelled)

	sm.Configure(models.InstanceStatusCompleted)
	sm.Configure(models.InstanceStatusCancelled)

	return sm
}

// advanceStep returns the status a step moves to on trigger, or an error when the move is not
// allowed from its current status.
func advanceStep(status models.StepStatus, trigger lifecycleTrigger) (models.StepStatus, error) {
	sm := newStepMachine(status)
	if err := sm.Fire(trigger); err != nil {
		return status, fmt.Errorf("step is %s: %w", status, err)
	}

	next, ok := sm.MustState().(models.StepStatus)
	if !ok {
		return status, fmt.Errorf("unexpected step state %v", sm.MustState())
	}

	return next, nil
}

func advanceInstance(status models.InstanceStatus, trigger lifecycleTrigger) (models.InstanceStatus, error) {
	sm := newInstanceMachine(status)
	if err := sm.Fire(trigger); err != nil {
		return status, fmt.Errorf("instance is %s: %w", status, err)
	}

	next, ok := sm.MustState().(models.InstanceStatus)
	if !ok {
		return status, fmt.Errorf("unexpected instance state %v", sm.MustState())
	}

	return next, nil
}
