// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrTemplateNotFound indicates a template was not found by the given identifier.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrInstanceNotFound indicates an instance was not found by the given identifier.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrStepNotFound indicates an active step was not found within the instance.
	ErrStepNotFound = errors.New("active step not found")

	// ErrStaleInstance indicates the instance changed since the caller read it.
	ErrStaleInstance = errors.New("instance was modified concurrently")

	// ErrStepAlreadyCompleted indicates the step was completed by someone else.
	ErrStepAlreadyCompleted = errors.New("step already completed")

	ErrInvalidID = errors.New("invalid identifier")
)

// TemplateError wraps template-related errors with additional context.
type TemplateError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	TemplateID string
	Err        error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("%s operation failed for template %s: %v", e.Op, e.TemplateID, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for template errors.
func (e *TemplateError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewTemplateError creates a new template error with context.
func NewTemplateError(op, templateID string, err error) *TemplateError {
	return &TemplateError{Op: op, TemplateID: templateID, Err: err}
}

// InstanceError wraps instance and step errors with additional context.
type InstanceError struct {
	Op         string
	InstanceID string
	StepID     string // Step ID if applicable
	Err        error
}

func (e *InstanceError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s operation failed for step %s of instance %s: %v", e.Op, e.StepID, e.InstanceID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{Op: op, InstanceID: instanceID, Err: err}
}

// NewStepError creates a new instance error scoped to one step.
func NewStepError(op, instanceID, stepID string, err error) *InstanceError {
	return &InstanceError{Op: op, InstanceID: instanceID, StepID: stepID, Err: err}
}

func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

func IsStepNotFound(err error) bool {
	return errors.Is(err, ErrStepNotFound)
}

// IsConflict reports whether the error is a lost optimistic concurrency race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStaleInstance) || errors.Is(err, ErrStepAlreadyCompleted)
}
