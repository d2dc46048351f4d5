package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. Every error returned by the engine matches exactly one of them with errors.Is.
var (
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("conflict")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrAmbiguousRouting = errors.New("ambiguous routing")
	ErrTemplateInvalid  = errors.New("template invalid")
)

// FieldError is one problem with one submitted field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field problem of a rejected action.
type ValidationError struct {
	Op      string
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}

	return fmt.Sprintf("%s: %s: %s", e.Op, e.Message, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(op, message string, fields ...FieldError) *ValidationError {
	return &ValidationError{Op: op, Message: message, Fields: fields}
}

// ConflictError reports a lost race or an action against a finished instance or step.
type ConflictError struct {
	Op         string
	InstanceID string
	Message    string
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: instance %s: %s", e.Op, e.InstanceID, e.Message)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type PermissionError struct {
	Op     string
	UserID string
	Reason AccessReason

	// Pipeline is set when the user is assigned to a later step of the instance.
	Pipeline         bool
	PipelineStepName string
}

func (e *PermissionError) Error() string {
	if e.Pipeline {
		return fmt.Sprintf("%s: user %s cannot act yet, assigned to upcoming step %q", e.Op, e.UserID, e.PipelineStepName)
	}

	return fmt.Sprintf("%s: user %s cannot act on this step (%s)", e.Op, e.UserID, e.Reason)
}

func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

type NotFoundError struct {
	Op       string
	Resource string
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %s not found", e.Op, e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// AmbiguousRoutingError reports an approval decision claimed by more than one outgoing edge.
type AmbiguousRoutingError struct {
	NodeID        string
	Decision      string
	TargetNodeIDs []string
}

func (e *AmbiguousRoutingError) Error() string {
	return fmt.Sprintf("decision %q on node %s matches %d edges (%s)", e.Decision, e.NodeID, len(e.TargetNodeIDs), strings.Join(e.TargetNodeIDs, ", "))
}

func (e *AmbiguousRoutingError) Is(target error) bool {
	return target == ErrAmbiguousRouting
}

// TemplateInvalidError lists structural problems of a template graph.
type TemplateInvalidError struct {
	TemplateID string
	Problems   []string
}

func (e *TemplateInvalidError) Error() string {
	return fmt.Sprintf("template %s is invalid: %s", e.TemplateID, strings.Join(e.Problems, "; "))
}

func (e *TemplateInvalidError) Is(target error) bool {
	return target == ErrTemplateInvalid
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsPermissionError(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAmbiguousRoutingError(err error) bool {
	return errors.Is(err, ErrAmbiguousRouting)
}

func IsTemplateInvalidError(err error) bool {
	return errors.Is(err, ErrTemplateInvalid)
}
