// Package services holds the template and assignment use cases behind the HTTP API and CLI.
package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrTemplateNil          = errors.New("template cannot be nil")
	ErrTemplateInvalid      = errors.New("template is invalid")
	ErrAssignmentIncomplete = errors.New("assignment requires instance, node and user")
	ErrUnknownNode          = errors.New("node does not exist in the instance graph")
	ErrNotEligible          = errors.New("user is not eligible for the node")

	ErrInstanceClosed = errors.New("instance is no longer active")
)

// validationErrors are caller mistakes; the web layer answers them with 400.
var validationErrors = []error{
	ErrInvalidRequest,
	ErrTemplateNil,
	ErrTemplateInvalid,
	ErrAssignmentIncomplete,
	ErrUnknownNode,
	ErrNotEligible,
}

// ServiceError adds the operation and a stable code to a sentinel.
type ServiceError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return e.Op + ": " + e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func IsValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

func IsConflictError(err error) bool {
	return errors.Is(err, ErrInstanceClosed)
}

func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{Op: op, Code: code, Message: message, Err: err}
}

func NewConflictError(op, message string) *ServiceError {
	return &ServiceError{Op: op, Code: "INSTANCE_CLOSED", Message: message, Err: ErrInstanceClosed}
}
