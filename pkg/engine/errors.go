// Package engine provides the durable execution runtime shared by aggregates
// and workflows: classified errors, the per-identity lock, the event-sourced
// command pipeline, and the step workflow driver.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error for callers that need to decide how to react.
type ErrorClass string

const (
	// ErrorClassConflict indicates the command contradicts current state.
	// Examples: a checked-out cart, a cycle already running, a stale version.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a request that will never succeed as is.
	// Examples: invalid input, missing instance.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassTransient indicates a storage or infrastructure failure.
	ErrorClassTransient ErrorClass = "transient"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message shown to callers.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Reason narrows Code to one domain rejection, e.g. INVALID_TEMPERATURE.
	Reason string `json:"reason,omitempty"`

	// Resource is the identity the error concerns, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the command being handled when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches on class, code and reason so package sentinels work with
// errors.Is even after context has been attached to a copy. A target without
// a reason matches every reason of its class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if e.Class != t.Class || e.Code != t.Code {
		return false
	}
	return t.Reason == "" || e.Reason == t.Reason
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Code:    ErrCodeConflict,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates a permanent error tagged VALIDATION_ERROR.
func NewValidationError(message string) *EngineError {
	return NewPermanentError(message, nil).WithCode(ErrCodeValidation)
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Code:    ErrCodeInternal,
		Err:     err,
	}
}

// Clone returns a shallow copy so sentinels can be decorated without being mutated.
func (e *EngineError) Clone() *EngineError {
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithReason tags the error with a domain-specific reason.
func (e *EngineError) WithReason(reason string) *EngineError {
	e.Reason = reason
	return e
}

// WithMessage replaces the human-readable message.
func (e *EngineError) WithMessage(message string) *EngineError {
	e.Message = message
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsValidation returns true for permanent errors tagged VALIDATION_ERROR.
func IsValidation(err error) bool {
	return CodeOf(err) == ErrCodeValidation
}

// IsNotFound returns true for errors tagged NOT_FOUND.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// CodeOf returns the code of the first EngineError in the chain.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// MessageOf returns the caller-facing message of the first EngineError in the
// chain, or err.Error() for unclassified errors.
func MessageOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Common error codes.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternal      = "INTERNAL_ERROR"
)
