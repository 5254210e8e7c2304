// Package apperrors provides the typed error taxonomy for the job
// lifecycle. Callers classify errors with errors.Is against the sentinels;
// the HTTP layer maps each class to a status code.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	// ErrValidation: malformed or out-of-range request. No job row exists.
	ErrValidation = errors.New("validation error")
	// ErrSubmission: the engine rejected or was unreachable during submit.
	// The job row persists as failed for audit.
	ErrSubmission = errors.New("submission error")
	// ErrTransientPoll: a single status call failed. Never surfaces to
	// callers; polling continues.
	ErrTransientPoll = errors.New("transient poll error")
	// ErrMaterialization: result fetch/parse failed after the engine
	// reported completion. The job transitions to failed.
	ErrMaterialization = errors.New("materialization error")
	// ErrNotFound: the referenced job or track does not exist.
	ErrNotFound = errors.New("not found")
)

// Error carries the sentinel plus context about what failed.
type Error struct {
	Sentinel error
	Message  string
	Field    string // set for validation errors
	Resource string // set for not found errors
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the sentinel so errors.Is can classify the error.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific request field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// Submission wraps an engine submit failure.
func Submission(message string, cause error) error {
	return &Error{
		Sentinel: ErrSubmission,
		Message:  message,
		Cause:    cause,
	}
}

// TransientPoll wraps a single failed status call. It is recorded on the
// job's message and never surfaced to callers.
func TransientPoll(cause error) error {
	return &Error{
		Sentinel: ErrTransientPoll,
		Message:  "polling error",
		Cause:    cause,
	}
}

// Materialization wraps a result fetch/parse failure.
func Materialization(message string, cause error) error {
	return &Error{
		Sentinel: ErrMaterialization,
		Message:  message,
		Cause:    cause,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}
