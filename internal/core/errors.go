package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a job failure.
type ErrorKind string

const (
	// KindValidation is a missing or malformed request input.
	KindValidation ErrorKind = "validation"
	// KindResource is a workspace or filesystem failure.
	KindResource ErrorKind = "resource"
	// KindEngineFailure is an engine that failed or produced no usable result.
	KindEngineFailure ErrorKind = "engine_failure"
	// KindTimeout is an engine that exceeded its allotted time.
	KindTimeout ErrorKind = "timeout"
)

// Sentinels for errors.Is matching against a JobError's kind.
var (
	ErrValidation    = errors.New("validation error")
	ErrResource      = errors.New("resource error")
	ErrEngineFailure = errors.New("engine failure")
	ErrTimeout       = errors.New("timeout")
)

// JobError is the error type every pipeline failure is mapped to before it
// reaches the caller.
type JobError struct {
	Kind    ErrorKind
	Message string
	// Details carries engine diagnostic text, e.g. captured stderr.
	Details string
	Cause   error
}

func (e *JobError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *JobError) Unwrap() error {
	return e.Cause
}

// Is matches the kind sentinels.
func (e *JobError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrResource:
		return e.Kind == KindResource
	case ErrEngineFailure:
		return e.Kind == KindEngineFailure
	case ErrTimeout:
		return e.Kind == KindTimeout
	default:
		return false
	}
}

// HTTPStatus maps the kind to a response status. Only validation failures are
// the caller's to fix.
func (e *JobError) HTTPStatus() int {
	if e.Kind == KindValidation {
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

// NewValidationError creates a KindValidation error.
func NewValidationError(message string) *JobError {
	return &JobError{Kind: KindValidation, Message: message}
}

// NewResourceError creates a KindResource error wrapping cause.
func NewResourceError(message string, cause error) *JobError {
	return &JobError{Kind: KindResource, Message: message, Cause: cause}
}

// NewEngineFailure creates a KindEngineFailure error with diagnostic details.
func NewEngineFailure(message, details string, cause error) *JobError {
	return &JobError{Kind: KindEngineFailure, Message: message, Details: details, Cause: cause}
}

// NewTimeoutError creates a KindTimeout error wrapping cause.
func NewTimeoutError(message string, cause error) *JobError {
	return &JobError{Kind: KindTimeout, Message: message, Cause: cause}
}

// AsJobError unwraps err to a *JobError if one is in the chain.
func AsJobError(err error) (*JobError, bool) {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr, true
	}

	return nil, false
}
