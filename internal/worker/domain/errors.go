package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job id does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the job's current status
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrStoreUnavailable wraps every storage failure; a worker pass that
	// sees it stops claiming and aborts
	ErrStoreUnavailable = errors.New("job store unavailable")

	// ErrUnknownType is returned when no handler is registered for a job type
	ErrUnknownType = errors.New("unknown job type")
)

// ValidationError is a permanent failure: retrying the job cannot succeed.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %v", e.Reason, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(reason string, err error) error {
	return &ValidationError{Reason: reason, Err: err}
}

// TransientError wraps failures that may succeed on a later attempt
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError creates a new transient error
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// IsValidation reports whether err carries a ValidationError and returns its reason.
func IsValidation(err error) (string, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Reason, true
	}
	return "", false
}
