// Package services implements the persistence layer: job lifecycle with
// idempotency, plan policy and usage counters, tenant bootstrap, billing
// audit, retention queries and account deletion.
package services

import (
	"errors"
	"fmt"

	"github.com/contentforge/contentforge/pkg/models"
)

var (
	// ErrNotFound is returned when an entity does not exist or the viewer
	// does not own it.
	ErrNotFound = errors.New("entity not found")

	// ErrForbidden is returned when the viewer may not act on the entity.
	ErrForbidden = errors.New("operation not permitted")

	// ErrNotCancellable is returned when cancelling a job already in a
	// terminal state.
	ErrNotCancellable = errors.New("job is not in a cancellable state")

	// ErrIllegalTransition is returned on a state-machine violation.
	// Terminal states are sinks; the row is never mutated.
	ErrIllegalTransition = errors.New("illegal job status transition")
)

// ValidationError wraps field-specific validation failures.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %q: %s", e.Field, e.Message)
}

// NewValidationError creates a field-level validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// JobInFlightError is returned on an idempotency collision with a job that
// has not reached a terminal state yet. Handlers surface it as 409 with the
// prior job's id and status.
type JobInFlightError struct {
	JobID  string
	Status models.JobStatus
}

func (e *JobInFlightError) Error() string {
	return fmt.Sprintf("job %s already in flight with status %s", e.JobID, e.Status)
}

// PlanLimitError is returned when a quota-bearing operation exceeds the
// tier's monthly cap, or the tier forbids the kind outright (Limit == 0).
type PlanLimitError struct {
	Kind  models.ContentKind
	Used  int
	Limit int
}

func (e *PlanLimitError) Error() string {
	if e.Limit == 0 {
		return fmt.Sprintf("content type %s is not available on this plan", e.Kind)
	}
	return fmt.Sprintf("monthly %s limit reached (%d/%d)", e.Kind, e.Used, e.Limit)
}
