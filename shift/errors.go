/*
errors.go - Centralized error types for the shift engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify errors with errors.Is against the sentinels; the
  structured types carry the field, record or conflict behind the failure.

ERROR CATEGORIES:
  1. Validation errors - Bad input, reported before any write
     (ErrValidation, ErrMissingField, ErrRange, ErrConservation)
  2. State errors - The record is not in the state the operation needs
     (ErrInvalidState, ErrReassignDeclined)
  3. Store errors - Missing rows and infrastructure failures
     (ErrNotFound, ErrTransient)

USAGE:
  if errors.Is(err, shift.ErrInvalidState) {
      // already closed by someone else
  }

  var conflict *shift.ConflictError
  if errors.As(err, &conflict) {
      // restore conflict.Existing.EmployeeID in the caller's view
  }

SEE ALSO:
  - allocation.go: Produces validation errors
  - committer.go: Produces state errors
  - api/handlers.go: Maps categories to HTTP status codes
*/
package shift

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for input that breaks a business rule.
	ErrValidation = errors.New("validation failed")

	// ErrMissingField is returned when a required value is absent.
	ErrMissingField = errors.New("missing required field")

	// ErrRange is returned when a value is outside its allowed range.
	ErrRange = errors.New("value out of range")

	// ErrConservation is returned when channel volumes exceed the dispensed total.
	ErrConservation = errors.New("allocated volume exceeds dispensed volume")

	// ErrInvalidState is returned when a record is not in the required state,
	// e.g. closing an assignment that is already closed.
	ErrInvalidState = errors.New("invalid state")

	// ErrReassignDeclined is returned when an occupied slot was not confirmed
	// for reassignment.
	ErrReassignDeclined = errors.New("reassignment not confirmed")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrTransient is returned for store failures that may succeed on retry.
	ErrTransient = errors.New("transient store failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError reports a validation failure on a named input field.
// Kind is one of ErrValidation, ErrMissingField, ErrRange, ErrConservation.
type FieldError struct {
	Kind    error
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return e.Kind }

func missingField(field, message string) error {
	return &FieldError{Kind: ErrMissingField, Field: field, Message: message}
}

func outOfRange(field, message string) error {
	return &FieldError{Kind: ErrRange, Field: field, Message: message}
}

func invalid(field, message string) error {
	return &FieldError{Kind: ErrValidation, Field: field, Message: message}
}

func conservation(message string) error {
	return &FieldError{Kind: ErrConservation, Message: message}
}

// NewValidationError builds a FieldError of kind ErrValidation.
func NewValidationError(field, message string) error { return invalid(field, message) }

// NewMissingFieldError builds a FieldError of kind ErrMissingField.
func NewMissingFieldError(field, message string) error { return missingField(field, message) }

// NewRangeError builds a FieldError of kind ErrRange.
func NewRangeError(field, message string) error { return outOfRange(field, message) }

// InvalidStateError reports a record that is not in the expected state.
type InvalidStateError struct {
	Entity  string
	ID      int64
	State   string
	Message string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %d is %s: %s", e.Entity, e.ID, e.State, e.Message)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// PredecessorError reports that the previous shift in sequence on the same
// nozzle and date is still open.
type PredecessorError struct {
	Warning string
	Open    Assignment
}

func (e *PredecessorError) Error() string { return e.Warning }

func (e *PredecessorError) Unwrap() error { return ErrInvalidState }

// Conflict describes an occupied slot met by an assignment request.
type Conflict struct {
	Existing  Assignment
	Closed    bool
	Requested AssignRequest
}

// ConflictError is returned when a reassignment was declined. Existing holds
// the assignment that stays in force so the caller can restore its view.
type ConflictError struct {
	Conflict
}

func (e *ConflictError) Error() string {
	status := "open"
	if e.Closed {
		status = "closed"
	}
	return fmt.Sprintf("slot already assigned to employee %d (%s assignment %d)",
		e.Existing.EmployeeID, status, e.Existing.ID)
}

func (e *ConflictError) Unwrap() error { return ErrReassignDeclined }

// NotFoundError reports a missing record.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TransientError wraps an infrastructure failure from the store.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// Transient wraps err as a TransientError. Nil stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsValidation returns true for any input validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrRange) ||
		errors.Is(err, ErrConservation)
}

// IsConflict returns true when the record state blocks the operation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrReassignDeclined)
}

// IsClientError returns true if the error is due to invalid client input
// or client-visible record state.
func IsClientError(err error) bool {
	return IsValidation(err) || IsConflict(err)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
