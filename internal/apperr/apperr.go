// Package apperr defines the error taxonomy shared by all engines.
//
// Four categories matter at the engine boundary:
//   - ValidationError: malformed input, rejected immediately, never retried.
//   - TransientError:  backend/network trouble, safe to retry with backoff.
//   - QuotaExceededError: policy rejection, never retried.
//   - ConflictError: the state already holds (decision already active, match
//     already created); engines absorb these as idempotent success.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError marks input the caller must fix before retrying.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validation builds a ValidationError for the given field.
func Validation(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// TransientError wraps a failure that is expected to clear on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable, tagged with the failing operation.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// QuotaExceededError is a policy rejection, distinct from transient failure.
type QuotaExceededError struct {
	UserID  uint64
	Action  string
	Limit   int
	ResetAt time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for user %d action %q: limit %d, resets %s",
		e.UserID, e.Action, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// ConflictError reports that the requested state already exists.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// Conflict builds a ConflictError.
func Conflict(msg string) error { return &ConflictError{Msg: msg} }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsQuotaExceeded reports whether err is (or wraps) a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
