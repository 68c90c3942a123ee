/*
errors.go - Centralized error types for the allocation engine

ERROR CATEGORIES:
  1. Validation - rejected before touching storage, nothing persisted
  2. Not found - unknown farm, order, subscription or bucket
  3. Insufficient inventory - the core domain error, state unchanged
  4. Concurrency timeout - bucket lock not acquired in time, safe to retry
  5. Illegal state transition - approve/reject/cancel on a terminal record

USAGE:
  Structured errors unwrap to the sentinels, so callers can branch with
  errors.Is and still read details with errors.As:

    if errors.Is(err, dairy.ErrInsufficientInventory) {
        var ie *dairy.InsufficientInventoryError
        errors.As(err, &ie)
    }
*/
package dairy

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrInsufficientInventory  = errors.New("insufficient inventory")
	ErrConcurrencyTimeout     = errors.New("timed out waiting for bucket lock")
	ErrIllegalStateTransition = errors.New("illegal state transition")

	// ErrConcurrentModification is returned by a store when a conditional
	// status update finds the record no longer in the expected state.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Kind string // "farm", "order", "subscription", "bucket"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// SessionNotOfferedError is the purchase-path form of a missing bucket.
type SessionNotOfferedError struct {
	Key BucketKey
}

func (e *SessionNotOfferedError) Error() string {
	return fmt.Sprintf("session %s not offered by farm %s on %s", e.Key.Session, e.Key.FarmID, e.Key.Date)
}

func (e *SessionNotOfferedError) Unwrap() error { return ErrNotFound }

type InsufficientInventoryError struct {
	FarmID    FarmID
	Date      Date
	Session   Session
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for %s/%s/%s: available %s, requested %s",
		e.FarmID, e.Date, e.Session, e.Available, e.Requested)
}

func (e *InsufficientInventoryError) Unwrap() error { return ErrInsufficientInventory }

type ConcurrencyTimeoutError struct {
	Key    string
	Waited time.Duration
}

func (e *ConcurrencyTimeoutError) Error() string {
	return fmt.Sprintf("lock %s not acquired within %s", e.Key, e.Waited)
}

func (e *ConcurrencyTimeoutError) Unwrap() error { return ErrConcurrencyTimeout }

type IllegalStateTransitionError struct {
	Kind   string // "order" or "subscription"
	ID     string
	From   string
	Action string
}

func (e *IllegalStateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in status %s", e.Action, e.Kind, e.ID, e.From)
}

func (e *IllegalStateTransitionError) Unwrap() error { return ErrIllegalStateTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientInventory) ||
		errors.Is(err, ErrIllegalStateTransition)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
