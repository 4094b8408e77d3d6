package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the parent of every synchronous rejection that leaves state untouched.
	ErrValidation = errors.New("validation failed")
	// ErrConflict means a concurrent mutation won the race; callers retry with the same key.
	ErrConflict = errors.New("conflict")
	// ErrNotFound is a soft miss for attribution and commission lookups.
	ErrNotFound = errors.New("resource not found")
	// ErrInvariantViolation halts a ledger apply. It is never corrected automatically.
	ErrInvariantViolation = errors.New("ledger invariant violation")
	// ErrDuplicateEvent is the idempotency short-circuit. Callers return the prior result.
	ErrDuplicateEvent = errors.New("duplicate event")

	ErrInvalidInput        = fmt.Errorf("%w: invalid input", ErrValidation)
	ErrBelowMinimum        = fmt.Errorf("%w: amount below minimum withdrawal", ErrValidation)
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient available balance", ErrValidation)
	ErrInvalidTier         = fmt.Errorf("%w: unknown tier", ErrValidation)
	ErrInvalidTransition   = fmt.Errorf("%w: invalid status transition", ErrConflict)
	ErrIdempotencyConflict = fmt.Errorf("%w: idempotency key reused with different payload", ErrConflict)

	ErrCodeSpaceExhausted   = errors.New("referral code space exhausted")
	ErrAffiliateInactive    = errors.New("affiliate is not active")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrIdempotencyRequired  = errors.New("idempotency key required")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrInvalidEnvelope      = errors.New("invalid event envelope")
	ErrUnsupportedEventType = errors.New("unsupported event type")
)

// InvariantViolationError carries the full context of a refused ledger apply.
type InvariantViolationError struct {
	AffiliateID string
	EventKey    string
	Kind        string
	Amount      string
	Cached      Balances
	Projected   Balances
	Detail      string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("ledger invariant violation: affiliate=%s event=%s kind=%s amount=%s: %s",
		e.AffiliateID, e.EventKey, e.Kind, e.Amount, e.Detail)
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }
