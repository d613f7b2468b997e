package repository

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicateKey  = errors.New("duplicate key")
	ErrLockTimeout   = errors.New("lock wait timed out")
	ErrSerialization = errors.New("transaction could not be serialized")
)

// Unique and exclusion constraints the core relies on.
const (
	ConstraintBookingIdempotencyKey = "uq_booking_idempotency_key"
	ConstraintBookingSlot           = "uq_booking_slot"
	ConstraintPaymentIdempotencyKey = "uq_payment_idempotency_key"
	ConstraintPaymentSucceeded      = "uq_payment_consultation_succeeded"
	ConstraintSlotNoOverlap         = "ex_slot_no_overlap"
)

// DuplicateKeyError is a uniqueness or exclusion violation on a named constraint.
type DuplicateKeyError struct {
	Constraint string
	Err        error
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key violates %q", e.Constraint)
}

func (e *DuplicateKeyError) Unwrap() error { return e.Err }

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }

// ViolatedConstraint returns the constraint name of a DuplicateKeyError in
// err's chain, or "".
func ViolatedConstraint(err error) string {
	var dup *DuplicateKeyError
	if errors.As(err, &dup) {
		return dup.Constraint
	}
	return ""
}

// IsRetryable reports lock and serialization failures that a caller may
// retry with the same idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrSerialization)
}
