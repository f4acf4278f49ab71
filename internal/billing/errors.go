package billing

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound             = errors.New("billing: not found")
	ErrInvalidAmount        = errors.New("billing: invalid amount")
	ErrInvalidPaymentAmount = errors.New("billing: payment exceeds outstanding balance")
	ErrBalanceSyncFailure   = errors.New("billing: balance sync failure")
	ErrVersionConflict      = errors.New("billing: balance version conflict")
	ErrIdempotencyConflict  = errors.New("billing: request id reused with different parameters")
)

// BalanceSyncError means the transaction was stored but the member balance was not updated.
// Run a balance reconciliation rather than re-applying the delta.
type BalanceSyncError struct {
	MemberID      uuid.UUID
	TransactionID uuid.UUID
	Err           error
}

func (e *BalanceSyncError) Error() string {
	return fmt.Sprintf("billing: balance for member %s not updated after transaction %s: %v", e.MemberID, e.TransactionID, e.Err)
}

func (e *BalanceSyncError) Unwrap() []error {
	return []error{ErrBalanceSyncFailure, e.Err}
}

// ErrInvalidPaymentMethod is returned for a method outside the known set.
var ErrInvalidPaymentMethod = errors.New("billing: invalid payment method")
