// internal/billing/domain.go
package billing

import (
	"time"

	"github.com/google/uuid"

	"gymledger/pkg/money"
)

type TransactionType string

const (
	TypePayment TransactionType = "payment"
	TypeRefund  TransactionType = "refund"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCard         PaymentMethod = "card"
	MethodUPI          PaymentMethod = "upi"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodOnline       PaymentMethod = "online"
	MethodOther        PaymentMethod = "other"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodUPI, MethodBankTransfer, MethodOnline, MethodOther:
		return true
	}
	return false
}

// Transaction is an immutable ledger entry. Corrections are new transactions.
type Transaction struct {
	ID            uuid.UUID         `json:"id" db:"id"`
	MemberID      uuid.UUID         `json:"member_id" db:"member_id"`
	MembershipID  *uuid.UUID        `json:"membership_id,omitempty" db:"membership_id"`
	Amount        money.Money       `json:"amount" db:"amount"`
	Type          TransactionType   `json:"type" db:"type"`
	PaymentMethod PaymentMethod     `json:"payment_method" db:"payment_method"`
	Status        TransactionStatus `json:"status" db:"status"`
	RequestID     *string           `json:"request_id,omitempty" db:"request_id"`
	RequestHash   *string           `json:"-" db:"request_hash"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`

	// Replayed marks a transaction returned for a retried request id rather than newly booked.
	Replayed bool `json:"replayed,omitempty" db:"-"`
}

// Balance is a member's owed amount together with its optimistic-lock version.
type Balance struct {
	MemberID uuid.UUID   `json:"member_id" db:"id"`
	Amount   money.Money `json:"balance" db:"balance"`
	Version  int         `json:"version" db:"version"`
}

// TransactionFilter narrows ListTransactions. Zero fields do not filter.
// Results are always ordered oldest first.
type TransactionFilter struct {
	MemberID      *uuid.UUID
	MembershipID  *uuid.UUID
	Type          TransactionType
	Status        TransactionStatus
	CreatedBefore *time.Time
}

// PaymentRequest pays down a member's outstanding balance.
type PaymentRequest struct {
	MemberID     uuid.UUID
	MembershipID *uuid.UUID
	Amount       money.Money
	Method       PaymentMethod
	RequestID    string
}

// RenewalCharge is what a renewal asks the ledger to book: the amount collected now and the
// balance the renewal leaves owing.
type RenewalCharge struct {
	MemberID         uuid.UUID
	MembershipID     uuid.UUID
	Amount           money.Money
	ResultingBalance money.Money
	Method           PaymentMethod
	RequestID        string
	RequestHash      string
}

// Reconciliation reports a balance recomputed from first principles.
type Reconciliation struct {
	MemberID   uuid.UUID   `json:"member_id"`
	Charges    money.Money `json:"charges"`
	Paid       money.Money `json:"paid"`
	Refunded   money.Money `json:"refunded"`
	Previous   money.Money `json:"previous"`
	Reconciled money.Money `json:"reconciled"`
}

// PaymentRecordedEvent is journaled against the member for every completed payment.
type PaymentRecordedEvent struct {
	TransactionID uuid.UUID     `json:"transaction_id"`
	MembershipID  *uuid.UUID    `json:"membership_id,omitempty"`
	Amount        money.Money   `json:"amount"`
	Method        PaymentMethod `json:"method"`
	BalanceAfter  money.Money   `json:"balance_after"`
}

// BalanceReconciledEvent is journaled when reconciliation changed the stored balance.
type BalanceReconciledEvent struct {
	Previous   money.Money `json:"previous"`
	Reconciled money.Money `json:"reconciled"`
}
