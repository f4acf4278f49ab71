// internal/billing/service.go
package billing

import (
	"context"

	"github.com/google/uuid"

	"gymledger/pkg/money"
)

// Service defines the interface for the billing ledger.
type Service interface {
	RecordPayment(ctx context.Context, req PaymentRequest) (*Transaction, error)
	RecordRenewalPayment(ctx context.Context, charge RenewalCharge) (*Transaction, error)
	PayOutstandingBalance(ctx context.Context, req PaymentRequest) (*Transaction, error)
	ReconcileBalance(ctx context.Context, memberID uuid.UUID, charges money.Money) (*Reconciliation, error)
	GetBalance(ctx context.Context, memberID uuid.UUID) (*Balance, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	FindByRequestID(ctx context.Context, requestID string) (*Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*Transaction, error)
}

// Store persists transactions and member balances.
// InsertTransaction must fail with ErrIdempotencyConflict when request_id already exists.
// UpdateBalance must fail with ErrVersionConflict when expectedVersion is stale.
type Store interface {
	InsertTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetTransactionByRequestID(ctx context.Context, requestID string) (*Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*Transaction, error)
	GetBalance(ctx context.Context, memberID uuid.UUID) (*Balance, error)
	UpdateBalance(ctx context.Context, memberID uuid.UUID, amount money.Money, expectedVersion int) error
}

// Notifier is told about completed payments. Delivery is best effort.
type Notifier interface {
	NotifyPayment(ctx context.Context, tx *Transaction, balance money.Money) error
}
