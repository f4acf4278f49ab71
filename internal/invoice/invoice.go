// Package invoice derives receipts from the ledger on demand. Nothing here is persisted.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gymledger/internal/billing"
	"gymledger/internal/membership"
	"gymledger/pkg/money"
)

var ErrNotFound = errors.New("invoice: not found")

// Invoice is the receipt for one transaction against its membership.
type Invoice struct {
	Transaction *billing.Transaction   `json:"transaction"`
	Membership  *membership.Membership `json:"membership"`
	Member      *membership.Member     `json:"member"`
	Payments    []*billing.Transaction `json:"payments"`
	Price       money.Money            `json:"price"`
	Discount    money.Money            `json:"discount"`
	NetPrice    money.Money            `json:"net_price"`
	TotalPaid   money.Money            `json:"total_paid"`
	Balance     money.Money            `json:"balance"`
	IssuedAt    time.Time              `json:"issued_at"`
}

// Transactions is the ledger view the projector reads.
type Transactions interface {
	GetTransaction(ctx context.Context, id uuid.UUID) (*billing.Transaction, error)
	ListTransactions(ctx context.Context, filter billing.TransactionFilter) ([]*billing.Transaction, error)
}

// Memberships is the lifecycle view the projector reads.
type Memberships interface {
	GetMember(ctx context.Context, id uuid.UUID) (*membership.Member, error)
	GetMembership(ctx context.Context, id uuid.UUID) (*membership.Membership, error)
}

type Projector struct {
	transactions Transactions
	memberships  Memberships
	tracer       trace.Tracer
}

func NewProjector(transactions Transactions, memberships Memberships) *Projector {
	return &Projector{
		transactions: transactions,
		memberships:  memberships,
		tracer:       otel.Tracer("gymledger/invoice"),
	}
}

// Project builds the invoice for a transaction. It counts the completed payments on the same
// membership booked up to and including the transaction, oldest first.
func (p *Projector) Project(ctx context.Context, transactionID uuid.UUID) (*Invoice, error) {
	ctx, span := p.tracer.Start(ctx, "invoice.project",
		trace.WithAttributes(attribute.String("transaction.id", transactionID.String())),
	)
	defer span.End()

	tx, err := p.transactions.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, notFound("transaction", err)
	}
	if tx.MembershipID == nil {
		return nil, fmt.Errorf("%w: transaction %s is not tied to a membership", ErrNotFound, tx.ID)
	}

	m, err := p.memberships.GetMembership(ctx, *tx.MembershipID)
	if err != nil {
		return nil, notFound("membership", err)
	}
	member, err := p.memberships.GetMember(ctx, tx.MemberID)
	if err != nil {
		return nil, notFound("member", err)
	}

	payments, err := p.transactions.ListTransactions(ctx, billing.TransactionFilter{
		MembershipID:  &m.ID,
		Type:          billing.TypePayment,
		Status:        billing.StatusCompleted,
		CreatedBefore: &tx.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	// payments booked in the same instant but after tx do not belong on its invoice
	for i, payment := range payments {
		if payment.ID == tx.ID {
			payments = payments[:i+1]
			break
		}
	}

	total := money.Zero
	for _, payment := range payments {
		total = total.Add(payment.Amount)
	}
	net := m.NetPrice()

	return &Invoice{
		Transaction: tx,
		Membership:  m,
		Member:      member,
		Payments:    payments,
		Price:       m.Price,
		Discount:    m.Discount,
		NetPrice:    net,
		TotalPaid:   total,
		Balance:     money.Max(money.Zero, net.Sub(total)),
		IssuedAt:    tx.CreatedAt,
	}, nil
}

func notFound(what string, err error) error {
	if errors.Is(err, billing.ErrNotFound) || errors.Is(err, membership.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, what, err)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
