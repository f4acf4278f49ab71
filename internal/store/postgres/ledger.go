package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gymledger/internal/billing"
	"gymledger/pkg/money"
)

const transactionColumns = `id, member_id, membership_id, amount, type, payment_method, status,
	request_id, request_hash, created_at`

func (s *Store) InsertTransaction(ctx context.Context, tx *billing.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (:id, :member_id, :membership_id, :amount, :type, :payment_method, :status,
			:request_id, :request_hash, :created_at)
	`
	_, err := s.q(ctx).NamedExecContext(ctx, query, tx)
	switch pqCode(err) {
	case "":
	case codeUniqueViolation:
		return billing.ErrIdempotencyConflict
	case codeForeignKeyViolation:
		return billing.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*billing.Transaction, error) {
	tx := &billing.Transaction{}
	if err := s.q(ctx).GetContext(ctx, tx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id); err != nil {
		return nil, notFound(err, billing.ErrNotFound)
	}
	return tx, nil
}

func (s *Store) GetTransactionByRequestID(ctx context.Context, requestID string) (*billing.Transaction, error) {
	tx := &billing.Transaction{}
	err := s.q(ctx).GetContext(ctx, tx, `SELECT `+transactionColumns+` FROM transactions WHERE request_id = $1`, requestID)
	if err != nil {
		return nil, notFound(err, billing.ErrNotFound)
	}
	return tx, nil
}

// ListTransactions returns matching transactions oldest first, ties in insertion order.
func (s *Store) ListTransactions(ctx context.Context, f billing.TransactionFilter) ([]*billing.Transaction, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.MemberID != nil {
		add("member_id = $%d", *f.MemberID)
	}
	if f.MembershipID != nil {
		add("membership_id = $%d", *f.MembershipID)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.CreatedBefore != nil {
		add("created_at <= $%d", *f.CreatedBefore)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, seq`

	var out []*billing.Transaction
	if err := s.q(ctx).SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return out, nil
}

func (s *Store) GetBalance(ctx context.Context, memberID uuid.UUID) (*billing.Balance, error) {
	b := &billing.Balance{}
	if err := s.q(ctx).GetContext(ctx, b, `SELECT id, balance, version FROM members WHERE id = $1`, memberID); err != nil {
		return nil, notFound(err, billing.ErrNotFound)
	}
	return b, nil
}

// UpdateBalance writes amount only if the member is still at expectedVersion.
func (s *Store) UpdateBalance(ctx context.Context, memberID uuid.UUID, amount money.Money, expectedVersion int) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE members SET balance = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3`, amount, memberID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.q(ctx).GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)`, memberID); err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if !exists {
		return billing.ErrNotFound
	}
	return billing.ErrVersionConflict
}
