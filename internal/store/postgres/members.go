package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"gymledger/internal/billing"
	"gymledger/internal/membership"
)

const membershipColumns = `id, member_id, plan_id, plan_name, duration_days, start_date, end_date, status,
	is_disabled, price, discount, payment_amount, request_id, request_hash, created_at, updated_at`

func (s *Store) CreateMember(ctx context.Context, m *membership.Member) error {
	query := `
		INSERT INTO members (id, name, email, phone, facility_id, balance, version, created_at, updated_at)
		VALUES (:id, :name, :email, :phone, :facility_id, :balance, :version, :created_at, :updated_at)
	`
	if _, err := s.q(ctx).NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

func (s *Store) GetMember(ctx context.Context, id uuid.UUID) (*membership.Member, error) {
	m := &membership.Member{}
	err := s.q(ctx).GetContext(ctx, m, `
		SELECT id, name, email, phone, facility_id, balance, version, created_at, updated_at
		FROM members WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, membership.ErrNotFound)
	}
	return m, nil
}

func (s *Store) GetMembership(ctx context.Context, id uuid.UUID) (*membership.Membership, error) {
	m := &membership.Membership{}
	err := s.q(ctx).GetContext(ctx, m, `SELECT `+membershipColumns+` FROM memberships WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, membership.ErrNotFound)
	}
	return m, nil
}

func (s *Store) GetMembershipByRequestID(ctx context.Context, requestID string) (*membership.Membership, error) {
	m := &membership.Membership{}
	err := s.q(ctx).GetContext(ctx, m, `SELECT `+membershipColumns+` FROM memberships WHERE request_id = $1`, requestID)
	if err != nil {
		return nil, notFound(err, membership.ErrNotFound)
	}
	return m, nil
}

// ListMemberships returns the member's memberships ordered by start date. Inside Atomically
// the rows are locked until commit.
func (s *Store) ListMemberships(ctx context.Context, memberID uuid.UUID) ([]*membership.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE member_id = $1 ORDER BY start_date, created_at`
	if inTx(ctx) {
		query += ` FOR UPDATE`
	}
	var out []*membership.Membership
	if err := s.q(ctx).SelectContext(ctx, &out, query, memberID); err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return out, nil
}

func (s *Store) InsertMembership(ctx context.Context, m *membership.Membership) error {
	query := `
		INSERT INTO memberships (` + membershipColumns + `)
		VALUES (:id, :member_id, :plan_id, :plan_name, :duration_days, :start_date, :end_date, :status,
			:is_disabled, :price, :discount, :payment_amount, :request_id, :request_hash, :created_at, :updated_at)
	`
	_, err := s.q(ctx).NamedExecContext(ctx, query, m)
	switch pqCode(err) {
	case "":
	case codeForeignKeyViolation:
		return membership.ErrNotFound
	case codeUniqueViolation:
		return billing.ErrIdempotencyConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}
	return nil
}

func (s *Store) UpdateMembershipStatus(ctx context.Context, id uuid.UUID, status membership.Status) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE memberships SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update membership status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return membership.ErrNotFound
	}
	return nil
}

// DisableMemberships flags the given records and reports how many were newly disabled.
func (s *Store) DisableMemberships(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE memberships SET is_disabled = TRUE, updated_at = NOW()
		WHERE id = ANY($1::uuid[]) AND NOT is_disabled`, pq.Array(strs))
	if err != nil {
		return 0, fmt.Errorf("failed to disable memberships: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to disable memberships: %w", err)
	}
	return int(n), nil
}
