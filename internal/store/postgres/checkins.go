package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gymledger/internal/attendance"
)

const checkInColumns = `id, member_id, membership_id, facility_id, checked_in_at, checked_out_at`

func (s *Store) InsertCheckIn(ctx context.Context, c *attendance.CheckIn) error {
	query := `
		INSERT INTO check_ins (` + checkInColumns + `)
		VALUES (:id, :member_id, :membership_id, :facility_id, :checked_in_at, :checked_out_at)
	`
	if _, err := s.q(ctx).NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("failed to insert check-in: %w", err)
	}
	return nil
}

func (s *Store) GetCheckIn(ctx context.Context, id uuid.UUID) (*attendance.CheckIn, error) {
	c := &attendance.CheckIn{}
	if err := s.q(ctx).GetContext(ctx, c, `SELECT `+checkInColumns+` FROM check_ins WHERE id = $1`, id); err != nil {
		return nil, notFound(err, attendance.ErrNotFound)
	}
	return c, nil
}

func (s *Store) CheckOut(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE check_ins SET checked_out_at = $1 WHERE id = $2 AND checked_out_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("failed to check out: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	if _, err := s.GetCheckIn(ctx, id); err != nil {
		return err
	}
	return attendance.ErrAlreadyCheckedOut
}

// ListCheckIns returns a member's check-ins newest first.
func (s *Store) ListCheckIns(ctx context.Context, memberID uuid.UUID, limit int) ([]*attendance.CheckIn, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*attendance.CheckIn
	err := s.q(ctx).SelectContext(ctx, &out, `
		SELECT `+checkInColumns+` FROM check_ins
		WHERE member_id = $1 ORDER BY checked_in_at DESC LIMIT $2`, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	return out, nil
}
