package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"gymledger/internal/catalog"
)

const planColumns = `id, name, description, price, duration_days, facility_id, status, created_at`

func (s *Store) CreatePlan(ctx context.Context, p *catalog.Plan) error {
	query := `
		INSERT INTO plans (` + planColumns + `)
		VALUES (:id, :name, :description, :price, :duration_days, :facility_id, :status, :created_at)
	`
	if _, err := s.q(ctx).NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id uuid.UUID) (*catalog.Plan, error) {
	p := &catalog.Plan{}
	if err := s.q(ctx).GetContext(ctx, p, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id); err != nil {
		return nil, notFound(err, catalog.ErrPlanNotFound)
	}
	return p, nil
}

// ListPlans returns global plans plus those of opts.FacilityID, cheapest first.
func (s *Store) ListPlans(ctx context.Context, opts catalog.ListOpts) ([]*catalog.Plan, error) {
	query := `
		SELECT ` + planColumns + ` FROM plans
		WHERE (facility_id IS NULL OR facility_id = $1)
		  AND ($2 OR status = 'active')
		ORDER BY price, name
	`
	var out []*catalog.Plan
	if err := s.q(ctx).SelectContext(ctx, &out, query, opts.FacilityID, opts.IncludeRetired); err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return out, nil
}

func (s *Store) RetirePlan(ctx context.Context, id uuid.UUID) error {
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE plans SET status = 'retired' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to retire plan: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return catalog.ErrPlanNotFound
	}
	return nil
}
