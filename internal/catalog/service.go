// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the plan catalog.
type Service interface {
	CreatePlan(ctx context.Context, req CreatePlanRequest) (*Plan, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error)
	ListPlans(ctx context.Context, opts ListOpts) ([]*Plan, error)
	RetirePlan(ctx context.Context, id uuid.UUID) error
}

// Store persists plans.
type Store interface {
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error)
	ListPlans(ctx context.Context, opts ListOpts) ([]*Plan, error)
	RetirePlan(ctx context.Context, id uuid.UUID) error
}
