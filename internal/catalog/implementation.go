// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"gymledger/internal/clock"
	"gymledger/pkg/eventstore"
	"gymledger/pkg/money"
)

// CreatePlanRequest describes a new catalog entry.
type CreatePlanRequest struct {
	Name         string
	Description  string
	Price        money.Money
	DurationDays int
	FacilityID   *uuid.UUID
}

// service implements the Service interface.
type service struct {
	store      Store
	eventStore eventstore.Store
	clock      clock.Clock
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewService creates a new catalog service instance.
func NewService(store Store, es eventstore.Store, clk clock.Clock, logger *zap.Logger) Service {
	return &service{
		store:      store,
		eventStore: es,
		clock:      clk,
		logger:     logger.Named("catalog"),
		tracer:     otel.Tracer("gymledger/catalog"),
	}
}

// CreatePlan validates and stores a new plan.
func (s *service) CreatePlan(ctx context.Context, req CreatePlanRequest) (*Plan, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.create_plan")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidPlan)
	case !req.Price.IsPositive():
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidPlan)
	case req.DurationDays <= 0:
		return nil, fmt.Errorf("%w: duration must be at least one day", ErrInvalidPlan)
	}

	plan := &Plan{
		ID:           uuid.New(),
		Name:         name,
		Description:  req.Description,
		Price:        req.Price,
		DurationDays: req.DurationDays,
		FacilityID:   req.FacilityID,
		Status:       PlanActive,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.store.CreatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}
	span.SetAttributes(attribute.String("plan.id", plan.ID.String()))

	event := PlanAddedEvent{ID: plan.ID, Name: plan.Name, Price: plan.Price, DurationDays: plan.DurationDays}
	if err := eventstore.Record(ctx, s.eventStore, plan.ID, "plan", "PlanAdded", event); err != nil {
		s.logger.Warn("journal append failed", zap.Stringer("plan_id", plan.ID), zap.Error(err))
	}
	return plan, nil
}

// GetPlan retrieves a plan by its ID.
func (s *service) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	plan, err := s.store.GetPlan(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return plan, nil
}

// ListPlans returns global plans plus those of opts.FacilityID.
func (s *service) ListPlans(ctx context.Context, opts ListOpts) ([]*Plan, error) {
	plans, err := s.store.ListPlans(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// RetirePlan withdraws a plan from sale. Existing memberships keep their snapshot.
func (s *service) RetirePlan(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "catalog.retire_plan",
		trace.WithAttributes(attribute.String("plan.id", id.String())),
	)
	defer span.End()

	if err := s.store.RetirePlan(ctx, id); err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return err
		}
		return fmt.Errorf("failed to retire plan: %w", err)
	}

	if err := eventstore.Record(ctx, s.eventStore, id, "plan", "PlanRetired", PlanRetiredEvent{ID: id}); err != nil {
		s.logger.Warn("journal append failed", zap.Stringer("plan_id", id), zap.Error(err))
	}
	return nil
}
