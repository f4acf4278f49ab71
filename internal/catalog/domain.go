// internal/catalog/domain.go
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"gymledger/pkg/money"
)

var (
	ErrPlanNotFound = errors.New("catalog: plan not found")
	ErrInvalidPlan  = errors.New("catalog: invalid plan")
)

type PlanStatus string

const (
	PlanActive  PlanStatus = "active"
	PlanRetired PlanStatus = "retired"
)

// Plan is an immutable catalog entry. Memberships copy its price when purchased.
type Plan struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	Name         string      `json:"name" db:"name"`
	Description  string      `json:"description,omitempty" db:"description"`
	Price        money.Money `json:"price" db:"price"`
	DurationDays int         `json:"duration_days" db:"duration_days"`
	FacilityID   *uuid.UUID  `json:"facility_id,omitempty" db:"facility_id"`
	Status       PlanStatus  `json:"status" db:"status"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// AvailableTo reports whether a member of facilityID may buy the plan. Global plans have no facility.
func (p *Plan) AvailableTo(facilityID *uuid.UUID) bool {
	if p.FacilityID == nil {
		return true
	}
	return facilityID != nil && *facilityID == *p.FacilityID
}

// ListOpts filters ListPlans. A nil FacilityID returns only global plans.
type ListOpts struct {
	FacilityID     *uuid.UUID
	IncludeRetired bool
}

// PlanAddedEvent is journaled when a plan is created.
type PlanAddedEvent struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"name"`
	Price        money.Money `json:"price"`
	DurationDays int         `json:"duration_days"`
}

// PlanRetiredEvent is journaled when a plan is withdrawn from sale.
type PlanRetiredEvent struct {
	ID uuid.UUID `json:"id"`
}
