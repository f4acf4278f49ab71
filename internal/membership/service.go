// internal/membership/service.go
package membership

import (
	"context"
	"time"

	"github.com/google/uuid"

	"gymledger/internal/billing"
	"gymledger/internal/catalog"
)

// Service defines the interface for member and membership lifecycle operations.
type Service interface {
	RegisterMember(ctx context.Context, req RegisterRequest) (*Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	GetMembership(ctx context.Context, id uuid.UUID) (*Membership, error)
	ListMemberships(ctx context.Context, memberID uuid.UUID) ([]*Membership, error)
	CurrentMembership(ctx context.Context, memberID uuid.UUID, now time.Time) (*Membership, error)
	Renew(ctx context.Context, req RenewRequest) (*RenewResult, error)
	ReconcileStatuses(ctx context.Context, memberID uuid.UUID, now time.Time) ([]Transition, error)
	ReconcileBalance(ctx context.Context, memberID uuid.UUID) (*billing.Reconciliation, error)
}

// Store persists members and memberships.
//
// Atomically runs fn so that every Store call made with the context it receives commits or
// rolls back together. DisableMemberships returns how many rows it actually disabled.
type Store interface {
	Atomically(ctx context.Context, fn func(ctx context.Context) error) error
	CreateMember(ctx context.Context, m *Member) error
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	GetMembership(ctx context.Context, id uuid.UUID) (*Membership, error)
	GetMembershipByRequestID(ctx context.Context, requestID string) (*Membership, error)
	ListMemberships(ctx context.Context, memberID uuid.UUID) ([]*Membership, error)
	InsertMembership(ctx context.Context, m *Membership) error
	UpdateMembershipStatus(ctx context.Context, id uuid.UUID, status Status) error
	DisableMemberships(ctx context.Context, ids []uuid.UUID) (int, error)
}

// Plans is the slice of the catalog a renewal needs.
type Plans interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*catalog.Plan, error)
}

// Notifier is told about committed renewals. Delivery is best effort.
type Notifier interface {
	NotifyRenewal(ctx context.Context, notice RenewalNotice) error
}
