// internal/attendance/service.go
package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"gymledger/internal/membership"
)

// Service defines the interface for facility attendance.
type Service interface {
	CheckIn(ctx context.Context, memberID uuid.UUID, facilityID *uuid.UUID) (*CheckIn, error)
	CheckOut(ctx context.Context, id uuid.UUID) (*CheckIn, error)
	ListCheckIns(ctx context.Context, memberID uuid.UUID, limit int) ([]*CheckIn, error)
}

// Store persists check-ins. CheckOut must fail with ErrAlreadyCheckedOut when the exit is
// already stamped.
type Store interface {
	InsertCheckIn(ctx context.Context, c *CheckIn) error
	GetCheckIn(ctx context.Context, id uuid.UUID) (*CheckIn, error)
	CheckOut(ctx context.Context, id uuid.UUID, at time.Time) error
	ListCheckIns(ctx context.Context, memberID uuid.UUID, limit int) ([]*CheckIn, error)
}

// Memberships is what admission needs from the membership lifecycle.
type Memberships interface {
	GetMember(ctx context.Context, id uuid.UUID) (*membership.Member, error)
	CurrentMembership(ctx context.Context, memberID uuid.UUID, now time.Time) (*membership.Membership, error)
}
