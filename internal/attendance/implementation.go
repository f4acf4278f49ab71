// internal/attendance/implementation.go
package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"gymledger/internal/clock"
	"gymledger/internal/membership"
	"gymledger/pkg/eventstore"
)

const defaultListLimit = 50

// service implements the Service interface.
type service struct {
	store          Store
	memberships    Memberships
	eventStore     eventstore.Store
	clock          clock.Clock
	logger         *zap.Logger
	tracer         trace.Tracer
	blockOnBalance bool
}

// NewService creates a new attendance service. With blockOnBalance set, members who owe
// anything are turned away at the door.
func NewService(store Store, memberships Memberships, es eventstore.Store, clk clock.Clock, logger *zap.Logger, blockOnBalance bool) Service {
	return &service{
		store:          store,
		memberships:    memberships,
		eventStore:     es,
		clock:          clk,
		logger:         logger.Named("attendance"),
		tracer:         otel.Tracer("gymledger/attendance"),
		blockOnBalance: blockOnBalance,
	}
}

// CheckIn admits a member holding a current membership.
func (s *service) CheckIn(ctx context.Context, memberID uuid.UUID, facilityID *uuid.UUID) (*CheckIn, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.check_in",
		trace.WithAttributes(attribute.String("member.id", memberID.String())),
	)
	defer span.End()

	member, err := s.memberships.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	current, err := s.memberships.CurrentMembership(ctx, memberID, now)
	if err != nil {
		if errors.Is(err, membership.ErrNoCurrentMembership) {
			return nil, fmt.Errorf("%w: member %s", ErrNoCurrentMembership, memberID)
		}
		return nil, fmt.Errorf("failed to resolve membership: %w", err)
	}

	if s.blockOnBalance && member.Balance.IsPositive() {
		span.SetAttributes(attribute.Bool("admission.denied", true))
		return nil, fmt.Errorf("%w: member owes %s", ErrOutstandingBalance, member.Balance)
	}

	checkIn := &CheckIn{
		ID:           uuid.New(),
		MemberID:     memberID,
		MembershipID: current.ID,
		FacilityID:   facilityID,
		CheckedInAt:  now,
	}
	if err := s.store.InsertCheckIn(ctx, checkIn); err != nil {
		return nil, fmt.Errorf("failed to insert check-in: %w", err)
	}

	event := MemberCheckedInEvent{CheckInID: checkIn.ID, MembershipID: current.ID, FacilityID: facilityID, At: now}
	if err := eventstore.Record(ctx, s.eventStore, memberID, "member", "MemberCheckedIn", event); err != nil {
		s.logger.Warn("journal append failed", zap.Stringer("check_in_id", checkIn.ID), zap.Error(err))
	}
	return checkIn, nil
}

// CheckOut stamps the exit time of an open check-in.
func (s *service) CheckOut(ctx context.Context, id uuid.UUID) (*CheckIn, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.check_out",
		trace.WithAttributes(attribute.String("check_in.id", id.String())),
	)
	defer span.End()

	checkIn, err := s.store.GetCheckIn(ctx, id)
	if err != nil {
		return nil, err
	}
	if checkIn.CheckedOutAt != nil {
		return nil, ErrAlreadyCheckedOut
	}

	now := s.clock.Now()
	if err := s.store.CheckOut(ctx, id, now); err != nil {
		if errors.Is(err, ErrAlreadyCheckedOut) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to check out: %w", err)
	}
	checkIn.CheckedOutAt = &now

	if err := eventstore.Record(ctx, s.eventStore, checkIn.MemberID, "member", "MemberCheckedOut", MemberCheckedOutEvent{CheckInID: id, At: now}); err != nil {
		s.logger.Warn("journal append failed", zap.Stringer("check_in_id", id), zap.Error(err))
	}
	return checkIn, nil
}

// ListCheckIns returns a member's most recent visits, newest first.
func (s *service) ListCheckIns(ctx context.Context, memberID uuid.UUID, limit int) ([]*CheckIn, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	checkIns, err := s.store.ListCheckIns(ctx, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	return checkIns, nil
}
