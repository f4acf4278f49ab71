// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"gymledger/internal/billing"
	"gymledger/internal/catalog"
	"gymledger/internal/clock"
	"gymledger/internal/ledger"
	"gymledger/internal/lock"
	"gymledger/internal/telemetry"
	"gymledger/pkg/eventstore"
	"gymledger/pkg/money"
)

// service implements the Service interface.
type service struct {
	store      Store
	plans      Plans
	billing    billing.Service
	eventStore eventstore.Store
	locker     lock.Locker
	notifier   Notifier
	clock      clock.Clock
	logger     *zap.Logger
	tracer     trace.Tracer

	renewals    metric.Int64Counter
	supersedes  metric.Int64Counter
	transitions metric.Int64Counter
}

// NewService creates a new membership service instance. notifier may be nil.
func NewService(store Store, plans Plans, ledgerSvc billing.Service, es eventstore.Store, locker lock.Locker, notifier Notifier, clk clock.Clock, logger *zap.Logger) Service {
	meter := otel.Meter("gymledger/membership")
	return &service{
		store:       store,
		plans:       plans,
		billing:     ledgerSvc,
		eventStore:  es,
		locker:      locker,
		notifier:    notifier,
		clock:       clk,
		logger:      logger.Named("membership"),
		tracer:      otel.Tracer("gymledger/membership"),
		renewals:    telemetry.Counter(meter, "gymledger.membership.renewals", "Committed renewals"),
		supersedes:  telemetry.Counter(meter, "gymledger.membership.superseded", "Memberships disabled by a renewal"),
		transitions: telemetry.Counter(meter, "gymledger.membership.status_transitions", "Status writes applied by the resolver"),
	}
}

// RegisterMember creates a new member with a zero balance.
func (s *service) RegisterMember(ctx context.Context, req RegisterRequest) (*Member, error) {
	ctx, span := s.tracer.Start(ctx, "membership.register_member")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidMember)
	}

	now := s.clock.Now()
	member := &Member{
		ID:         uuid.New(),
		Name:       name,
		Email:      email,
		Phone:      strings.TrimSpace(req.Phone),
		FacilityID: req.FacilityID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateMember(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to create member: %w", err)
	}
	span.SetAttributes(attribute.String("member.id", member.ID.String()))

	event := MemberRegisteredEvent{ID: member.ID, Name: member.Name, Email: member.Email}
	s.journal(ctx, member.ID, "MemberRegistered", event)
	return member, nil
}

// GetMember retrieves a member by their ID.
func (s *service) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	member, err := s.store.GetMember(ctx, id)
	if err != nil {
		return nil, lookupError("member", err)
	}
	return member, nil
}

func (s *service) GetMembership(ctx context.Context, id uuid.UUID) (*Membership, error) {
	m, err := s.store.GetMembership(ctx, id)
	if err != nil {
		return nil, lookupError("membership", err)
	}
	return m, nil
}

// ListMemberships returns every membership the member ever held, as stored.
func (s *service) ListMemberships(ctx context.Context, memberID uuid.UUID) ([]*Membership, error) {
	if _, err := s.GetMember(ctx, memberID); err != nil {
		return nil, err
	}
	ms, err := s.store.ListMemberships(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return ms, nil
}

// CurrentMembership is the read-only resolver view: the one membership active at now.
func (s *service) CurrentMembership(ctx context.Context, memberID uuid.UUID, now time.Time) (*Membership, error) {
	ms, err := s.ListMemberships(ctx, memberID)
	if err != nil {
		return nil, err
	}
	res := s.resolve(memberID, now, ms)
	if res.Current == nil {
		return nil, ErrNoCurrentMembership
	}
	current := *res.Current
	current.Status = StatusActive
	return &current, nil
}

// Renew buys a plan for a member. Any membership still running or waiting to start is
// superseded in the same storage transaction that creates the new one, then the ledger books
// the charge and the balance it leaves.
func (s *service) Renew(ctx context.Context, req RenewRequest) (*RenewResult, error) {
	ctx, span := s.tracer.Start(ctx, "membership.renew",
		trace.WithAttributes(
			attribute.String("member.id", req.MemberID.String()),
			attribute.String("plan.id", req.PlanID.String()),
		),
	)
	defer span.End()

	member, err := s.GetMember(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.GetPlan(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, catalog.ErrPlanNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPlanSelection, err)
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	split, err := validateRenewal(req, plan, member)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	start := req.StartDate
	if start.IsZero() {
		start = now
	}
	hash := renewalFingerprint(req)

	unlock, err := s.locker.Lock(ctx, lock.MemberKey(member.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock member: %w", err)
	}
	defer unlock()

	if req.RequestID != "" {
		replayed, err := s.replayRenewal(ctx, req, hash, split)
		if replayed != nil || err != nil {
			return replayed, err
		}
	}

	membership := &Membership{
		ID:            uuid.New(),
		MemberID:      member.ID,
		PlanID:        plan.ID,
		PlanName:      plan.Name,
		DurationDays:  plan.DurationDays,
		StartDate:     start,
		EndDate:       start.AddDate(0, 0, plan.DurationDays),
		Status:        StatusActive,
		Price:         plan.Price,
		Discount:      req.Discount,
		PaymentAmount: split.Charge,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if start.After(now) {
		membership.Status = StatusPending
	}
	if req.RequestID != "" {
		requestID := req.RequestID
		membership.RequestID = &requestID
		membership.RequestHash = &hash
	}

	var superseded []*Membership
	err = s.store.Atomically(ctx, func(ctx context.Context) error {
		ms, err := s.store.ListMemberships(ctx, member.ID)
		if err != nil {
			return fmt.Errorf("failed to list memberships: %w", err)
		}

		res := s.resolve(member.ID, now, ms)
		if err := s.applyTransitions(ctx, res.Transitions); err != nil {
			return err
		}

		superseded = nil
		var ids []uuid.UUID
		for _, m := range ms {
			target, ok := res.Targets[m.ID]
			if !ok || m.IsDisabled {
				continue
			}
			if target == StatusActive || target == StatusPending {
				cp := *m
				cp.Status = target
				cp.IsDisabled = true
				superseded = append(superseded, &cp)
				ids = append(ids, m.ID)
			}
		}

		if len(ids) > 0 {
			disabled, err := s.store.DisableMemberships(ctx, ids)
			if err != nil {
				return fmt.Errorf("failed to disable memberships: %w", err)
			}
			if disabled != len(ids) {
				return &PartialSupersessionError{MemberID: member.ID, Requested: len(ids), Disabled: disabled}
			}
		}

		if err := s.store.InsertMembership(ctx, membership); err != nil {
			return fmt.Errorf("failed to insert membership: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPartialSupersession) {
			s.logger.Error("renewal aborted", zap.Stringer("member_id", member.ID), zap.Error(err))
		}
		return nil, err
	}
	span.SetAttributes(
		attribute.String("membership.id", membership.ID.String()),
		attribute.Int("superseded", len(superseded)),
	)

	tx, err := s.billing.RecordRenewalPayment(ctx, billing.RenewalCharge{
		MemberID:         member.ID,
		MembershipID:     membership.ID,
		Amount:           split.Charge,
		ResultingBalance: split.Balance,
		Method:           req.PaymentMethod,
		RequestID:        req.RequestID,
		RequestHash:      hash,
	})
	if err != nil {
		s.logger.Error("renewal committed without ledger entry",
			zap.Stringer("member_id", member.ID),
			zap.Stringer("membership_id", membership.ID),
			zap.Error(err),
		)
		return &RenewResult{Membership: membership, Transaction: tx, Member: member, Superseded: superseded},
			fmt.Errorf("failed to record renewal payment: %w", err)
	}

	if refreshed, err := s.store.GetMember(ctx, member.ID); err == nil {
		member = refreshed
	}

	s.renewals.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(membership.Status))))
	s.supersedes.Add(ctx, int64(len(superseded)))

	s.journal(ctx, member.ID, "MembershipPurchased", MembershipPurchasedEvent{
		MembershipID:  membership.ID,
		PlanID:        membership.PlanID,
		PlanName:      membership.PlanName,
		StartDate:     membership.StartDate,
		EndDate:       membership.EndDate,
		Status:        membership.Status,
		NetPrice:      membership.NetPrice(),
		PaymentAmount: membership.PaymentAmount,
	})
	if len(superseded) > 0 {
		ids := make([]uuid.UUID, len(superseded))
		for i, m := range superseded {
			ids[i] = m.ID
		}
		s.journal(ctx, member.ID, "MembershipSuperseded", MembershipSupersededEvent{SupersededBy: membership.ID, Memberships: ids})
	}

	result := &RenewResult{Membership: membership, Transaction: tx, Member: member, Superseded: superseded}
	s.notify(ctx, result)
	return result, nil
}

// replayRenewal returns the stored outcome of an earlier renewal with the same request id.
// A renewal whose ledger step never ran gets it run now, keyed on the same request id. An id
// already spent on a payment is a conflict.
func (s *service) replayRenewal(ctx context.Context, req RenewRequest, hash string, split ledger.Split) (*RenewResult, error) {
	existing, err := s.store.GetMembershipByRequestID(ctx, req.RequestID)
	if errors.Is(err, ErrNotFound) {
		// The id may still belong to a standalone payment.
		if _, err := s.billing.FindByRequestID(ctx, req.RequestID); err == nil {
			return nil, fmt.Errorf("%w: %s is held by a payment", billing.ErrIdempotencyConflict, req.RequestID)
		} else if !errors.Is(err, billing.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up request id: %w", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up request id: %w", err)
	}
	if existing.RequestHash == nil || *existing.RequestHash != hash {
		return nil, fmt.Errorf("%w: %s", billing.ErrIdempotencyConflict, req.RequestID)
	}

	tx, err := s.billing.FindByRequestID(ctx, req.RequestID)
	if err == nil && !renewalTransaction(tx, existing.ID, hash) {
		return nil, fmt.Errorf("%w: %s is held by a payment", billing.ErrIdempotencyConflict, req.RequestID)
	}
	switch {
	case errors.Is(err, billing.ErrNotFound) && split.Charge.IsPositive():
		s.logger.Warn("completing renewal without ledger entry", zap.Stringer("membership_id", existing.ID))
		tx, err = s.billing.RecordRenewalPayment(ctx, billing.RenewalCharge{
			MemberID:         existing.MemberID,
			MembershipID:     existing.ID,
			Amount:           split.Charge,
			ResultingBalance: split.Balance,
			Method:           req.PaymentMethod,
			RequestID:        req.RequestID,
			RequestHash:      hash,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record renewal payment: %w", err)
		}
	case errors.Is(err, billing.ErrNotFound):
		tx = nil
	case err != nil:
		return nil, fmt.Errorf("failed to look up renewal transaction: %w", err)
	}

	member, err := s.GetMember(ctx, existing.MemberID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("replaying idempotent renewal", zap.String("request_id", req.RequestID), zap.Stringer("membership_id", existing.ID))
	return &RenewResult{Membership: existing, Transaction: tx, Member: member, Replayed: true}, nil
}

// renewalTransaction reports whether tx is the ledger entry booked for the renewal that
// created membershipID.
func renewalTransaction(tx *billing.Transaction, membershipID uuid.UUID, hash string) bool {
	return tx.MembershipID != nil && *tx.MembershipID == membershipID &&
		tx.RequestHash != nil && *tx.RequestHash == hash
}

// ReconcileStatuses writes the resolver's status deltas for one member and returns them.
// A second call at the same instant writes nothing.
func (s *service) ReconcileStatuses(ctx context.Context, memberID uuid.UUID, now time.Time) ([]Transition, error) {
	ctx, span := s.tracer.Start(ctx, "membership.reconcile_statuses",
		trace.WithAttributes(attribute.String("member.id", memberID.String())),
	)
	defer span.End()

	if _, err := s.GetMember(ctx, memberID); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lock.MemberKey(memberID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock member: %w", err)
	}
	defer unlock()

	var applied []Transition
	err = s.store.Atomically(ctx, func(ctx context.Context) error {
		ms, err := s.store.ListMemberships(ctx, memberID)
		if err != nil {
			return fmt.Errorf("failed to list memberships: %w", err)
		}
		res := s.resolve(memberID, now, ms)
		if err := s.applyTransitions(ctx, res.Transitions); err != nil {
			return err
		}
		applied = res.Transitions
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("transitions", len(applied)))
	if len(applied) > 0 {
		s.journal(ctx, memberID, "MembershipStatusesReconciled", MembershipStatusesReconciledEvent{Transitions: applied})
	}
	if applied == nil {
		applied = []Transition{}
	}
	return applied, nil
}

// ReconcileBalance recomputes the member's balance from the net price of every membership
// they bought and the ledger's completed transactions.
func (s *service) ReconcileBalance(ctx context.Context, memberID uuid.UUID) (*billing.Reconciliation, error) {
	unlock, err := s.locker.Lock(ctx, lock.MemberKey(memberID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock member: %w", err)
	}
	defer unlock()

	ms, err := s.ListMemberships(ctx, memberID)
	if err != nil {
		return nil, err
	}
	charges := money.Zero
	for _, m := range ms {
		charges = charges.Add(m.NetPrice())
	}

	rec, err := s.billing.ReconcileBalance(ctx, memberID, charges)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile balance: %w", err)
	}
	return rec, nil
}

func (s *service) resolve(memberID uuid.UUID, now time.Time, ms []*Membership) Resolution {
	res := Resolve(now, ms)
	for _, err := range res.Rejected {
		s.logger.Warn("skipping membership record", zap.Stringer("member_id", memberID), zap.Error(err))
	}
	return res
}

func (s *service) applyTransitions(ctx context.Context, transitions []Transition) error {
	for _, t := range transitions {
		if err := s.store.UpdateMembershipStatus(ctx, t.MembershipID, t.To); err != nil {
			return fmt.Errorf("failed to move membership %s to %s: %w", t.MembershipID, t.To, err)
		}
	}
	s.transitions.Add(ctx, int64(len(transitions)))
	return nil
}

func (s *service) journal(ctx context.Context, memberID uuid.UUID, eventType string, data interface{}) {
	if err := eventstore.Record(ctx, s.eventStore, memberID, "member", eventType, data); err != nil {
		s.logger.Warn("journal append failed", zap.Stringer("member_id", memberID), zap.String("event", eventType), zap.Error(err))
	}
}

func (s *service) notify(ctx context.Context, result *RenewResult) {
	if s.notifier == nil {
		return
	}
	notice := RenewalNotice{Member: result.Member, Membership: result.Membership}
	if result.Transaction != nil {
		id := result.Transaction.ID
		notice.TransactionID = &id
	}
	go func(ctx context.Context) {
		if err := s.notifier.NotifyRenewal(ctx, notice); err != nil {
			s.logger.Warn("renewal notification failed", zap.Stringer("membership_id", notice.Membership.ID), zap.Error(err))
		}
	}(context.WithoutCancel(ctx))
}

// validateRenewal checks everything a renewal needs before it takes the lock or writes.
func validateRenewal(req RenewRequest, plan *catalog.Plan, member *Member) (ledger.Split, error) {
	switch {
	case plan.Status != catalog.PlanActive:
		return ledger.Split{}, fmt.Errorf("%w: plan %s is retired", ErrInvalidPlanSelection, plan.ID)
	case !plan.Price.IsPositive():
		return ledger.Split{}, fmt.Errorf("%w: plan %s has no price", ErrInvalidPlanSelection, plan.ID)
	case plan.DurationDays <= 0:
		return ledger.Split{}, fmt.Errorf("%w: plan %s has no duration", ErrInvalidPlanSelection, plan.ID)
	case !plan.AvailableTo(member.FacilityID):
		return ledger.Split{}, fmt.Errorf("%w: plan %s is not sold at the member's facility", ErrInvalidPlanSelection, plan.ID)
	}

	net, err := ledger.NetPrice(plan.Price, req.Discount)
	if err != nil {
		return ledger.Split{}, fmt.Errorf("%w: %w", ErrInvalidPlanSelection, err)
	}

	if req.PaidAmount.IsNegative() {
		return ledger.Split{}, fmt.Errorf("%w: paid amount %s is negative", billing.ErrInvalidAmount, req.PaidAmount)
	}
	if !req.PaymentMethod.Valid() {
		return ledger.Split{}, fmt.Errorf("%w: %q", billing.ErrInvalidPaymentMethod, req.PaymentMethod)
	}

	return ledger.SplitPayment(net, req.IsFullPayment, req.PaidAmount), nil
}

func renewalFingerprint(req RenewRequest) string {
	return billing.Fingerprint(
		"renewal",
		req.MemberID.String(),
		req.PlanID.String(),
		req.StartDate.UTC().Format(time.RFC3339Nano),
		string(req.PaymentMethod),
		req.Discount.String(),
		fmt.Sprintf("%t", req.IsFullPayment),
		req.PaidAmount.String(),
	)
}

func lookupError(what string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}
