package membership_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gymledger/internal/billing"
	"gymledger/internal/catalog"
	"gymledger/internal/clock"
	"gymledger/internal/ledger"
	"gymledger/internal/lock"
	"gymledger/internal/membership"
	"gymledger/internal/store/memory"
	"gymledger/pkg/eventstore"
	"gymledger/pkg/money"
)

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store      *memory.Store
	journal    *eventstore.MemoryStore
	catalog    catalog.Service
	billing    billing.Service
	membership membership.Service
	member     *membership.Member
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore lets a test put a wrapper in front of the membership store.
func newFixtureWithStore(t *testing.T, wrap func(*memory.Store) membership.Store) *fixture {
	t.Helper()
	store := memory.New()
	journal := eventstore.NewMemoryStore()
	clk := clock.Fixed(testNow)
	logger := zap.NewNop()
	locker := lock.NewLocal()

	var ms membership.Store = store
	if wrap != nil {
		ms = wrap(store)
	}

	f := &fixture{store: store, journal: journal}
	f.catalog = catalog.NewService(store, journal, clk, logger)
	f.billing = billing.NewService(store, journal, locker, nil, clk, logger)
	f.membership = membership.NewService(ms, f.catalog, f.billing, journal, locker, nil, clk, logger)

	member, err := f.membership.RegisterMember(context.Background(), membership.RegisterRequest{Name: "Meera", Email: "meera@example.com"})
	require.NoError(t, err)
	f.member = member
	return f
}

func (f *fixture) plan(t *testing.T, price int64, days int) *catalog.Plan {
	t.Helper()
	p, err := f.catalog.CreatePlan(context.Background(), catalog.CreatePlanRequest{
		Name:         "Plan",
		Price:        money.FromMajor(price),
		DurationDays: days,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) memberships(t *testing.T) []*membership.Membership {
	t.Helper()
	ms, err := f.membership.ListMemberships(context.Background(), f.member.ID)
	require.NoError(t, err)
	return ms
}

func (f *fixture) transactions(t *testing.T) []*billing.Transaction {
	t.Helper()
	txs, err := f.billing.ListTransactions(context.Background(), billing.TransactionFilter{MemberID: &f.member.ID})
	require.NoError(t, err)
	return txs
}

func assertSingleCurrent(t *testing.T, ms []*membership.Membership) {
	t.Helper()
	current := 0
	for _, m := range ms {
		if !m.IsDisabled && (m.Status == membership.StatusActive || m.Status == membership.StatusPending) {
			current++
		}
	}
	assert.Equal(t, 1, current, "exactly one membership should be current")
}

func TestRenewPartialPayment(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, 500, 30)

	result, err := f.membership.Renew(context.Background(), membership.RenewRequest{
		MemberID:      f.member.ID,
		PlanID:        plan.ID,
		PaymentMethod: billing.MethodCash,
		Discount:      money.FromMajor(50),
		PaidAmount:    money.FromMajor(200),
	})
	require.NoError(t, err)

	m := result.Membership
	assert.Equal(t, money.FromMajor(500), m.Price)
	assert.Equal(t, money.FromMajor(50), m.Discount)
	assert.Equal(t, money.FromMajor(200), m.PaymentAmount)
	assert.Equal(t, membership.StatusActive, m.Status)
	assert.Equal(t, testNow.AddDate(0, 0, 30), m.EndDate)

	require.NotNil(t, result.Transaction)
	assert.Equal(t, money.FromMajor(200), result.Transaction.Amount)
	assert.Equal(t, money.FromMajor(250), result.Member.Balance)
	assert.Empty(t, result.Superseded)

	events, err := f.journal.LoadEvents(context.Background(), f.member.ID, 0, 0)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.Contains(t, types, "MembershipPurchased")
	assert.Contains(t, types, "PaymentRecorded")
}

func TestRenewSupersedesActiveMembership(t *testing.T) {
	f := newFixture(t)
	monthly := f.plan(t, 500, 30)
	annual := f.plan(t, 5000, 365)
	ctx := context.Background()

	a, err := f.membership.Renew(ctx, membership.RenewRequest{
		MemberID: f.member.ID, PlanID: monthly.ID, PaymentMethod: billing.MethodCash, IsFullPayment: true,
	})
	require.NoError(t, err)
	before := len(f.transactions(t))

	b, err := f.membership.Renew(ctx, membership.RenewRequest{
		MemberID: f.member.ID, PlanID: annual.ID, PaymentMethod: billing.MethodCard, IsFullPayment: true,
	})
	require.NoError(t, err)

	require.Len(t, b.Superseded, 1)
	assert.Equal(t, a.Membership.ID, b.Superseded[0].ID)
	assert.Equal(t, len(f.transactions(t)), before+1)
	assert.Equal(t, money.Zero, b.Member.Balance)

	ms := f.memberships(t)
	byID := map[uuid.UUID]*membership.Membership{}
	for _, m := range ms {
		byID[m.ID] = m
	}
	assert.True(t, byID[a.Membership.ID].IsDisabled)
	assert.Equal(t, membership.StatusActive, byID[a.Membership.ID].Status, "superseded record keeps its status for history")
	assert.False(t, byID[b.Membership.ID].IsDisabled)
	assert.Equal(t, membership.StatusActive, byID[b.Membership.ID].Status)
	assertSingleCurrent(t, ms)

	current, err := f.membership.CurrentMembership(ctx, f.member.ID, testNow)
	require.NoError(t, err)
	assert.Equal(t, b.Membership.ID, current.ID)
}

func TestRenewFutureStartIsPendingAndSupersedesPending(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, 300, 30)
	ctx := context.Background()

	first, err := f.membership.Renew(ctx, membership.RenewRequest{
		MemberID: f.member.ID, PlanID: plan.ID, PaymentMethod: billing.MethodCash, IsFullPayment: true,
		StartDate: testNow.AddDate(0, 0, 7),
	})
	require.NoError(t, err)
	assert.Equal(t, membership.StatusPending, first.Membership.Status)

	_, err = f.membership.CurrentMembership(ctx, f.member.ID, testNow)
	assert.ErrorIs(t, err, membership.ErrNoCurrentMembership)

	second, err := f.membership.Renew(ctx, membership.RenewRequest{
		MemberID: f.member.ID, PlanID: plan.ID, PaymentMethod: billing.MethodCash, IsFullPayment: true,
		StartDate: testNow.AddDate(0, 0, 14),
	})
	require.NoError(t, err)
	require.Len(t, second.Superseded, 1)
	assert.Equal(t, first.Membership.ID, second.Superseded[0].ID)
	assertSingleCurrent(t, f.memberships(t))
}

func TestRenewWithNothingPaid(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, 400, 30)

	result, err := f.membership.Renew(context.Background(), membership.RenewRequest{
		MemberID: f.member.ID, PlanID: plan.ID, PaymentMethod: billing.MethodOther,
	})
	require.NoError(t, err)
	assert.Nil(t, result.Transaction)
	assert.Equal(t, money.FromMajor(400), result.Member.Balance)
	assert.Empty(t, f.transactions(t))
}

func TestRenewValidatesBeforeWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plan := f.plan(t, 500, 30)

	retired := f.plan(t, 500, 30)
	require.NoError(t, f.catalog.RetirePlan(ctx, retired.ID))

	facility := uuid.New()
	local, err := f.catalog.CreatePlan(ctx, catalog.CreatePlanRequest{Name: "Local", Price: money.FromMajor(100), DurationDays: 30, FacilityID: &facility})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  membership.RenewRequest
		want error
	}{
		{"unknown plan", membership.RenewRequest{PlanID: uuid.New(), PaymentMethod: billing.MethodCash}, membership.ErrInvalidPlanSelection},
		{"retired plan", membership.RenewRequest{PlanID: retired.ID, PaymentMethod: billing.MethodCash}, membership.ErrInvalidPlanSelection},
		{"other facility", membership.RenewRequest{PlanID: local.ID, PaymentMethod: billing.MethodCash}, membership.ErrInvalidPlanSelection},
		{"discount above price", membership.RenewRequest{PlanID: plan.ID, PaymentMethod: billing.MethodCash, Discount: money.FromMajor(501)}, ledger.ErrInvalidDiscount},
		{"negative discount", membership.RenewRequest{PlanID: plan.ID, PaymentMethod: billing.MethodCash, Discount: money.FromMajor(-1)}, membership.ErrInvalidPlanSelection},
		{"negative payment", membership.RenewRequest{PlanID: plan.ID, PaymentMethod: billing.MethodCash, PaidAmount: money.FromMajor(-1)}, billing.ErrInvalidAmount},
		{"unknown method", membership.RenewRequest{PlanID: plan.ID, PaymentMethod: "cheque"}, billing.ErrInvalidPaymentMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.MemberID = f.member.ID
			_, err := f.membership.Renew(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, f.memberships(t))
	assert.Empty(t, f.transactions(t))

	_, err = f.membership.Renew(ctx, membership.RenewRequest{MemberID: uuid.New(), PlanID: plan.ID, PaymentMethod: billing.MethodCash})
	assert.ErrorIs(t, err, membership.ErrNotFound)
}

// partialDisable disables one row fewer than asked.
type partialDisable struct {
	*memory.Store
}

func (p partialDisable) DisableMemberships(ctx context.Context, ids []uuid.UUID) (int, error) {
	return p.Store.DisableMemberships(ctx, ids[:len(ids)-1])
}

func TestRenewPartialSupersessionRollsBack(t *testing.T) {
	f := newFixtureWithStore(t, func(s *memory.Store) membership.Store { return partialDisable{s} })
	ctx := context.Background()
	plan := f.plan(t, 500, 30)

	first, err := f.membership.Renew(ctx, membership.RenewRequest{
		MemberID: f.member.ID, PlanID: plan.ID, PaymentMethod: billing.MethodCash, IsFullPayment: true,
	})
	require.NoError(t, err)
	txsBefore := len(f.transactions(t))

	_, err = f.membership.Renew(ctx, membership.RenewRequest{
		MemberID: f.member.ID, PlanID: plan.ID, PaymentMethod: billing.MethodCash, IsFullPayment: true,
	})
	require.ErrorIs(t, err, membership.ErrPartialSupersession)

	var partial *membership.PartialSupersessionError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.Requested)
	assert.Equal(t, 0, partial.Disabled)

	ms := f.memberships(t)
	require.Len(t, ms, 1)
	assert.Equal(t, first.Membership.ID, ms[0].ID)
	assert.False(t, ms[0].IsDisabled)
	assert.Len(t, f.transactions(t), txsBefore)
}

func TestRenewIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, 500, 30)
	ctx := context.Background()
	req := membership.RenewRequest{
		MemberID:      f.member.ID,
		PlanID:        plan.ID,
		PaymentMethod: billing.MethodUPI,
		PaidAmount:    money.FromMajor(300),
		RequestID:     "front-desk-7",
	}

	first, err := f.membership.Renew(ctx, req)
	require.NoError(t, err)
	second, err := f.membership.Renew(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Membership.ID, second.Membership.ID)
	require.NotNil(t, second.Transaction)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Len(t, f.memberships(t), 1)
	assert.Len(t, f.transactions(t), 1)
	assert.Equal(t, money.FromMajor(200), second.Member.Balance)

	req.PaidAmount = money.FromMajor(100)
	_, err = f.membership.Renew(ctx, req)
	assert.ErrorIs(t, err, billing.ErrIdempotencyConflict)
}

func TestRenewRejectsRequestIDHeldByPayment(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, 500, 30)
	ctx := context.Background()

	_, err := f.billing.RecordPayment(ctx, billing.PaymentRequest{
		MemberID:  f.member.ID,
		Amount:    money.FromMajor(100),
		Method:    billing.MethodCash,
		RequestID: "K",
	})
	require.NoError(t, err)
	before, err := f.membership.GetMember(ctx, f.member.ID)
	require.NoError(t, err)

	req := membership.RenewRequest{
		MemberID:      f.member.ID,
		PlanID:        plan.ID,
		PaymentMethod: billing.MethodCash,
		PaidAmount:    money.FromMajor(500),
		RequestID:     "K",
	}
	for i := 0; i < 2; i++ {
		_, err = f.membership.Renew(ctx, req)
		assert.ErrorIs(t, err, billing.ErrIdempotencyConflict)
	}

	assert.Empty(t, f.memberships(t))
	assert.Len(t, f.transactions(t), 1)
	after, err := f.membership.GetMember(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Balance, after.Balance)
}

func TestReconcileStatusesIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := func(startOffset, days int, status membership.Status) *membership.Membership {
		start := testNow.AddDate(0, 0, startOffset)
		m := &membership.Membership{
			ID:           uuid.New(),
			MemberID:     f.member.ID,
			PlanID:       uuid.New(),
			DurationDays: days,
			StartDate:    start,
			EndDate:      start.AddDate(0, 0, days),
			Status:       status,
			Price:        money.FromMajor(100),
			CreatedAt:    start,
		}
		require.NoError(t, f.store.InsertMembership(ctx, m))
		return m
	}
	lapsed := seed(-60, 30, membership.StatusActive)
	started := seed(-2, 30, membership.StatusPending)
	seed(10, 30, membership.StatusPending)

	transitions, err := f.membership.ReconcileStatuses(ctx, f.member.ID, testNow)
	require.NoError(t, err)
	assert.ElementsMatch(t, []membership.Transition{
		{MembershipID: lapsed.ID, From: membership.StatusActive, To: membership.StatusExpired},
		{MembershipID: started.ID, From: membership.StatusPending, To: membership.StatusActive},
	}, transitions)

	again, err := f.membership.ReconcileStatuses(ctx, f.member.ID, testNow)
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = f.membership.ReconcileStatuses(ctx, uuid.New(), testNow)
	assert.ErrorIs(t, err, membership.ErrNotFound)
}

func TestReconcileBalanceRepairsDrift(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, 500, 30)
	ctx := context.Background()

	_, err := f.membership.Renew(ctx, membership.RenewRequest{
		MemberID: f.member.ID, PlanID: plan.ID, PaymentMethod: billing.MethodCash,
		Discount: money.FromMajor(50), PaidAmount: money.FromMajor(200),
	})
	require.NoError(t, err)

	// simulate a lost balance write
	b, err := f.store.GetBalance(ctx, f.member.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateBalance(ctx, f.member.ID, money.Zero, b.Version))

	rec, err := f.membership.ReconcileBalance(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, money.FromMajor(450), rec.Charges)
	assert.Equal(t, money.Zero, rec.Previous)
	assert.Equal(t, money.FromMajor(250), rec.Reconciled)

	member, err := f.membership.GetMember(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, money.FromMajor(250), member.Balance)
}

func TestRegisterMemberValidates(t *testing.T) {
	f := newFixture(t)
	_, err := f.membership.RegisterMember(context.Background(), membership.RegisterRequest{Email: "x@example.com"})
	assert.ErrorIs(t, err, membership.ErrInvalidMember)
	_, err = f.membership.RegisterMember(context.Background(), membership.RegisterRequest{Name: "   "})
	assert.ErrorIs(t, err, membership.ErrInvalidMember)

	nameOnly, err := f.membership.RegisterMember(context.Background(), membership.RegisterRequest{Name: " No Contact "})
	require.NoError(t, err)
	assert.Equal(t, "No Contact", nameOnly.Name)
	assert.Empty(t, nameOnly.Email)
}
