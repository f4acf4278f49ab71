package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymledger/internal/attendance"
	"gymledger/internal/billing"
	"gymledger/internal/catalog"
	"gymledger/internal/membership"
	"gymledger/pkg/money"
)

func seedMember(t *testing.T, s *Store) *membership.Member {
	t.Helper()
	m := &membership.Member{ID: uuid.New(), Name: "Asha"}
	require.NoError(t, s.CreateMember(context.Background(), m))
	return m
}

func TestAtomicallyRollsBackOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	member := seedMember(t, s)

	old := &membership.Membership{ID: uuid.New(), MemberID: member.ID, Status: membership.StatusActive}
	require.NoError(t, s.InsertMembership(ctx, old))

	boom := errors.New("boom")
	var bystander *membership.Member
	err := s.Atomically(ctx, func(ctx context.Context) error {
		n, err := s.DisableMemberships(ctx, []uuid.UUID{old.ID})
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.NoError(t, s.UpdateMembershipStatus(ctx, old.ID, membership.StatusExpired))
		require.NoError(t, s.InsertMembership(ctx, &membership.Membership{ID: uuid.New(), MemberID: member.ID}))

		// written outside the transaction context
		bystander = seedMember(t, s)
		return boom
	})
	require.ErrorIs(t, err, boom)

	ms, err := s.ListMemberships(ctx, member.ID)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.False(t, ms[0].IsDisabled)
	assert.Equal(t, membership.StatusActive, ms[0].Status)

	_, err = s.GetMember(ctx, bystander.ID)
	assert.NoError(t, err)
}

func TestUpdateBalanceChecksVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	member := seedMember(t, s)

	require.NoError(t, s.UpdateBalance(ctx, member.ID, money.FromMajor(250), 0))
	assert.ErrorIs(t, s.UpdateBalance(ctx, member.ID, money.FromMajor(100), 0), billing.ErrVersionConflict)

	b, err := s.GetBalance(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, money.FromMajor(250), b.Amount)
	assert.Equal(t, 1, b.Version)

	_, err = s.GetBalance(ctx, uuid.New())
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestInsertTransactionRejectsDuplicateRequestID(t *testing.T) {
	ctx := context.Background()
	s := New()
	member := seedMember(t, s)
	requestID := "renew-1"

	tx := &billing.Transaction{ID: uuid.New(), MemberID: member.ID, Amount: money.FromMajor(10), RequestID: &requestID}
	require.NoError(t, s.InsertTransaction(ctx, tx))

	dup := &billing.Transaction{ID: uuid.New(), MemberID: member.ID, Amount: money.FromMajor(10), RequestID: &requestID}
	assert.ErrorIs(t, s.InsertTransaction(ctx, dup), billing.ErrIdempotencyConflict)

	got, err := s.GetTransactionByRequestID(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
}

func TestListTransactionsFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	member := seedMember(t, s)
	membershipID := uuid.New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, tt := range []struct {
		typ    billing.TransactionType
		status billing.TransactionStatus
		linked bool
	}{
		{billing.TypePayment, billing.StatusCompleted, true},
		{billing.TypePayment, billing.StatusFailed, true},
		{billing.TypeRefund, billing.StatusCompleted, false},
		{billing.TypePayment, billing.StatusCompleted, true},
	} {
		tx := &billing.Transaction{
			ID:        uuid.New(),
			MemberID:  member.ID,
			Amount:    money.FromMajor(int64(i + 1)),
			Type:      tt.typ,
			Status:    tt.status,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if tt.linked {
			tx.MembershipID = &membershipID
		}
		require.NoError(t, s.InsertTransaction(ctx, tx))
	}

	cutoff := base.Add(2 * time.Hour)
	txs, err := s.ListTransactions(ctx, billing.TransactionFilter{
		MembershipID:  &membershipID,
		Type:          billing.TypePayment,
		Status:        billing.StatusCompleted,
		CreatedBefore: &cutoff,
	})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, money.FromMajor(1), txs[0].Amount)

	all, err := s.ListTransactions(ctx, billing.TransactionFilter{MemberID: &member.ID})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.True(t, all[0].CreatedAt.Before(all[3].CreatedAt))
}

func TestListPlansScopesByFacility(t *testing.T) {
	ctx := context.Background()
	s := New()
	facility := uuid.New()
	other := uuid.New()

	plans := []*catalog.Plan{
		{ID: uuid.New(), Name: "Global", Price: money.FromMajor(500), Status: catalog.PlanActive},
		{ID: uuid.New(), Name: "Local", Price: money.FromMajor(300), FacilityID: &facility, Status: catalog.PlanActive},
		{ID: uuid.New(), Name: "Elsewhere", Price: money.FromMajor(200), FacilityID: &other, Status: catalog.PlanActive},
		{ID: uuid.New(), Name: "Old", Price: money.FromMajor(100), Status: catalog.PlanRetired},
	}
	for _, p := range plans {
		require.NoError(t, s.CreatePlan(ctx, p))
	}

	got, err := s.ListPlans(ctx, catalog.ListOpts{FacilityID: &facility})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Local", got[0].Name)
	assert.Equal(t, "Global", got[1].Name)

	global, err := s.ListPlans(ctx, catalog.ListOpts{IncludeRetired: true})
	require.NoError(t, err)
	assert.Len(t, global, 2)

	assert.ErrorIs(t, s.RetirePlan(ctx, uuid.New()), catalog.ErrPlanNotFound)
}

func TestCheckOutOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := &attendance.CheckIn{ID: uuid.New(), MemberID: uuid.New(), CheckedInAt: time.Now()}
	require.NoError(t, s.InsertCheckIn(ctx, c))

	require.NoError(t, s.CheckOut(ctx, c.ID, time.Now()))
	assert.ErrorIs(t, s.CheckOut(ctx, c.ID, time.Now()), attendance.ErrAlreadyCheckedOut)
	assert.ErrorIs(t, s.CheckOut(ctx, uuid.New(), time.Now()), attendance.ErrNotFound)
}
