package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gymledger/internal/attendance"
	"gymledger/internal/clock"
	"gymledger/internal/membership"
	"gymledger/internal/store/memory"
	"gymledger/pkg/eventstore"
	"gymledger/pkg/money"
)

var testNow = time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)

type fakeMemberships struct {
	member  *membership.Member
	current *membership.Membership
}

func (f *fakeMemberships) GetMember(_ context.Context, id uuid.UUID) (*membership.Member, error) {
	if f.member == nil || f.member.ID != id {
		return nil, membership.ErrNotFound
	}
	return f.member, nil
}

func (f *fakeMemberships) CurrentMembership(context.Context, uuid.UUID, time.Time) (*membership.Membership, error) {
	if f.current == nil {
		return nil, membership.ErrNoCurrentMembership
	}
	return f.current, nil
}

func setup(blockOnBalance bool, balance money.Money, withMembership bool) (attendance.Service, *fakeMemberships) {
	member := &membership.Member{ID: uuid.New(), Name: "Dev", Balance: balance}
	fake := &fakeMemberships{member: member}
	if withMembership {
		fake.current = &membership.Membership{ID: uuid.New(), MemberID: member.ID, Status: membership.StatusActive}
	}
	svc := attendance.NewService(memory.New(), fake, eventstore.NewMemoryStore(), clock.Fixed(testNow), zap.NewNop(), blockOnBalance)
	return svc, fake
}

func TestCheckInAndOut(t *testing.T) {
	svc, fake := setup(false, money.FromMajor(100), true)
	ctx := context.Background()
	facility := uuid.New()

	c, err := svc.CheckIn(ctx, fake.member.ID, &facility)
	require.NoError(t, err)
	assert.Equal(t, fake.current.ID, c.MembershipID)
	assert.Equal(t, testNow, c.CheckedInAt)
	assert.Nil(t, c.CheckedOutAt)

	out, err := svc.CheckOut(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, out.CheckedOutAt)
	assert.Equal(t, testNow, *out.CheckedOutAt)

	_, err = svc.CheckOut(ctx, c.ID)
	assert.ErrorIs(t, err, attendance.ErrAlreadyCheckedOut)

	list, err := svc.ListCheckIns(ctx, fake.member.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotNil(t, list[0].CheckedOutAt)
}

func TestCheckInRequiresCurrentMembership(t *testing.T) {
	svc, fake := setup(false, 0, false)
	_, err := svc.CheckIn(context.Background(), fake.member.ID, nil)
	assert.ErrorIs(t, err, attendance.ErrNoCurrentMembership)

	_, err = svc.CheckIn(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, membership.ErrNotFound)
}

func TestCheckInBlocksOnBalance(t *testing.T) {
	svc, fake := setup(true, money.FromMajor(1), true)
	_, err := svc.CheckIn(context.Background(), fake.member.ID, nil)
	assert.ErrorIs(t, err, attendance.ErrOutstandingBalance)

	paid, paidFake := setup(true, money.Zero, true)
	_, err = paid.CheckIn(context.Background(), paidFake.member.ID, nil)
	assert.NoError(t, err)
}

func TestCheckOutUnknown(t *testing.T) {
	svc, _ := setup(false, 0, true)
	_, err := svc.CheckOut(context.Background(), uuid.New())
	assert.ErrorIs(t, err, attendance.ErrNotFound)
}
