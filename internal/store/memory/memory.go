// Package memory is an in-process implementation of every domain store, used by tests and the
// memory store driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gymledger/internal/attendance"
	"gymledger/internal/billing"
	"gymledger/internal/catalog"
	"gymledger/internal/membership"
	"gymledger/pkg/money"
)

type txKey struct{}

// undoLog collects compensations for the writes made inside Atomically.
type undoLog struct {
	undo []func()
}

type Store struct {
	mu           sync.Mutex
	members      map[uuid.UUID]*membership.Member
	memberships  map[uuid.UUID]*membership.Membership
	plans        map[uuid.UUID]*catalog.Plan
	transactions []*billing.Transaction
	checkIns     map[uuid.UUID]*attendance.CheckIn
}

func New() *Store {
	return &Store{
		members:     make(map[uuid.UUID]*membership.Member),
		memberships: make(map[uuid.UUID]*membership.Membership),
		plans:       make(map[uuid.UUID]*catalog.Plan),
		checkIns:    make(map[uuid.UUID]*attendance.CheckIn),
	}
}

// Atomically runs fn and, if it fails, undoes every write fn made through this store.
// Writes by other callers in the meantime are left alone.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*undoLog); ok {
		return fn(ctx)
	}

	log := &undoLog{}
	if err := fn(context.WithValue(ctx, txKey{}, log)); err != nil {
		s.mu.Lock()
		for i := len(log.undo) - 1; i >= 0; i-- {
			log.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// onRollback must be called with s.mu held.
func onRollback(ctx context.Context, fn func()) {
	if log, ok := ctx.Value(txKey{}).(*undoLog); ok {
		log.undo = append(log.undo, fn)
	}
}

// Members

func (s *Store) CreateMember(ctx context.Context, m *membership.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	s.members[m.ID] = &cp
	onRollback(ctx, func() { delete(s.members, m.ID) })
	return nil
}

func (s *Store) GetMember(_ context.Context, id uuid.UUID) (*membership.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[id]
	if !ok {
		return nil, membership.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// Memberships

func (s *Store) GetMembership(_ context.Context, id uuid.UUID) (*membership.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memberships[id]
	if !ok {
		return nil, membership.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) GetMembershipByRequestID(_ context.Context, requestID string) (*membership.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.memberships {
		if m.RequestID != nil && *m.RequestID == requestID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, membership.ErrNotFound
}

// ListMemberships returns the member's memberships ordered by start date.
func (s *Store) ListMemberships(_ context.Context, memberID uuid.UUID) ([]*membership.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*membership.Membership
	for _, m := range s.memberships {
		if m.MemberID == memberID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) InsertMembership(ctx context.Context, m *membership.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[m.MemberID]; !ok {
		return membership.ErrNotFound
	}
	cp := *m
	s.memberships[m.ID] = &cp
	onRollback(ctx, func() { delete(s.memberships, m.ID) })
	return nil
}

func (s *Store) UpdateMembershipStatus(ctx context.Context, id uuid.UUID, status membership.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memberships[id]
	if !ok {
		return membership.ErrNotFound
	}
	prev, prevUpdated := m.Status, m.UpdatedAt
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	onRollback(ctx, func() { m.Status, m.UpdatedAt = prev, prevUpdated })
	return nil
}

func (s *Store) DisableMemberships(ctx context.Context, ids []uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	disabled := 0
	for _, id := range ids {
		m, ok := s.memberships[id]
		if !ok || m.IsDisabled {
			continue
		}
		prevUpdated := m.UpdatedAt
		m.IsDisabled = true
		m.UpdatedAt = time.Now().UTC()
		onRollback(ctx, func() { m.IsDisabled, m.UpdatedAt = false, prevUpdated })
		disabled++
	}
	return disabled, nil
}

// Plans

func (s *Store) CreatePlan(_ context.Context, p *catalog.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.plans[p.ID] = &cp
	return nil
}

func (s *Store) GetPlan(_ context.Context, id uuid.UUID) (*catalog.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, catalog.ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

// ListPlans returns global plans plus those of opts.FacilityID, cheapest first.
func (s *Store) ListPlans(_ context.Context, opts catalog.ListOpts) ([]*catalog.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*catalog.Plan
	for _, p := range s.plans {
		if !opts.IncludeRetired && p.Status != catalog.PlanActive {
			continue
		}
		if p.FacilityID != nil && (opts.FacilityID == nil || *opts.FacilityID != *p.FacilityID) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) RetirePlan(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[id]
	if !ok {
		return catalog.ErrPlanNotFound
	}
	p.Status = catalog.PlanRetired
	return nil
}

// Ledger

func (s *Store) InsertTransaction(ctx context.Context, tx *billing.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.RequestID != nil {
		for _, existing := range s.transactions {
			if existing.RequestID != nil && *existing.RequestID == *tx.RequestID {
				return billing.ErrIdempotencyConflict
			}
		}
	}
	if _, ok := s.members[tx.MemberID]; !ok {
		return billing.ErrNotFound
	}

	cp := *tx
	s.transactions = append(s.transactions, &cp)
	onRollback(ctx, func() {
		for i, t := range s.transactions {
			if t.ID == tx.ID {
				s.transactions = append(s.transactions[:i], s.transactions[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (*billing.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range s.transactions {
		if tx.ID == id {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, billing.ErrNotFound
}

func (s *Store) GetTransactionByRequestID(_ context.Context, requestID string) (*billing.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range s.transactions {
		if tx.RequestID != nil && *tx.RequestID == requestID {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, billing.ErrNotFound
}

// ListTransactions returns matching transactions oldest first, ties in insertion order.
func (s *Store) ListTransactions(_ context.Context, f billing.TransactionFilter) ([]*billing.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*billing.Transaction
	for _, tx := range s.transactions {
		switch {
		case f.MemberID != nil && tx.MemberID != *f.MemberID:
			continue
		case f.MembershipID != nil && (tx.MembershipID == nil || *tx.MembershipID != *f.MembershipID):
			continue
		case f.Type != "" && tx.Type != f.Type:
			continue
		case f.Status != "" && tx.Status != f.Status:
			continue
		case f.CreatedBefore != nil && tx.CreatedAt.After(*f.CreatedBefore):
			continue
		}
		cp := *tx
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetBalance(_ context.Context, memberID uuid.UUID) (*billing.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[memberID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return &billing.Balance{MemberID: m.ID, Amount: m.Balance, Version: m.Version}, nil
}

func (s *Store) UpdateBalance(ctx context.Context, memberID uuid.UUID, amount money.Money, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[memberID]
	if !ok {
		return billing.ErrNotFound
	}
	if m.Version != expectedVersion {
		return billing.ErrVersionConflict
	}
	prev, prevVersion, prevUpdated := m.Balance, m.Version, m.UpdatedAt
	m.Balance = amount
	m.Version++
	m.UpdatedAt = time.Now().UTC()
	onRollback(ctx, func() { m.Balance, m.Version, m.UpdatedAt = prev, prevVersion, prevUpdated })
	return nil
}

// Attendance

func (s *Store) InsertCheckIn(_ context.Context, c *attendance.CheckIn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.checkIns[c.ID] = &cp
	return nil
}

func (s *Store) GetCheckIn(_ context.Context, id uuid.UUID) (*attendance.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checkIns[id]
	if !ok {
		return nil, attendance.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) CheckOut(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checkIns[id]
	if !ok {
		return attendance.ErrNotFound
	}
	if c.CheckedOutAt != nil {
		return attendance.ErrAlreadyCheckedOut
	}
	c.CheckedOutAt = &at
	return nil
}

// ListCheckIns returns a member's check-ins newest first.
func (s *Store) ListCheckIns(_ context.Context, memberID uuid.UUID, limit int) ([]*attendance.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*attendance.CheckIn
	for _, c := range s.checkIns {
		if c.MemberID == memberID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckedInAt.After(out[j].CheckedInAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ membership.Store = (*Store)(nil)
	_ billing.Store    = (*Store)(nil)
	_ catalog.Store    = (*Store)(nil)
	_ attendance.Store = (*Store)(nil)
)
