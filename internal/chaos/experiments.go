package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gymledger/internal/billing"
	"gymledger/internal/catalog"
	"gymledger/internal/membership"
	"gymledger/pkg/money"
)

// Target is the running ledger the experiments drive.
type Target struct {
	Members     membership.Service
	Billing     billing.Service
	Plans       catalog.Service
	Concurrency int
	Duration    time.Duration
}

func (t Target) concurrency() int {
	if t.Concurrency <= 0 {
		return 20
	}
	return t.Concurrency
}

// RegisterDefaults registers the built-in experiments against t.
func (e *Engine) RegisterDefaults(t Target) {
	e.Register(ConcurrentRenewalExperiment(t))
	e.Register(ConcurrentPaymentExperiment(t))
}

// seeded tracks the members an experiment created, so metrics only look at its own data.
type seeded struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (s *seeded) add(id uuid.UUID) {
	s.mu.Lock()
	s.ids = append(s.ids, id)
	s.mu.Unlock()
}

func (s *seeded) list() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.ids...)
}

func seedMember(ctx context.Context, t Target, members *seeded, price money.Money) (*membership.Member, *catalog.Plan, error) {
	plan, err := t.Plans.CreatePlan(ctx, catalog.CreatePlanRequest{
		Name:         "chaos-" + uuid.NewString()[:8],
		Price:        price,
		DurationDays: 30,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to seed plan: %w", err)
	}
	member, err := t.Members.RegisterMember(ctx, membership.RegisterRequest{Name: "chaos member"})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to seed member: %w", err)
	}
	members.add(member.ID)
	return member, plan, nil
}

// fanOut runs fn n times concurrently and joins the errors.
func fanOut(n int, fn func(i int) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := fn(i); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// ConcurrentRenewalExperiment fires simultaneous renewals at one member.
func ConcurrentRenewalExperiment(t Target) Experiment {
	members := &seeded{}
	metric := "members_with_multiple_live_memberships"

	return Experiment{
		Name:       "concurrent-renewals",
		Hypothesis: "Simultaneous renewals for one member leave exactly one live membership",
		SteadyState: []Metric{{
			Name:      metric,
			Query:     func(ctx context.Context) (float64, error) { return countMultipleLive(ctx, t, members.list()) },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "membership-renew",
			Execute: func(ctx context.Context) error {
				member, plan, err := seedMember(ctx, t, members, money.FromMajor(500))
				if err != nil {
					return err
				}
				return fanOut(t.concurrency(), func(i int) error {
					_, err := t.Members.Renew(ctx, membership.RenewRequest{
						MemberID:      member.ID,
						PlanID:        plan.ID,
						PaymentMethod: billing.MethodCash,
						IsFullPayment: i%2 == 0,
						PaidAmount:    money.FromMajor(100),
						RequestID:     fmt.Sprintf("chaos-renew-%s-%d", member.ID, i),
					})
					return err
				})
			},
		}},
		Validation: []Assertion{{
			Metric:    metric,
			Condition: func(v float64) bool { return v == 0 },
			Message:   "No member may hold more than one live membership",
		}},
		Duration: t.Duration,
	}
}

// ConcurrentPaymentExperiment races balance payments, some of them overpayments, against one
// member's outstanding balance.
func ConcurrentPaymentExperiment(t Target) Experiment {
	members := &seeded{}
	metric := "members_with_balance_drift"

	return Experiment{
		Name:       "concurrent-payments",
		Hypothesis: "Racing payments never drive a balance away from the ledger's own arithmetic",
		SteadyState: []Metric{{
			Name:      metric,
			Query:     func(ctx context.Context) (float64, error) { return countBalanceDrift(ctx, t, members.list()) },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "billing-pay-outstanding",
			Execute: func(ctx context.Context) error {
				member, plan, err := seedMember(ctx, t, members, money.FromMajor(1000))
				if err != nil {
					return err
				}
				if _, err := t.Members.Renew(ctx, membership.RenewRequest{
					MemberID:      member.ID,
					PlanID:        plan.ID,
					PaymentMethod: billing.MethodCash,
				}); err != nil {
					return fmt.Errorf("failed to open balance: %w", err)
				}

				return fanOut(t.concurrency(), func(i int) error {
					amount := money.FromMajor(10)
					if i%5 == 4 {
						amount = money.FromMajor(5000)
					}
					_, err := t.Billing.PayOutstandingBalance(ctx, billing.PaymentRequest{
						MemberID:  member.ID,
						Amount:    amount,
						Method:    billing.MethodCard,
						RequestID: fmt.Sprintf("chaos-pay-%s-%d", member.ID, i),
					})
					if errors.Is(err, billing.ErrInvalidPaymentAmount) {
						return nil
					}
					return err
				})
			},
		}},
		Validation: []Assertion{{
			Metric:    metric,
			Condition: func(v float64) bool { return v == 0 },
			Message:   "Every stored balance must equal charges minus payments plus refunds",
		}},
		Duration: t.Duration,
	}
}

func countMultipleLive(ctx context.Context, t Target, ids []uuid.UUID) (float64, error) {
	bad := 0
	for _, id := range ids {
		ms, err := t.Members.ListMemberships(ctx, id)
		if err != nil {
			return 0, err
		}
		live := 0
		for _, m := range ms {
			if !m.IsDisabled && m.Status != membership.StatusExpired {
				live++
			}
		}
		if live > 1 {
			bad++
		}
	}
	return float64(bad), nil
}

func countBalanceDrift(ctx context.Context, t Target, ids []uuid.UUID) (float64, error) {
	bad := 0
	for _, id := range ids {
		member, err := t.Members.GetMember(ctx, id)
		if err != nil {
			return 0, err
		}
		ms, err := t.Members.ListMemberships(ctx, id)
		if err != nil {
			return 0, err
		}
		txs, err := t.Billing.ListTransactions(ctx, billing.TransactionFilter{MemberID: &id, Status: billing.StatusCompleted})
		if err != nil {
			return 0, err
		}

		expected := money.Zero
		for _, m := range ms {
			expected = expected.Add(m.NetPrice())
		}
		for _, tx := range txs {
			if tx.Type == billing.TypeRefund {
				expected = expected.Add(tx.Amount)
			} else {
				expected = expected.Sub(tx.Amount)
			}
		}
		if member.Balance != money.Max(expected, money.Zero) {
			bad++
		}
	}
	return float64(bad), nil
}
