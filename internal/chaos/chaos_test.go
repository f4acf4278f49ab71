package chaos_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gymledger/internal/billing"
	"gymledger/internal/catalog"
	"gymledger/internal/chaos"
	"gymledger/internal/clock"
	"gymledger/internal/lock"
	"gymledger/internal/membership"
	"gymledger/internal/store/memory"
	"gymledger/pkg/eventstore"
)

func newTarget(t *testing.T) chaos.Target {
	t.Helper()
	store := memory.New()
	journal := eventstore.NewMemoryStore()
	clk := clock.Fixed(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	logger := zap.NewNop()
	locker := lock.NewLocal()

	plans := catalog.NewService(store, journal, clk, logger)
	ledgerSvc := billing.NewService(store, journal, locker, nil, clk, logger)
	return chaos.Target{
		Members:     membership.NewService(store, plans, ledgerSvc, journal, locker, nil, clk, logger),
		Billing:     ledgerSvc,
		Plans:       plans,
		Concurrency: 10,
		Duration:    30 * time.Millisecond,
	}
}

func TestDefaultExperimentsHold(t *testing.T) {
	engine := chaos.NewEngine(zap.NewNop(), chaos.WithSampleInterval(5*time.Millisecond), chaos.WithCooldown(0))
	engine.RegisterDefaults(newTarget(t))

	for _, exp := range engine.Experiments() {
		t.Run(exp.Name, func(t *testing.T) {
			result, err := engine.RunExperiment(context.Background(), exp)
			require.NoError(t, err)
			assert.True(t, result.SteadyStateValid)
			assert.Empty(t, result.ErrorEvents)
			assert.Empty(t, result.Violations)
			assert.True(t, result.HypothesisHeld, result.Failed)
		})
	}
	assert.Len(t, engine.Results(), 2)
}

func TestRunExperimentAbortsOnBadSteadyState(t *testing.T) {
	engine := chaos.NewEngine(zap.NewNop())
	ran := false
	result, err := engine.RunExperiment(context.Background(), chaos.Experiment{
		Name: "broken",
		SteadyState: []chaos.Metric{{
			Name:      "unreachable",
			Query:     func(context.Context) (float64, error) { return 0, errors.New("down") },
			Threshold: chaos.Threshold{Operator: "==", Value: 0},
		}},
		Method: []chaos.Action{{Execute: func(context.Context) error { ran = true; return nil }}},
	})
	require.ErrorIs(t, err, chaos.ErrSteadyStateInvalid)
	assert.False(t, result.SteadyStateValid)
	assert.False(t, ran)
	assert.Empty(t, engine.Results())
}

func TestRunExperimentRecordsViolationsAndRecovery(t *testing.T) {
	engine := chaos.NewEngine(zap.NewNop(), chaos.WithSampleInterval(2*time.Millisecond))
	samples := []float64{0, 3, 3, 0}
	n := 0
	query := func(context.Context) (float64, error) {
		v := samples[len(samples)-1]
		if n < len(samples) {
			v = samples[n]
		}
		n++
		return v, nil
	}

	result, err := engine.RunExperiment(context.Background(), chaos.Experiment{
		Name:        "flappy",
		SteadyState: []chaos.Metric{{Name: "errors", Query: query, Threshold: chaos.Threshold{Operator: "<", Value: 1}}},
		Validation:  []chaos.Assertion{{Metric: "errors", Condition: func(v float64) bool { return v == 0 }, Message: "recovers"}},
		Duration:    40 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Len(t, result.Violations, 2)
	require.NotNil(t, result.MTTR)
	assert.True(t, result.HypothesisHeld)
}

func TestThresholdHolds(t *testing.T) {
	tests := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 2, true},
		{"<", 2, false},
		{">=", 1, true},
		{"<=", 1, true},
		{"==", 1, true},
		{"!=", 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, chaos.Threshold{Operator: tt.op, Value: 1}.Holds(tt.value), tt.op)
	}
}

func TestGameDayStopsOnCancel(t *testing.T) {
	engine := chaos.NewEngine(zap.NewNop(), chaos.WithCooldown(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exp := chaos.Experiment{Name: "noop"}
	err := engine.ExecuteGameDay(ctx, chaos.GameDay{Name: "cancelled", Scenarios: []chaos.Experiment{exp, exp}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, engine.Results(), 1)
}
