// Package chaos runs fault and contention experiments against a running ledger and checks that
// its invariants survive them.
package chaos

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrSteadyStateInvalid = errors.New("chaos: steady state invalid")

// Experiment is a hypothesis checked by sampling metrics while actions disturb the system.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	Duration    time.Duration
}

// Metric is a measurable property of the system.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether value satisfies the threshold. Unknown operators never hold.
func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	}
	return false
}

// Action injects a fault or load, or undoes one.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion is checked against the last observation of Metric.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	Failed           []string               `json:"failed_assertions,omitempty"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type Violation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// GameDay is a named series of experiments run back to back.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Experiment
}

type Engine struct {
	tracer         trace.Tracer
	logger         *zap.Logger
	sampleInterval time.Duration
	cooldown       time.Duration

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

type Option func(*Engine)

// WithSampleInterval sets how often metrics are sampled while an experiment runs.
func WithSampleInterval(d time.Duration) Option {
	return func(e *Engine) { e.sampleInterval = d }
}

// WithCooldown sets the pause between game day scenarios.
func WithCooldown(d time.Duration) Option {
	return func(e *Engine) { e.cooldown = d }
}

func NewEngine(logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		tracer:         otel.Tracer("gymledger/chaos"),
		logger:         logger,
		sampleInterval: time.Second,
		cooldown:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// RunExperiment checks the steady state, runs the method, samples metrics for the experiment's
// duration, rolls back and finally evaluates the assertions.
func (e *Engine) RunExperiment(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
		ErrorEvents:    make([]ErrorEvent, 0),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.checkSteadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: time.Now(), Error: err.Error(), Component: action.Target})
			span.RecordError(err)
		}
	}

	span.AddEvent("observing")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
		}
	}

	result.Failed = e.failedAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.Failed) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

// observe samples every steady-state metric until the experiment's duration elapses. It always
// takes at least one sample.
func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	observeCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	var recoveryStart time.Time
	recovered := false
	sample := func() {
		for _, m := range exp.SteadyState {
			value, err := m.Query(ctx)
			if err != nil {
				result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: time.Now(), Error: err.Error(), Component: m.Name})
				continue
			}
			now := time.Now()
			result.Observations[m.Name] = append(result.Observations[m.Name], DataPoint{Timestamp: now, Value: value})

			if !m.Threshold.Holds(value) {
				if recoveryStart.IsZero() {
					recoveryStart = now
				}
				result.Violations = append(result.Violations, Violation{
					MetricName: m.Name,
					Expected:   m.Threshold.Value,
					Actual:     value,
					Timestamp:  now,
				})
			} else if !recoveryStart.IsZero() && !recovered {
				mttr := now.Sub(recoveryStart)
				result.MTTR = &mttr
				recovered = true
			}
		}
	}

	sample()
	ticker := time.NewTicker(e.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-observeCtx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

func (e *Engine) checkSteadyState(ctx context.Context, metrics []Metric) []Violation {
	var violations []Violation
	for _, m := range metrics {
		value, err := m.Query(ctx)
		if err != nil {
			e.logger.Warn("steady state query failed", zap.String("metric", m.Name), zap.Error(err))
			violations = append(violations, Violation{MetricName: m.Name, Expected: m.Threshold.Value, Actual: -1, Timestamp: time.Now()})
			continue
		}
		if !m.Threshold.Holds(value) {
			violations = append(violations, Violation{MetricName: m.Name, Expected: m.Threshold.Value, Actual: value, Timestamp: time.Now()})
		}
	}
	return violations
}

func (e *Engine) failedAssertions(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, a := range assertions {
		obs := result.Observations[a.Metric]
		if len(obs) == 0 || !a.Condition(obs[len(obs)-1].Value) {
			failed = append(failed, a.Message)
		}
	}
	return failed
}

// ExecuteGameDay runs every scenario and logs its outcome. It returns ctx.Err() if cancelled
// between scenarios.
func (e *Engine) ExecuteGameDay(ctx context.Context, day GameDay) error {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", day.Name)),
	)
	defer span.End()

	e.logger.Info("starting game day", zap.String("name", day.Name), zap.Time("date", day.Date), zap.Int("scenarios", len(day.Scenarios)))

	for i, scenario := range day.Scenarios {
		log := e.logger.With(zap.String("experiment", scenario.Name), zap.Int("index", i+1))
		log.Info("running experiment", zap.String("hypothesis", scenario.Hypothesis))

		result, err := e.RunExperiment(ctx, scenario)
		if err != nil {
			log.Error("experiment aborted", zap.Error(err), zap.Int("violations", len(result.Violations)))
		} else {
			e.logResult(log, result)
		}

		if i == len(day.Scenarios)-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cooldown):
		}
	}
	return nil
}

func (e *Engine) logResult(log *zap.Logger, r *Result) {
	fields := []zap.Field{
		zap.Bool("hypothesis_held", r.HypothesisHeld),
		zap.Int("violations", len(r.Violations)),
		zap.Int("errors", len(r.ErrorEvents)),
		zap.Duration("duration", r.Duration),
	}
	if r.MTTR != nil {
		fields = append(fields, zap.Duration("mttr", *r.MTTR))
	}
	if !r.HypothesisHeld {
		log.Error("hypothesis violated", append(fields, zap.Strings("failed", r.Failed))...)
		return
	}
	log.Info("hypothesis held", fields...)
}
