package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/mylaniakea/unity/internal/alerting"
	"github.com/mylaniakea/unity/internal/config"
	"github.com/mylaniakea/unity/internal/evaluator"
	"github.com/mylaniakea/unity/internal/model"
	"github.com/mylaniakea/unity/internal/rules"
	"github.com/mylaniakea/unity/internal/storage"
	"github.com/mylaniakea/unity/internal/telemetry"
)

var ignoreDBOpener = goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener")

type staticResources []model.CollectorDescriptor

func (r staticResources) Descriptors() []model.CollectorDescriptor { return r }

// gatedSource blocks EnabledRules until released
type gatedSource struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) EnabledRules(ctx context.Context) ([]model.AlertRule, error) {
	close(g.entered)
	<-g.release
	return nil, nil
}

// slowSource counts calls and blocks each of them until released
type slowSource struct {
	calls   atomic.Int32
	release chan struct{}
}

func (s *slowSource) EnabledRules(ctx context.Context) ([]model.AlertRule, error) {
	s.calls.Add(1)
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil, nil
}

type countingSource struct {
	calls atomic.Int32
}

func (c *countingSource) EnabledRules(context.Context) ([]model.AlertRule, error) {
	c.calls.Add(1)
	return nil, nil
}

type failingSource struct{}

func (failingSource) EnabledRules(context.Context) ([]model.AlertRule, error) {
	return nil, errors.New("rules file unreadable")
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var t0 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func highCPU() model.AlertRule {
	return model.AlertRule{
		ID:           "high-cpu",
		Name:         "High CPU",
		ResourceType: "system",
		Metric:       "cpu_pct",
		Operator:     model.OperatorGreaterThan,
		Threshold:    90,
		Severity:     model.AlertSeverityWarning,
		Enabled:      true,
		Cooldown:     15 * time.Minute,
	}
}

type fixture struct {
	engine    *Engine
	samples   *storage.SQLiteMetricStore
	alerts    *alerting.Manager
	telemetry *telemetry.Metrics
	clock     *clock
}

func newFixture(t *testing.T, source rules.Source, cfg config.EngineConfig) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	db, err := storage.Open(filepath.Join(t.TempDir(), "unity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	samples, err := storage.NewSQLiteMetricStore(logger, db)
	require.NoError(t, err)
	alertStore, err := storage.NewSQLiteAlertStore(logger, db)
	require.NoError(t, err)
	executions, err := storage.NewSQLiteExecutionStore(logger, db)
	require.NoError(t, err)

	metrics := telemetry.NewMetrics()
	c := &clock{now: t0}
	alerts := alerting.NewManager(logger, alertStore, nil, alerting.WithClock(c.Now), alerting.WithMetrics(metrics))

	resources := staticResources{
		{ID: "cpu", Category: "system"},
		{ID: "pg", Category: "database"},
	}

	e := New(logger, cfg, Deps{
		Rules:      source,
		Resources:  resources,
		Evaluator:  evaluator.New(samples),
		Alerts:     alerts,
		Metrics:    samples,
		Executions: executions,
		Telemetry:  metrics,
	}, WithClock(c.Now))

	return &fixture{engine: e, samples: samples, alerts: alerts, telemetry: metrics, clock: c}
}

func TestEngine_RunCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, rules.NewStaticSource(highCPU()), config.EngineConfig{EvaluationInterval: time.Minute})

	require.NoError(t, f.samples.Write(ctx, model.MetricSample{SourceID: "cpu", Metric: "cpu_pct", Timestamp: t0.Add(-10 * time.Second), Value: 95}))

	report, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rules)
	assert.Equal(t, 1, report.Pairs, "the rule only targets system collectors")
	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, 1, report.Transitions[alerting.TransitionTriggered])
	assert.Equal(t, t0, report.StartedAt)

	// a sample written after the cycle start is not seen by that cycle
	require.NoError(t, f.samples.Write(ctx, model.MetricSample{SourceID: "cpu", Metric: "cpu_pct", Timestamp: t0.Add(30 * time.Second), Value: 40}))
	report, err = f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Transitions[alerting.TransitionHeld])

	f.clock.Set(t0.Add(time.Minute))
	report, err = f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Transitions[alerting.TransitionResolved])

	resolved, err := f.alerts.List(ctx, model.AlertFilter{Statuses: []model.AlertStatus{model.AlertStatusResolved}})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, model.ResolutionAutoCleared, resolved[0].Resolution)

	assert.Equal(t, 3.0, testutil.ToFloat64(f.telemetry.EvaluationCycles.WithLabelValues("completed")))
}

func TestEngine_RunCycleAbsentData(t *testing.T) {
	f := newFixture(t, rules.NewStaticSource(highCPU()), config.EngineConfig{})

	report, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Transitions[alerting.TransitionNone])

	open, err := f.alerts.List(context.Background(), model.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestEngine_RunCycleCountsEvaluationErrors(t *testing.T) {
	rule := highCPU()
	rule.Operator = "approx"
	f := newFixture(t, rules.NewStaticSource(rule), config.EngineConfig{})

	report, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.telemetry.EvaluationErrors))
}

func TestEngine_RunCycleRuleSourceFailure(t *testing.T) {
	f := newFixture(t, failingSource{}, config.EngineConfig{})

	_, err := f.engine.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.telemetry.EvaluationCycles.WithLabelValues("failed")))
}

func TestEngine_RunCycleIsSingleFlight(t *testing.T) {
	gate := &gatedSource{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, gate, config.EngineConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.RunCycle(context.Background())
		done <- err
	}()
	<-gate.entered

	_, err := f.engine.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrCycleInProgress)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.telemetry.EvaluationCycles.WithLabelValues("skipped")))

	close(gate.release)
	require.NoError(t, <-done)
}

func TestEngine_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreDBOpener)

	source := &countingSource{}
	f := newFixture(t, source, config.EngineConfig{
		EvaluationInterval: time.Second,
		PruneSchedule:      "@hourly",
	})

	require.NoError(t, f.engine.Start(context.Background()))
	require.ErrorIs(t, f.engine.Start(context.Background()), ErrAlreadyStarted)

	require.Eventually(t, func() bool { return source.calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	f.engine.Stop()
	f.engine.Stop()
	require.ErrorIs(t, f.engine.Start(context.Background()), ErrAlreadyStarted)
}

func TestEngine_ScheduledCycleSkipsWhileRunning(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreDBOpener)

	source := &slowSource{release: make(chan struct{})}
	f := newFixture(t, source, config.EngineConfig{EvaluationInterval: time.Second})
	require.NoError(t, f.engine.Start(context.Background()))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.telemetry.EvaluationCycles.WithLabelValues("skipped")) >= 1
	}, 5*time.Second, 50*time.Millisecond, "a tick during a long cycle is skipped")
	assert.Equal(t, int32(1), source.calls.Load(), "the overlapping tick never reached the rule source")

	close(source.release)
	f.engine.Stop()
}

func TestEngine_StartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, &countingSource{}, config.EngineConfig{
		EvaluationInterval: time.Minute,
		PruneSchedule:      "every so often",
	})
	require.Error(t, f.engine.Start(context.Background()))
}

func TestEngine_Prune(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, rules.NewStaticSource(highCPU()), config.EngineConfig{
		MetricRetention: time.Hour,
		AlertRetention:  time.Hour,
	})

	require.NoError(t, f.samples.WriteBatch(ctx, []model.MetricSample{
		{SourceID: "cpu", Metric: "cpu_pct", Timestamp: t0.Add(-2 * time.Hour), Value: 95},
		{SourceID: "cpu", Metric: "cpu_pct", Timestamp: t0.Add(-time.Minute), Value: 20},
	}))

	report := f.engine.Prune(ctx)
	assert.Equal(t, int64(1), report.Samples)
	assert.Equal(t, int64(0), report.Alerts)
	assert.Equal(t, int64(0), report.Executions, "zero retention keeps execution history")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.telemetry.PrunedRecords.WithLabelValues("samples")))

	latest, err := f.samples.Latest(ctx, "cpu", "cpu_pct")
	require.NoError(t, err)
	assert.Equal(t, 20.0, latest.Value)
}

func TestResourcesFor(t *testing.T) {
	descriptors := []model.CollectorDescriptor{
		{ID: "cpu", Category: "system"},
		{ID: "nas", Category: "disk"},
		{ID: "pg", Category: "database"},
	}

	rule := highCPU()
	assert.Equal(t, []string{"cpu"}, resourcesFor(rule, descriptors))

	rule.ResourceType = "*"
	assert.Equal(t, []string{"cpu", "nas", "pg"}, resourcesFor(rule, descriptors))

	rule.ResourceIDs = []string{"pg", "remote-host"}
	assert.Equal(t, []string{"pg", "remote-host"}, resourcesFor(rule, descriptors))

	rule.ResourceIDs = nil
	rule.ResourceType = "network"
	assert.Empty(t, resourcesFor(rule, descriptors))
}
