package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/alerting"
	"github.com/mylaniakea/unity/internal/config"
	"github.com/mylaniakea/unity/internal/evaluator"
	"github.com/mylaniakea/unity/internal/model"
	"github.com/mylaniakea/unity/internal/rules"
	"github.com/mylaniakea/unity/internal/telemetry"
)

var (
	ErrCycleInProgress = errors.New("evaluation cycle already in progress")
	ErrAlreadyStarted  = errors.New("engine already started")
)

// ResourceLister lists the registered collectors rules can target
type ResourceLister interface {
	Descriptors() []model.CollectorDescriptor
}

type MetricPruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

type ExecutionPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Deps are the collaborators the engine drives
type Deps struct {
	Rules      rules.Source
	Resources  ResourceLister
	Evaluator  *evaluator.Evaluator
	Alerts     *alerting.Manager
	Metrics    MetricPruner
	Executions ExecutionPruner
	Telemetry  *telemetry.Metrics
}

// CycleReport summarises one evaluation cycle
type CycleReport struct {
	StartedAt   time.Time
	Duration    time.Duration
	Rules       int
	Pairs       int
	Errors      int
	Transitions map[alerting.Transition]int
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// skipLogger receives the skip notices of cron.SkipIfStillRunning, the only
// messages that wrapper logs
type skipLogger struct {
	*cronLogger
	onSkip func()
}

func (l *skipLogger) Info(string, ...interface{}) {
	l.onSkip()
}

// Engine runs the evaluation cycle and the retention jobs on a cron
type Engine struct {
	logger *zap.Logger
	cfg    config.EngineConfig
	deps   Deps
	cron   *cron.Cron
	skip   cron.JobWrapper
	now    func() time.Time

	running atomic.Bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// Option customises an Engine
type Option func(*Engine)

// WithClock replaces the clock that stamps each cycle
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(logger *zap.Logger, cfg config.EngineConfig, deps Deps, opts ...Option) *Engine {
	logger = logger.Named("engine")
	cronLogger := &cronLogger{logger: logger.Named("cron")}

	e := &Engine{
		logger: logger,
		cfg:    cfg,
		deps:   deps,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		now: time.Now,
	}
	e.skip = cron.SkipIfStillRunning(&skipLogger{
		cronLogger: cronLogger,
		onSkip: func() {
			e.logger.Warn("Scheduled evaluation skipped, previous cycle still running")
			e.count("skipped")
		},
	})
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start schedules the evaluation cycle and the retention jobs
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)

	evalSpec := fmt.Sprintf("@every %s", e.cfg.EvaluationInterval)
	evalJob := cron.NewChain(e.skip).Then(cron.FuncJob(func() { e.runScheduledCycle(ctx) }))
	if _, err := e.cron.AddJob(evalSpec, evalJob); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule evaluation: %w", err)
	}

	if e.cfg.PruneSchedule != "" {
		pruneJob := cron.NewChain(cron.SkipIfStillRunning(&cronLogger{logger: e.logger.Named("cron")})).
			Then(cron.FuncJob(func() { e.Prune(ctx) }))
		if _, err := e.cron.AddJob(e.cfg.PruneSchedule, pruneJob); err != nil {
			cancel()
			return fmt.Errorf("invalid prune schedule: %w", err)
		}
	}

	e.cancel = cancel
	e.started = true
	e.cron.Start()

	e.logger.Info("Engine started",
		zap.Duration("evaluation_interval", e.cfg.EvaluationInterval),
		zap.String("prune_schedule", e.cfg.PruneSchedule))
	return nil
}

// Stop cancels running jobs and waits for them and for pending
// notifications. A stopped engine cannot be started again.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return
	}

	e.cancel()
	e.cancel = nil
	<-e.cron.Stop().Done()
	if e.deps.Alerts != nil {
		e.deps.Alerts.Wait()
	}

	e.logger.Info("Engine stopped")
}

func (e *Engine) runScheduledCycle(ctx context.Context) {
	report, err := e.RunCycle(ctx)
	if err != nil {
		if !errors.Is(err, ErrCycleInProgress) {
			e.logger.Error("Evaluation cycle failed", zap.Error(err))
		}
		return
	}
	e.logger.Debug("Evaluation cycle finished",
		zap.Int("rules", report.Rules),
		zap.Int("pairs", report.Pairs),
		zap.Int("errors", report.Errors),
		zap.Duration("duration", report.Duration))
}

// RunCycle evaluates every enabled rule against every resource it applies
// to, as of the cycle start, and feeds the results to the alert manager.
// Cycles never overlap: a call made while one is running is skipped. The
// scheduled job is also wrapped in cron.SkipIfStillRunning.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Warn("Evaluation cycle skipped, previous cycle still running")
		e.count("skipped")
		return nil, ErrCycleInProgress
	}
	defer e.running.Store(false)

	asOf := e.now()
	report := &CycleReport{
		StartedAt:   asOf,
		Transitions: make(map[alerting.Transition]int),
	}

	enabled, err := e.deps.Rules.EnabledRules(ctx)
	if err != nil {
		e.count("failed")
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	report.Rules = len(enabled)

	descriptors := e.deps.Resources.Descriptors()
	for _, rule := range enabled {
		for _, resourceID := range resourcesFor(rule, descriptors) {
			if err := ctx.Err(); err != nil {
				e.count("cancelled")
				return report, err
			}
			report.Pairs++
			e.evaluatePair(ctx, rule, resourceID, asOf, report)
		}
	}

	report.Duration = e.now().Sub(asOf)
	if t := e.deps.Telemetry; t != nil {
		t.EvaluationDuration.Observe(report.Duration.Seconds())
	}
	e.count("completed")
	return report, nil
}

func (e *Engine) evaluatePair(ctx context.Context, rule model.AlertRule, resourceID string, asOf time.Time, report *CycleReport) {
	result := e.deps.Evaluator.Evaluate(ctx, rule, resourceID, asOf)
	if result.Err != nil {
		report.Errors++
		if t := e.deps.Telemetry; t != nil {
			t.EvaluationErrors.Inc()
		}
		e.logger.Warn("Rule evaluation failed",
			zap.String("rule_id", rule.ID),
			zap.String("resource_id", resourceID),
			zap.Error(result.Err))
	}

	transition, err := e.deps.Alerts.Apply(ctx, rule, resourceID, result, asOf)
	if err != nil {
		report.Errors++
		e.logger.Error("Failed to apply evaluation result",
			zap.String("rule_id", rule.ID),
			zap.String("resource_id", resourceID),
			zap.Error(err))
		return
	}
	report.Transitions[transition]++
}

// resourcesFor lists the resources a rule is evaluated against. Explicit
// resource ids are used as given; otherwise the rule targets every
// registered collector of its resource type.
func resourcesFor(rule model.AlertRule, descriptors []model.CollectorDescriptor) []string {
	if len(rule.ResourceIDs) > 0 {
		return rule.ResourceIDs
	}
	var ids []string
	for _, d := range descriptors {
		if rule.AppliesTo(d.ID, d.Category) {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

func (e *Engine) count(result string) {
	if t := e.deps.Telemetry; t != nil {
		t.EvaluationCycles.WithLabelValues(result).Inc()
	}
}
