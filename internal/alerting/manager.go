package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/evaluator"
	"github.com/mylaniakea/unity/internal/model"
	"github.com/mylaniakea/unity/internal/notify"
	"github.com/mylaniakea/unity/internal/storage"
	"github.com/mylaniakea/unity/internal/telemetry"
)

// DefaultDispatchTimeout bounds one notification dispatch
const DefaultDispatchTimeout = 10 * time.Second

// Transition describes what Apply did for one rule and resource
type Transition string

const (
	// TransitionNone means there was no open alert and the condition was not met
	TransitionNone Transition = "none"
	// TransitionTriggered means a new alert was opened
	TransitionTriggered Transition = "triggered"
	// TransitionSuppressed means the condition was met inside the cooldown window
	TransitionSuppressed Transition = "suppressed"
	// TransitionHeld means an open alert stays as it is
	TransitionHeld Transition = "held"
	// TransitionReactivated means an expired snooze went back to active
	TransitionReactivated Transition = "reactivated"
	// TransitionResolved means an open alert was auto-resolved
	TransitionResolved Transition = "resolved"
)

// Option customises a Manager
type Option func(*Manager)

// WithDispatchTimeout sets the deadline of each notification dispatch
func WithDispatchTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.dispatchTimeout = d
		}
	}
}

// WithMetrics records transitions and dispatch failures
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithClock replaces the clock used by the explicit lifecycle operations
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager owns the alert lifecycle. Every read-modify-write of an alert runs
// under the mutex of its rule and resource key, so at most one open alert
// exists per key.
type Manager struct {
	logger          *zap.Logger
	store           storage.AlertStore
	dispatcher      notify.Dispatcher
	metrics         *telemetry.Metrics
	dispatchTimeout time.Duration
	now             func() time.Time

	locks *xsync.Map[string, *sync.Mutex]
	rules *xsync.Map[string, model.AlertRule]

	inflight sync.WaitGroup
}

// NewManager creates a lifecycle manager. dispatcher may be nil, in which
// case transitions are committed without notifications and a trigger stamps
// last_notified_at itself.
func NewManager(logger *zap.Logger, store storage.AlertStore, dispatcher notify.Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		logger:          logger.Named("alerting"),
		store:           store,
		dispatcher:      dispatcher,
		dispatchTimeout: DefaultDispatchTimeout,
		now:             time.Now,
		locks:           xsync.NewMap[string, *sync.Mutex](),
		rules:           xsync.NewMap[string, model.AlertRule](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) lock(key string) func() {
	mu, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

// Apply feeds one evaluation result into the state machine of its rule and
// resource. A result without data or with an error counts as not satisfied.
func (m *Manager) Apply(ctx context.Context, rule model.AlertRule, resourceID string, result evaluator.Result, now time.Time) (Transition, error) {
	m.rules.Store(rule.ID, rule)

	unlock := m.lock(model.AlertKey(rule.ID, resourceID))
	defer unlock()

	satisfied := result.Satisfied && result.HasData && result.Err == nil

	open, err := m.store.FindOpen(ctx, rule.ID, resourceID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return TransitionNone, fmt.Errorf("failed to load open alert: %w", err)
	}

	if open == nil {
		if !satisfied {
			return TransitionNone, nil
		}
		return m.trigger(ctx, rule, resourceID, result, now)
	}

	if open.Status == model.AlertStatusSnoozed {
		if open.SnoozedUntil != nil && now.Before(*open.SnoozedUntil) {
			return TransitionHeld, nil
		}
		if satisfied {
			return m.reactivate(ctx, rule, open, result, now)
		}
		return m.autoResolve(ctx, rule, open, now)
	}

	if satisfied {
		return TransitionHeld, nil
	}
	return m.autoResolve(ctx, rule, open, now)
}

func (m *Manager) trigger(ctx context.Context, rule model.AlertRule, resourceID string, result evaluator.Result, now time.Time) (Transition, error) {
	last, err := m.store.Last(ctx, rule.ID, resourceID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return TransitionNone, fmt.Errorf("failed to load previous alert: %w", err)
	}
	if last != nil && inCooldown(last, rule.Cooldown, now) {
		m.logger.Debug("Trigger suppressed by cooldown",
			zap.String("rule_id", rule.ID),
			zap.String("resource_id", resourceID),
			zap.Duration("cooldown", rule.Cooldown))
		return TransitionSuppressed, nil
	}

	alert := &model.Alert{
		ID:            uuid.New().String(),
		RuleID:        rule.ID,
		ResourceID:    resourceID,
		Severity:      rule.Severity,
		Status:        model.AlertStatusActive,
		ObservedValue: result.Observed,
		Threshold:     rule.Threshold,
		Message:       evaluator.Describe(rule, result.Observed),
		TriggeredAt:   now,
	}
	if m.dispatcher == nil {
		// nothing to deliver, the trigger itself is the notification
		notified := now
		alert.LastNotifiedAt = &notified
	}
	if err := m.store.Insert(ctx, alert); err != nil {
		if errors.Is(err, storage.ErrOpenAlertExists) {
			return TransitionHeld, nil
		}
		return TransitionNone, fmt.Errorf("failed to create alert: %w", err)
	}

	m.logger.Info("Alert triggered",
		zap.String("id", alert.ID),
		zap.String("rule_id", rule.ID),
		zap.String("resource_id", resourceID),
		zap.String("severity", string(rule.Severity)),
		zap.Float64("observed", result.Observed))
	m.committed(rule, alert, model.AlertActionTriggered, "", now)
	return TransitionTriggered, nil
}

// inCooldown measures the window from the resolution of the previous alert,
// or from its trigger when it never resolved.
func inCooldown(last *model.Alert, cooldown time.Duration, now time.Time) bool {
	if cooldown <= 0 {
		return false
	}
	ref := last.TriggeredAt
	if last.ResolvedAt != nil {
		ref = *last.ResolvedAt
	}
	return now.Sub(ref) < cooldown
}

func (m *Manager) reactivate(ctx context.Context, rule model.AlertRule, alert *model.Alert, result evaluator.Result, now time.Time) (Transition, error) {
	alert.Status = model.AlertStatusActive
	alert.SnoozedUntil = nil
	alert.ObservedValue = result.Observed
	alert.Message = evaluator.Describe(rule, result.Observed)
	if err := m.store.Update(ctx, alert); err != nil {
		return TransitionNone, fmt.Errorf("failed to reactivate alert: %w", err)
	}
	if m.dispatcher == nil {
		if err := m.store.MarkNotified(ctx, alert.ID, now); err != nil {
			m.logger.Warn("Failed to record notification time",
				zap.String("alert_id", alert.ID),
				zap.Error(err))
		} else {
			notified := now
			alert.LastNotifiedAt = &notified
		}
	}

	m.logger.Info("Snooze expired, alert active again",
		zap.String("id", alert.ID),
		zap.String("rule_id", rule.ID),
		zap.String("resource_id", alert.ResourceID))
	m.committed(rule, alert, model.AlertActionTriggered, "", now)
	return TransitionReactivated, nil
}

func (m *Manager) autoResolve(ctx context.Context, rule model.AlertRule, alert *model.Alert, now time.Time) (Transition, error) {
	resolvedAt := notBefore(now, alert)
	alert.Status = model.AlertStatusResolved
	alert.ResolvedAt = &resolvedAt
	alert.Resolution = model.ResolutionAutoCleared
	alert.SnoozedUntil = nil
	if err := m.store.Update(ctx, alert); err != nil {
		return TransitionNone, fmt.Errorf("failed to resolve alert: %w", err)
	}

	m.logger.Info("Alert auto-resolved",
		zap.String("id", alert.ID),
		zap.String("rule_id", rule.ID),
		zap.String("resource_id", alert.ResourceID))
	m.committed(rule, alert, model.AlertActionResolved, "", resolvedAt)
	return TransitionResolved, nil
}

// Acknowledge moves an active alert to acknowledged
func (m *Manager) Acknowledge(ctx context.Context, id, actor string) (*model.Alert, error) {
	return m.mutate(ctx, id, model.AlertActionAcknowledged, actor, func(alert *model.Alert, now time.Time) error {
		if alert.Status != model.AlertStatusActive {
			return conflict(alert, model.AlertActionAcknowledged)
		}
		alert.Status = model.AlertStatusAcknowledged
		alert.AcknowledgedAt = &now
		alert.AcknowledgedBy = actor
		return nil
	})
}

// Resolve closes any open alert by hand, snoozed ones included, regardless of
// the current condition
func (m *Manager) Resolve(ctx context.Context, id, actor string) (*model.Alert, error) {
	return m.mutate(ctx, id, model.AlertActionResolved, actor, func(alert *model.Alert, now time.Time) error {
		if !alert.Status.Open() {
			return conflict(alert, model.AlertActionResolved)
		}
		alert.Status = model.AlertStatusResolved
		alert.ResolvedAt = &now
		alert.ResolvedBy = actor
		alert.Resolution = model.ResolutionManual
		alert.SnoozedUntil = nil
		return nil
	})
}

// Snooze silences an active or acknowledged alert until the given time
func (m *Manager) Snooze(ctx context.Context, id string, until time.Time, actor string) (*model.Alert, error) {
	return m.mutate(ctx, id, model.AlertActionSnoozed, actor, func(alert *model.Alert, now time.Time) error {
		if alert.Status != model.AlertStatusActive && alert.Status != model.AlertStatusAcknowledged {
			return conflict(alert, model.AlertActionSnoozed)
		}
		if !until.After(now) {
			return ErrInvalidSnooze
		}
		alert.Status = model.AlertStatusSnoozed
		alert.SnoozedUntil = &until
		return nil
	})
}

func (m *Manager) mutate(ctx context.Context, id string, action model.AlertAction, actor string, apply func(*model.Alert, time.Time) error) (*model.Alert, error) {
	current, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := m.lock(current.Key())
	defer unlock()

	// reload under the key lock so a concurrent cycle cannot interleave
	alert, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := notBefore(m.now(), alert)
	if err := apply(alert, now); err != nil {
		return nil, err
	}
	if err := m.store.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}

	m.logger.Info("Alert updated",
		zap.String("id", alert.ID),
		zap.String("action", string(action)),
		zap.String("actor", actor))

	rule, ok := m.rules.Load(alert.RuleID)
	if !ok {
		rule = model.AlertRule{ID: alert.RuleID, Severity: alert.Severity, Threshold: alert.Threshold}
	}
	m.committed(rule, alert, action, actor, now)
	return alert, nil
}

// notBefore keeps lifecycle timestamps ordered when the caller's clock lags
// behind an earlier transition.
func notBefore(now time.Time, alert *model.Alert) time.Time {
	if now.Before(alert.TriggeredAt) {
		now = alert.TriggeredAt
	}
	if alert.AcknowledgedAt != nil && now.Before(*alert.AcknowledgedAt) {
		now = *alert.AcknowledgedAt
	}
	return now
}

// Get retrieves an alert by ID
func (m *Manager) Get(ctx context.Context, id string) (*model.Alert, error) {
	alert, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", id, ErrAlertNotFound)
		}
		return nil, err
	}
	return alert, nil
}

// List returns alerts matching the filter, newest first
func (m *Manager) List(ctx context.Context, filter model.AlertFilter) ([]*model.Alert, error) {
	return m.store.List(ctx, filter)
}

// Stats summarises the alert history
func (m *Manager) Stats(ctx context.Context) (*model.AlertStats, error) {
	return m.store.Stats(ctx)
}

// PruneHistory deletes resolved alerts resolved before the cutoff
func (m *Manager) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	deleted, err := m.store.DeleteResolvedBefore(ctx, before)
	if err != nil {
		return 0, err
	}
	if m.metrics != nil {
		m.metrics.PrunedRecords.WithLabelValues("alerts").Add(float64(deleted))
	}
	return deleted, nil
}

// Wait blocks until every in-flight dispatch has finished or been abandoned
func (m *Manager) Wait() {
	m.inflight.Wait()
}
