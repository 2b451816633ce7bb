package alerting

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/model"
)

// committed runs after a transition is persisted. Delivery happens in the
// background so a slow channel never holds the key lock or the cycle.
func (m *Manager) committed(rule model.AlertRule, alert *model.Alert, action model.AlertAction, actor string, at time.Time) {
	if m.metrics != nil {
		m.metrics.AlertTransitions.WithLabelValues(string(action)).Inc()
	}
	if m.dispatcher == nil {
		return
	}

	event := model.AlertEvent{
		AlertID:    alert.ID,
		RuleID:     alert.RuleID,
		RuleName:   rule.Name,
		ResourceID: alert.ResourceID,
		Action:     action,
		Severity:   alert.Severity,
		Metric:     rule.Metric,
		Operator:   rule.Operator,
		Observed:   alert.ObservedValue,
		Threshold:  alert.Threshold,
		Actor:      actor,
		Message:    alert.Message,
		Channels:   rule.Channels,
		Timestamp:  at,
	}

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.dispatch(event)
	}()
}

func (m *Manager) dispatch(event model.AlertEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), m.dispatchTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.dispatcher.Dispatch(ctx, event)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		if m.metrics != nil {
			m.metrics.DispatchFailures.WithLabelValues(string(event.Action)).Inc()
		}
		m.logger.Warn("Notification dispatch failed",
			zap.String("alert_id", event.AlertID),
			zap.String("action", string(event.Action)),
			zap.Error(err))
		return
	}

	markCtx, markCancel := context.WithTimeout(context.Background(), m.dispatchTimeout)
	defer markCancel()
	if err := m.store.MarkNotified(markCtx, event.AlertID, m.now()); err != nil {
		m.logger.Warn("Failed to record notification time",
			zap.String("alert_id", event.AlertID),
			zap.Error(err))
	}
}
