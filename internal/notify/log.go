package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/model"
)

// LogChannel writes events to the structured log
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger.Named("alerts")}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(_ context.Context, event model.AlertEvent) error {
	fields := []zap.Field{
		zap.String("alert_id", event.AlertID),
		zap.String("rule_id", event.RuleID),
		zap.String("resource_id", event.ResourceID),
		zap.String("action", string(event.Action)),
		zap.String("severity", string(event.Severity)),
		zap.Float64("observed", event.Observed),
		zap.Float64("threshold", event.Threshold),
	}
	if event.Actor != "" {
		fields = append(fields, zap.String("actor", event.Actor))
	}

	switch {
	case event.Action == model.AlertActionTriggered && event.Severity == model.AlertSeverityCritical:
		c.logger.Error(FormatMessage(event), fields...)
	case event.Action == model.AlertActionTriggered:
		c.logger.Warn(FormatMessage(event), fields...)
	default:
		c.logger.Info(FormatMessage(event), fields...)
	}
	return nil
}
