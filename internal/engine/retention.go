package engine

import (
	"context"

	"go.uber.org/zap"
)

// PruneReport counts the rows removed by one retention pass
type PruneReport struct {
	Samples    int64
	Alerts     int64
	Executions int64
}

// Prune applies the configured retention windows. A zero window keeps
// that kind of history forever.
func (e *Engine) Prune(ctx context.Context) PruneReport {
	var report PruneReport
	now := e.now()

	if e.cfg.MetricRetention > 0 && e.deps.Metrics != nil {
		n, err := e.deps.Metrics.Prune(ctx, now.Add(-e.cfg.MetricRetention))
		report.Samples = n
		e.pruned("samples", n, err)
	}
	if e.cfg.AlertRetention > 0 && e.deps.Alerts != nil {
		n, err := e.deps.Alerts.PruneHistory(ctx, now.Add(-e.cfg.AlertRetention))
		report.Alerts = n
		if err != nil {
			e.logger.Error("Failed to prune alerts", zap.Error(err))
		}
	}
	if e.cfg.ExecutionRetention > 0 && e.deps.Executions != nil {
		n, err := e.deps.Executions.DeleteBefore(ctx, now.Add(-e.cfg.ExecutionRetention))
		report.Executions = n
		e.pruned("executions", n, err)
	}
	return report
}

func (e *Engine) pruned(kind string, n int64, err error) {
	if err != nil {
		e.logger.Error("Failed to prune history", zap.String("kind", kind), zap.Error(err))
		return
	}
	if t := e.deps.Telemetry; t != nil {
		t.PrunedRecords.WithLabelValues(kind).Add(float64(n))
	}
}
