package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the hub's own instrumentation on a private registry
type Metrics struct {
	registry *prometheus.Registry

	CollectorExecutions *prometheus.CounterVec
	CollectorDuration   *prometheus.HistogramVec
	CollectorSkipped    *prometheus.CounterVec
	SamplesWritten      *prometheus.CounterVec
	CollectorHealth     *prometheus.GaugeVec

	EvaluationCycles   *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	EvaluationErrors   prometheus.Counter

	AlertTransitions *prometheus.CounterVec
	DispatchFailures *prometheus.CounterVec
	PrunedRecords    *prometheus.CounterVec
}

// NewMetrics registers all metrics on a fresh registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		CollectorExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unity_collector_executions_total",
			Help: "Collector invocations by outcome",
		}, []string{"collector", "outcome"}),
		CollectorDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "unity_collector_duration_seconds",
			Help:    "Collector invocation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"collector"}),
		CollectorSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unity_collector_skipped_ticks_total",
			Help: "Ticks dropped because the previous run was still in flight or the pool was full",
		}, []string{"collector", "reason"}),
		SamplesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unity_samples_written_total",
			Help: "Metric samples persisted per collector",
		}, []string{"collector"}),
		CollectorHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "unity_collector_health",
			Help: "1 for the current health state of each collector, 0 otherwise",
		}, []string{"collector", "state"}),
		EvaluationCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unity_evaluation_cycles_total",
			Help: "Evaluation cycles by result",
		}, []string{"result"}),
		EvaluationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "unity_evaluation_cycle_duration_seconds",
			Help:    "Evaluation cycle latency",
			Buckets: prometheus.DefBuckets,
		}),
		EvaluationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "unity_evaluation_errors_total",
			Help: "Rule evaluations that failed",
		}),
		AlertTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unity_alert_transitions_total",
			Help: "Committed alert lifecycle transitions",
		}, []string{"action"}),
		DispatchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unity_dispatch_failures_total",
			Help: "Failed notification dispatches",
		}, []string{"action"}),
		PrunedRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unity_pruned_records_total",
			Help: "Rows removed by retention jobs",
		}, []string{"kind"}),
	}
}

// Registry returns the registry for external use
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
