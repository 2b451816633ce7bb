package model

import "time"

// DefaultStaleAfter is the staleness threshold used when a descriptor sets none
const DefaultStaleAfter = 10 * time.Minute

// CollectorDescriptor describes a registered collector and its schedule
type CollectorDescriptor struct {
	ID            string        `json:"id" mapstructure:"id"`
	Name          string        `json:"name" mapstructure:"name"`
	Category      string        `json:"category" mapstructure:"category"`
	Interval      time.Duration `json:"interval" mapstructure:"interval"`
	Timeout       time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`
	StaleAfter    time.Duration `json:"stale_after" mapstructure:"stale_after"`
	Enabled       bool          `json:"enabled" mapstructure:"enabled"`
	RegisteredAt  time.Time     `json:"registered_at"`
	LastExecution *time.Time    `json:"last_execution,omitempty"`
	LastSuccess   *time.Time    `json:"last_success,omitempty"`
}

// ExecutionOutcome is the result class of one collector invocation
type ExecutionOutcome string

const (
	OutcomeSuccess ExecutionOutcome = "success"
	OutcomeFailure ExecutionOutcome = "failure"
	OutcomeTimeout ExecutionOutcome = "timeout"
)

// ExecutionRecord is an immutable record of one collector invocation
type ExecutionRecord struct {
	ID          string           `json:"id"`
	CollectorID string           `json:"collector_id"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Outcome     ExecutionOutcome `json:"outcome"`
	Error       string           `json:"error,omitempty"`
	SampleCount int              `json:"sample_count"`
	Manual      bool             `json:"manual,omitempty"`
}

// Duration returns how long the invocation ran
func (r *ExecutionRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// HealthState is the derived health of a collector
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthStale    HealthState = "stale"
	HealthError    HealthState = "error"
	HealthDisabled HealthState = "disabled"
)

// CollectorHealth is the health surface exposed for one collector
type CollectorHealth struct {
	CollectorID   string           `json:"collector_id"`
	State         HealthState      `json:"state"`
	LastExecution *time.Time       `json:"last_execution,omitempty"`
	LastSuccess   *time.Time       `json:"last_success,omitempty"`
	LastRecord    *ExecutionRecord `json:"last_record,omitempty"`
}
