package model

import (
	"fmt"
	"math"
	"time"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Valid reports whether s is one of the known severities
func (s AlertSeverity) Valid() bool {
	switch s {
	case AlertSeverityInfo, AlertSeverityWarning, AlertSeverityCritical:
		return true
	}
	return false
}

// Operator is the comparison applied between an observed value and a rule threshold
type Operator string

const (
	OperatorGreaterThan    Operator = "gt"
	OperatorLessThan       Operator = "lt"
	OperatorGreaterOrEqual Operator = "gte"
	OperatorLessOrEqual    Operator = "lte"
	OperatorEqual          Operator = "eq"
	OperatorNotEqual       Operator = "ne"
)

// Valid reports whether op belongs to the closed operator set
func (op Operator) Valid() bool {
	switch op {
	case OperatorGreaterThan, OperatorLessThan, OperatorGreaterOrEqual,
		OperatorLessOrEqual, OperatorEqual, OperatorNotEqual:
		return true
	}
	return false
}

// Symbol returns the infix form used in messages
func (op Operator) Symbol() string {
	switch op {
	case OperatorGreaterThan:
		return ">"
	case OperatorLessThan:
		return "<"
	case OperatorGreaterOrEqual:
		return ">="
	case OperatorLessOrEqual:
		return "<="
	case OperatorEqual:
		return "=="
	case OperatorNotEqual:
		return "!="
	}
	return string(op)
}

// DefaultCooldown is applied to rules loaded from a rules file that do not set one
const DefaultCooldown = 15 * time.Minute

// AlertRule defines a threshold condition on one metric of a class of resources
type AlertRule struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	ResourceType string        `json:"resource_type" yaml:"resource_type"`
	ResourceIDs  []string      `json:"resource_ids,omitempty" yaml:"resource_ids"`
	Metric       string        `json:"metric" yaml:"metric"`
	Operator     Operator      `json:"operator" yaml:"operator"`
	Threshold    float64       `json:"threshold" yaml:"threshold"`
	Severity     AlertSeverity `json:"severity" yaml:"severity"`
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	// Cooldown of zero means no cooldown; rules files default it to DefaultCooldown
	Cooldown     time.Duration `json:"cooldown" yaml:"cooldown"`
	Channels     []string      `json:"channels,omitempty" yaml:"channels"`
}

// Validate checks that the rule is well-formed
func (r *AlertRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Metric == "" {
		return fmt.Errorf("rule %s: metric is required", r.ID)
	}
	if !r.Operator.Valid() {
		return fmt.Errorf("rule %s: unknown operator %q", r.ID, r.Operator)
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		return fmt.Errorf("rule %s: threshold must be a finite number", r.ID)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("rule %s: cooldown must not be negative", r.ID)
	}
	return nil
}

// AppliesTo reports whether the rule targets a resource of the given id and category
func (r *AlertRule) AppliesTo(resourceID, category string) bool {
	if len(r.ResourceIDs) > 0 {
		for _, id := range r.ResourceIDs {
			if id == resourceID {
				return true
			}
		}
		return false
	}
	return r.ResourceType == "" || r.ResourceType == "*" || r.ResourceType == category
}

// AlertStatus represents the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusSnoozed      AlertStatus = "snoozed"
)

// Open reports whether the status blocks a second alert for the same rule and resource
func (s AlertStatus) Open() bool {
	return s == AlertStatusActive || s == AlertStatusAcknowledged || s == AlertStatusSnoozed
}

// ResolutionKind records how an alert reached the resolved state
type ResolutionKind string

const (
	ResolutionManual      ResolutionKind = "manual"
	ResolutionAutoCleared ResolutionKind = "auto-cleared"
)

// Alert represents one firing of a rule against a resource
type Alert struct {
	ID             string         `json:"id"`
	RuleID         string         `json:"rule_id"`
	ResourceID     string         `json:"resource_id"`
	Severity       AlertSeverity  `json:"severity"`
	Status         AlertStatus    `json:"status"`
	ObservedValue  float64        `json:"observed_value"`
	Threshold      float64        `json:"threshold"`
	Message        string         `json:"message"`
	TriggeredAt    time.Time      `json:"triggered_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy     string         `json:"resolved_by,omitempty"`
	Resolution     ResolutionKind `json:"resolution,omitempty"`
	SnoozedUntil   *time.Time     `json:"snoozed_until,omitempty"`
	LastNotifiedAt *time.Time     `json:"last_notified_at,omitempty"`
}

// Key identifies the rule and resource pair an alert belongs to
func (a *Alert) Key() string {
	return AlertKey(a.RuleID, a.ResourceID)
}

// AlertKey builds the deduplication key for a rule and resource
func AlertKey(ruleID, resourceID string) string {
	return ruleID + "|" + resourceID
}

// AlertAction is the lifecycle transition carried by a notification
type AlertAction string

const (
	AlertActionTriggered    AlertAction = "triggered"
	AlertActionAcknowledged AlertAction = "acknowledged"
	AlertActionResolved     AlertAction = "resolved"
	AlertActionSnoozed      AlertAction = "snoozed"
)

// AlertEvent is handed to the notification dispatcher after a transition is committed
type AlertEvent struct {
	AlertID    string        `json:"alert_id"`
	RuleID     string        `json:"rule_id"`
	RuleName   string        `json:"rule_name"`
	ResourceID string        `json:"resource_id"`
	Action     AlertAction   `json:"action"`
	Severity   AlertSeverity `json:"severity"`
	Metric     string        `json:"metric"`
	Operator   Operator      `json:"operator"`
	Observed   float64       `json:"observed_value"`
	Threshold  float64       `json:"threshold"`
	Actor      string        `json:"actor,omitempty"`
	Message    string        `json:"message"`
	Channels   []string      `json:"channels,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// AlertFilter selects alerts from history; zero values match everything
type AlertFilter struct {
	Statuses   []AlertStatus
	Severities []AlertSeverity
	RuleID     string
	ResourceID string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// AlertStats summarises the alert history
type AlertStats struct {
	Total      int                   `json:"total"`
	ByStatus   map[AlertStatus]int   `json:"by_status"`
	BySeverity map[AlertSeverity]int `json:"by_severity"`
}
