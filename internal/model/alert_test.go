package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRule() AlertRule {
	return AlertRule{
		ID:        "high-cpu",
		Metric:    "cpu_pct",
		Operator:  OperatorGreaterThan,
		Threshold: 90,
		Severity:  AlertSeverityWarning,
		Cooldown:  15 * time.Minute,
	}
}

func TestAlertRule_Validate(t *testing.T) {
	valid := validRule()
	require.NoError(t, valid.Validate())

	tests := map[string]func(r *AlertRule){
		"missing id":        func(r *AlertRule) { r.ID = "" },
		"missing metric":    func(r *AlertRule) { r.Metric = "" },
		"unknown operator":  func(r *AlertRule) { r.Operator = "between" },
		"nan threshold":     func(r *AlertRule) { r.Threshold = math.NaN() },
		"inf threshold":     func(r *AlertRule) { r.Threshold = math.Inf(1) },
		"unknown severity":  func(r *AlertRule) { r.Severity = "page" },
		"negative cooldown": func(r *AlertRule) { r.Cooldown = -time.Second },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			rule := validRule()
			mutate(&rule)
			assert.Error(t, rule.Validate())
		})
	}
}

func TestAlertRule_AppliesTo(t *testing.T) {
	rule := validRule()
	assert.True(t, rule.AppliesTo("node-1", "system"), "empty resource type matches everything")

	rule.ResourceType = "*"
	assert.True(t, rule.AppliesTo("pg", "database"))

	rule.ResourceType = "system"
	assert.True(t, rule.AppliesTo("node-1", "system"))
	assert.False(t, rule.AppliesTo("pg", "database"))

	rule.ResourceIDs = []string{"pg"}
	assert.True(t, rule.AppliesTo("pg", "database"), "explicit ids take precedence over the type")
	assert.False(t, rule.AppliesTo("node-1", "system"))
}

func TestAlertStatus_Open(t *testing.T) {
	assert.True(t, AlertStatusActive.Open())
	assert.True(t, AlertStatusAcknowledged.Open())
	assert.True(t, AlertStatusSnoozed.Open())
	assert.False(t, AlertStatusResolved.Open())
}

func TestOperator_Symbol(t *testing.T) {
	assert.Equal(t, ">=", OperatorGreaterOrEqual.Symbol())
	assert.Equal(t, "!=", OperatorNotEqual.Symbol())
	assert.Equal(t, "weird", Operator("weird").Symbol())
}
