package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mylaniakea/unity/internal/collector"
	"github.com/mylaniakea/unity/internal/config"
	"github.com/mylaniakea/unity/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		App:       config.AppConfig{Name: "unity-test"},
		Log:       config.LogConfig{Level: "debug"},
		Storage:   config.StorageConfig{Path: filepath.Join(dir, "unity.db")},
		Scheduler: config.SchedulerConfig{PoolSize: 2, HistorySize: 10},
		Engine:    config.EngineConfig{EvaluationInterval: time.Minute},
		Alerting:  config.AlertingConfig{DispatchTimeout: time.Second},
		Rules:     config.RulesConfig{File: filepath.Join(dir, "rules.yaml")},
		Notify: config.NotifyConfig{
			DefaultChannels: []string{"log"},
			Log:             config.LogChannel{Enabled: true},
		},
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "unity version dev\n", out.String())
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "warn", Development: true})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	_, err = newLogger(config.LogConfig{Level: "loud"})
	require.Error(t, err)
}

func TestAppRunOnceAndAdmin(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.close()

	require.NoError(t, a.scheduler.Register(model.CollectorDescriptor{
		ID:       "static",
		Category: "system",
		Interval: time.Minute,
		Enabled:  true,
	}, collector.Func(func(context.Context) (map[string]float64, error) {
		return map[string]float64{"up": 1}, nil
	})))

	record, err := a.scheduler.RunOnce(context.Background(), "static")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, record.Outcome)

	latest, err := a.samples.Latest(context.Background(), "static", "up")
	require.NoError(t, err)
	assert.Equal(t, 1.0, latest.Value)

	server := httptest.NewServer(a.adminRouter())
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/collectors")
	require.NoError(t, err)
	var statuses []model.CollectorHealth
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&statuses))
	resp.Body.Close()
	require.Len(t, statuses, 1)
	assert.Equal(t, model.HealthHealthy, statuses[0].State)

	resp, err = http.Get(server.URL + "/collectors/static/executions")
	require.NoError(t, err)
	var page executionPage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	resp.Body.Close()
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Executions, 1)
	assert.Equal(t, record.ID, page.Executions[0].ID)
	assert.True(t, page.Executions[0].Manual)

	resp, err = http.Get(server.URL + "/collectors/static/executions?outcome=failure")
	require.NoError(t, err)
	page = executionPage{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	resp.Body.Close()
	assert.Equal(t, 0, page.Total)
	assert.Empty(t, page.Executions)

	resp, err = http.Get(server.URL + "/collectors/static/executions?outcome=exploded")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(body.String(), "unity_collector_executions_total"))
}

func TestCollectorsCheck(t *testing.T) {
	require.NoError(t, collectorsCheck(nil))
	require.NoError(t, collectorsCheck([]model.CollectorHealth{
		{CollectorID: "a", State: model.HealthHealthy},
		{CollectorID: "b", State: model.HealthDisabled},
	}))

	err := collectorsCheck([]model.CollectorHealth{
		{CollectorID: "a", State: model.HealthError},
		{CollectorID: "b", State: model.HealthStale},
		{CollectorID: "c", State: model.HealthHealthy},
	})
	require.Error(t, err)
	assert.Equal(t, "unhealthy collectors: a=error, b=stale", err.Error())
}

func TestParseOutcome(t *testing.T) {
	for _, v := range []string{"", "success", "failure", "timeout"} {
		got, err := parseOutcome(v)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionOutcome(v), got)
	}
	_, err := parseOutcome("exploded")
	require.Error(t, err)
}

func TestPrintExecutions(t *testing.T) {
	started := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	page := &executionPage{
		Total: 3,
		Executions: []*model.ExecutionRecord{
			{CollectorID: "nas", StartedAt: started, FinishedAt: started.Add(2 * time.Second), Outcome: model.OutcomeTimeout, Error: "deadline exceeded"},
		},
	}

	var out bytes.Buffer
	require.NoError(t, printExecutions(&out, page))
	assert.Contains(t, out.String(), "timeout")
	assert.Contains(t, out.String(), "deadline exceeded")
	assert.Contains(t, out.String(), "1 of 3 executions")
}
