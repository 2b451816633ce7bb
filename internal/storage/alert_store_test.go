package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mylaniakea/unity/internal/model"
)

func newTestAlertStore(t *testing.T) *SQLiteAlertStore {
	t.Helper()
	store, err := NewSQLiteAlertStore(zaptest.NewLogger(t), openTestDB(t))
	require.NoError(t, err)
	return store
}

func newAlert(ruleID, resourceID string, triggeredAt time.Time) *model.Alert {
	return &model.Alert{
		ID:            uuid.New().String(),
		RuleID:        ruleID,
		ResourceID:    resourceID,
		Severity:      model.AlertSeverityWarning,
		Status:        model.AlertStatusActive,
		ObservedValue: 91,
		Threshold:     90,
		Message:       "cpu_percent > 90",
		TriggeredAt:   triggeredAt,
	}
}

func TestAlertStore_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestAlertStore(t)
	triggered := time.Date(2026, 3, 1, 8, 0, 0, 123456789, time.UTC)

	alert := newAlert("high-cpu", "node-1", triggered)
	require.NoError(t, store.Insert(ctx, alert))

	got, err := store.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.RuleID, got.RuleID)
	assert.Equal(t, model.AlertStatusActive, got.Status)
	assert.True(t, got.TriggeredAt.Equal(triggered), "timestamps round-trip at nanosecond precision")
	assert.Nil(t, got.AcknowledgedAt)
	assert.Nil(t, got.ResolvedAt)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAlertStore_OneOpenAlertPerKey(t *testing.T) {
	ctx := context.Background()
	store := newTestAlertStore(t)
	now := time.Now()

	first := newAlert("high-cpu", "node-1", now)
	require.NoError(t, store.Insert(ctx, first))

	err := store.Insert(ctx, newAlert("high-cpu", "node-1", now.Add(time.Second)))
	require.ErrorIs(t, err, ErrOpenAlertExists)

	// a different resource is a different key
	require.NoError(t, store.Insert(ctx, newAlert("high-cpu", "node-2", now)))

	resolvedAt := now.Add(time.Minute)
	first.Status = model.AlertStatusResolved
	first.ResolvedAt = &resolvedAt
	first.Resolution = model.ResolutionAutoCleared
	require.NoError(t, store.Update(ctx, first))

	second := newAlert("high-cpu", "node-1", now.Add(2*time.Minute))
	require.NoError(t, store.Insert(ctx, second))

	open, err := store.FindOpen(ctx, "high-cpu", "node-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, open.ID)

	last, err := store.Last(ctx, "high-cpu", "node-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)
}

func TestAlertStore_UpdateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestAlertStore(t)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	alert := newAlert("disk-full", "nas", now)
	require.NoError(t, store.Insert(ctx, alert))

	ackAt := now.Add(time.Minute)
	until := now.Add(time.Hour)
	alert.Status = model.AlertStatusSnoozed
	alert.AcknowledgedAt = &ackAt
	alert.AcknowledgedBy = "alice"
	alert.SnoozedUntil = &until
	require.NoError(t, store.Update(ctx, alert))

	got, err := store.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusSnoozed, got.Status)
	require.NotNil(t, got.AcknowledgedAt)
	assert.True(t, got.AcknowledgedAt.Equal(ackAt))
	assert.Equal(t, "alice", got.AcknowledgedBy)
	require.NotNil(t, got.SnoozedUntil)
	assert.True(t, got.SnoozedUntil.Equal(until))

	err = store.Update(ctx, &model.Alert{ID: "missing", Status: model.AlertStatusResolved})
	require.ErrorIs(t, err, ErrNotFound)

	notified := now.Add(2 * time.Minute)
	require.NoError(t, store.MarkNotified(ctx, alert.ID, notified))
	got, err = store.Get(ctx, alert.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastNotifiedAt)
	assert.True(t, got.LastNotifiedAt.Equal(notified))
	assert.Equal(t, model.AlertStatusSnoozed, got.Status, "marking leaves the lifecycle fields alone")
	require.ErrorIs(t, store.MarkNotified(ctx, "missing", notified), ErrNotFound)

	// a stale copy without the notification time does not clear it
	alert.LastNotifiedAt = nil
	alert.Status = model.AlertStatusActive
	require.NoError(t, store.Update(ctx, alert))
	got, err = store.Get(ctx, alert.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastNotifiedAt)
	assert.True(t, got.LastNotifiedAt.Equal(notified))
}

func TestAlertStore_ListAndStats(t *testing.T) {
	ctx := context.Background()
	store := newTestAlertStore(t)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	a1 := newAlert("high-cpu", "node-1", base)
	a2 := newAlert("high-cpu", "node-2", base.Add(time.Minute))
	a2.Severity = model.AlertSeverityCritical
	a3 := newAlert("disk-full", "nas", base.Add(2*time.Minute))
	resolvedAt := base.Add(3 * time.Minute)
	a3.Status = model.AlertStatusResolved
	a3.ResolvedAt = &resolvedAt

	for _, a := range []*model.Alert{a1, a2, a3} {
		require.NoError(t, store.Insert(ctx, a))
	}

	all, err := store.List(ctx, model.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, a3.ID, all[0].ID, "newest first")

	open, err := store.List(ctx, model.AlertFilter{
		Statuses: []model.AlertStatus{model.AlertStatusActive, model.AlertStatusAcknowledged},
	})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	critical, err := store.List(ctx, model.AlertFilter{Severities: []model.AlertSeverity{model.AlertSeverityCritical}})
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, a2.ID, critical[0].ID)

	windowed, err := store.List(ctx, model.AlertFilter{From: base.Add(30 * time.Second), To: base.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, a2.ID, windowed[0].ID)

	paged, err := store.List(ctx, model.AlertFilter{RuleID: "high-cpu", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, a1.ID, paged[0].ID)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[model.AlertStatusActive])
	assert.Equal(t, 1, stats.ByStatus[model.AlertStatusResolved])
	assert.Equal(t, 1, stats.BySeverity[model.AlertSeverityCritical])

	deleted, err := store.DeleteResolvedBefore(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.Get(ctx, a3.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
