package storage

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mylaniakea/unity/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "unity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestMetricStore(t *testing.T) *SQLiteMetricStore {
	t.Helper()
	store, err := NewSQLiteMetricStore(zaptest.NewLogger(t), openTestDB(t))
	require.NoError(t, err)
	return store
}

func TestMetricStore_WriteAndLatest(t *testing.T) {
	ctx := context.Background()
	store := newTestMetricStore(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Latest(ctx, "node-1", "cpu_percent")
	require.ErrorIs(t, err, ErrNoData)

	require.NoError(t, store.Write(ctx, model.MetricSample{SourceID: "node-1", Metric: "cpu_percent", Timestamp: base, Value: 10}))
	require.NoError(t, store.Write(ctx, model.MetricSample{SourceID: "node-1", Metric: "cpu_percent", Timestamp: base.Add(time.Minute), Value: 20}))

	latest, err := store.Latest(ctx, "node-1", "cpu_percent")
	require.NoError(t, err)
	assert.Equal(t, 20.0, latest.Value)
	assert.True(t, latest.Timestamp.Equal(base.Add(time.Minute)))
	assert.Equal(t, "node-1", latest.SourceID)
}

func TestMetricStore_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := newTestMetricStore(t)
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Write(ctx, model.MetricSample{SourceID: "db", Metric: "up", Timestamp: ts, Value: 1}))
	require.NoError(t, store.Write(ctx, model.MetricSample{SourceID: "db", Metric: "up", Timestamp: ts, Value: 0}))

	samples, err := store.Range(ctx, "db", "up", ts, ts)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 0.0, samples[0].Value)
}

func TestMetricStore_RangeOrderedAndInclusive(t *testing.T) {
	ctx := context.Background()
	store := newTestMetricStore(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// written out of order
	for _, offset := range []int{3, 1, 4, 0, 2} {
		require.NoError(t, store.Write(ctx, model.MetricSample{
			SourceID:  "nas",
			Metric:    "disk_used_percent",
			Timestamp: base.Add(time.Duration(offset) * time.Minute),
			Value:     float64(offset),
		}))
	}

	samples, err := store.Range(ctx, "nas", "disk_used_percent", base.Add(time.Minute), base.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, samples, 3)
	for i, sample := range samples {
		assert.Equal(t, float64(i+1), sample.Value)
	}

	empty, err := store.Range(ctx, "nas", "missing", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestMetricStore_LatestAt(t *testing.T) {
	ctx := context.Background()
	store := newTestMetricStore(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.WriteBatch(ctx, []model.MetricSample{
		{SourceID: "node-1", Metric: "load1", Timestamp: base, Value: 1},
		{SourceID: "node-1", Metric: "load1", Timestamp: base.Add(time.Minute), Value: 2},
	}))

	sample, err := store.LatestAt(ctx, "node-1", "load1", base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1.0, sample.Value)

	_, err = store.LatestAt(ctx, "node-1", "load1", base.Add(-time.Second))
	require.ErrorIs(t, err, ErrNoData)
}

func TestMetricStore_WriteBatchRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store := newTestMetricStore(t)
	ts := time.Now()

	err := store.WriteBatch(ctx, []model.MetricSample{
		{SourceID: "node-1", Metric: "ok", Timestamp: ts, Value: 1},
		{SourceID: "node-1", Metric: "bad", Timestamp: ts, Value: math.NaN()},
	})
	require.ErrorIs(t, err, ErrInvalidSample)

	_, err = store.Latest(ctx, "node-1", "ok")
	require.ErrorIs(t, err, ErrNoData, "batch must not be partially applied")

	err = store.Write(ctx, model.MetricSample{SourceID: "", Metric: "x", Timestamp: ts, Value: 1})
	require.ErrorIs(t, err, ErrInvalidSample)
}

func TestMetricStore_SeriesAndPrune(t *testing.T) {
	ctx := context.Background()
	store := newTestMetricStore(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.WriteBatch(ctx, []model.MetricSample{
		{SourceID: "node-1", Metric: "mem_percent", Timestamp: base, Value: 40},
		{SourceID: "node-1", Metric: "cpu_percent", Timestamp: base, Value: 10},
		{SourceID: "node-1", Metric: "cpu_percent", Timestamp: base.Add(time.Hour), Value: 11},
		{SourceID: "node-2", Metric: "cpu_percent", Timestamp: base, Value: 12},
	}))

	series, err := store.Series(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu_percent", "mem_percent"}, series)

	deleted, err := store.Prune(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	latest, err := store.Latest(ctx, "node-1", "cpu_percent")
	require.NoError(t, err)
	assert.Equal(t, 11.0, latest.Value)

	_, err = store.Latest(ctx, "node-2", "cpu_percent")
	require.ErrorIs(t, err, ErrNoData)
}
