package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/model"
)

// MetricStore defines the interface for time-series metric storage
type MetricStore interface {
	// Write stores a sample; a second write for the same source, metric and timestamp replaces the value
	Write(ctx context.Context, sample model.MetricSample) error

	// WriteBatch stores samples atomically
	WriteBatch(ctx context.Context, samples []model.MetricSample) error

	// Latest returns the most recent sample of a series or ErrNoData
	Latest(ctx context.Context, sourceID, metric string) (model.MetricSample, error)

	// LatestAt returns the most recent sample at or before asOf or ErrNoData
	LatestAt(ctx context.Context, sourceID, metric string, asOf time.Time) (model.MetricSample, error)

	// Range returns samples with from <= timestamp <= to ordered by timestamp
	Range(ctx context.Context, sourceID, metric string, from, to time.Time) ([]model.MetricSample, error)

	// Series lists the metric names stored for a source
	Series(ctx context.Context, sourceID string) ([]string, error)

	// Prune deletes samples older than the cutoff and returns how many were removed
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// SQLiteMetricStore implements MetricStore using SQLite
type SQLiteMetricStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteMetricStore creates a metric store on an open database
func NewSQLiteMetricStore(logger *zap.Logger, db *sql.DB) (*SQLiteMetricStore, error) {
	store := &SQLiteMetricStore{
		logger: logger.Named("metric-store"),
		db:     db,
	}
	if err := store.initialize(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteMetricStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS metric_samples (
			source_id TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			ts INTEGER NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (source_id, metric_name, ts)
		) WITHOUT ROWID;
		CREATE INDEX IF NOT EXISTS idx_metric_samples_ts ON metric_samples(ts);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize metric store: %w", err)
	}
	return nil
}

const upsertSample = `
	INSERT INTO metric_samples (source_id, metric_name, ts, value)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(source_id, metric_name, ts) DO UPDATE SET value = excluded.value`

func validateSample(sample model.MetricSample) error {
	if sample.SourceID == "" || sample.Metric == "" {
		return fmt.Errorf("%w: source and metric are required", ErrInvalidSample)
	}
	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return fmt.Errorf("%w: %s/%s value is not finite", ErrInvalidSample, sample.SourceID, sample.Metric)
	}
	return nil
}

// Write implements MetricStore.Write
func (s *SQLiteMetricStore) Write(ctx context.Context, sample model.MetricSample) error {
	if err := validateSample(sample); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, upsertSample,
		sample.SourceID, sample.Metric, toNanos(sample.Timestamp), sample.Value)
	if err != nil {
		return fmt.Errorf("failed to write sample: %w", err)
	}
	return nil
}

// WriteBatch implements MetricStore.WriteBatch
func (s *SQLiteMetricStore) WriteBatch(ctx context.Context, samples []model.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	for _, sample := range samples {
		if err := validateSample(sample); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSample)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		if _, err := stmt.ExecContext(ctx, sample.SourceID, sample.Metric, toNanos(sample.Timestamp), sample.Value); err != nil {
			return fmt.Errorf("failed to write sample %s/%s: %w", sample.SourceID, sample.Metric, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit samples: %w", err)
	}
	return nil
}

// Latest implements MetricStore.Latest
func (s *SQLiteMetricStore) Latest(ctx context.Context, sourceID, metric string) (model.MetricSample, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ts, value FROM metric_samples
		WHERE source_id = ? AND metric_name = ?
		ORDER BY ts DESC LIMIT 1`, sourceID, metric)
	return scanSample(row, sourceID, metric)
}

// LatestAt implements MetricStore.LatestAt
func (s *SQLiteMetricStore) LatestAt(ctx context.Context, sourceID, metric string, asOf time.Time) (model.MetricSample, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ts, value FROM metric_samples
		WHERE source_id = ? AND metric_name = ? AND ts <= ?
		ORDER BY ts DESC LIMIT 1`, sourceID, metric, toNanos(asOf))
	return scanSample(row, sourceID, metric)
}

func scanSample(row *sql.Row, sourceID, metric string) (model.MetricSample, error) {
	var ts int64
	var value float64
	if err := row.Scan(&ts, &value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.MetricSample{}, ErrNoData
		}
		return model.MetricSample{}, fmt.Errorf("failed to scan sample: %w", err)
	}
	return model.MetricSample{
		SourceID:  sourceID,
		Metric:    metric,
		Timestamp: fromNanos(ts),
		Value:     value,
	}, nil
}

// Range implements MetricStore.Range
func (s *SQLiteMetricStore) Range(ctx context.Context, sourceID, metric string, from, to time.Time) ([]model.MetricSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, value FROM metric_samples
		WHERE source_id = ? AND metric_name = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC`, sourceID, metric, toNanos(from), toNanos(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query range: %w", err)
	}
	defer rows.Close()

	samples := make([]model.MetricSample, 0)
	for rows.Next() {
		var ts int64
		var value float64
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, model.MetricSample{
			SourceID:  sourceID,
			Metric:    metric,
			Timestamp: fromNanos(ts),
			Value:     value,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return samples, nil
}

// Series implements MetricStore.Series
func (s *SQLiteMetricStore) Series(ctx context.Context, sourceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT metric_name FROM metric_samples
		WHERE source_id = ? ORDER BY metric_name`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan series: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Prune implements MetricStore.Prune
func (s *SQLiteMetricStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM metric_samples WHERE ts < ?", toNanos(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Pruned metric samples",
		zap.Time("older_than", olderThan),
		zap.Int64("deleted", affected))

	return affected, nil
}
