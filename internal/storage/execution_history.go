package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/model"
)

// ExecutionFilter selects execution records; zero values match everything
type ExecutionFilter struct {
	CollectorID string
	Outcome     model.ExecutionOutcome
}

// ExecutionStore defines the interface for collector execution history storage
type ExecutionStore interface {
	// Store stores an execution record
	Store(ctx context.Context, record *model.ExecutionRecord) error

	// List retrieves execution records with pagination and filters, newest first
	List(ctx context.Context, filter ExecutionFilter, offset, limit int) ([]*model.ExecutionRecord, error)

	// Count returns the total number of records matching the filter
	Count(ctx context.Context, filter ExecutionFilter) (int, error)

	// DeleteBefore deletes records that started before the specified time
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteExecutionStore implements ExecutionStore using SQLite
type SQLiteExecutionStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteExecutionStore creates a new SQLite-based execution history
func NewSQLiteExecutionStore(logger *zap.Logger, db *sql.DB) (*SQLiteExecutionStore, error) {
	store := &SQLiteExecutionStore{
		logger: logger.Named("execution-history"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteExecutionStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS collector_executions (
			id TEXT PRIMARY KEY,
			collector_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT,
			sample_count INTEGER NOT NULL DEFAULT 0,
			manual INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_collector_executions_collector ON collector_executions(collector_id);
		CREATE INDEX IF NOT EXISTS idx_collector_executions_started_at ON collector_executions(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize execution history: %w", err)
	}
	return nil
}

// Store implements ExecutionStore.Store
func (s *SQLiteExecutionStore) Store(ctx context.Context, record *model.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collector_executions (
			id, collector_id, outcome, error, sample_count, manual, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.CollectorID,
		record.Outcome,
		nullString(record.Error),
		record.SampleCount,
		record.Manual,
		toNanos(record.StartedAt),
		toNanos(record.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store execution record: %w", err)
	}
	return nil
}

func (f ExecutionFilter) where() (string, []interface{}) {
	query := ""
	args := make([]interface{}, 0, 2)
	if f.CollectorID != "" {
		query += " WHERE collector_id = ?"
		args = append(args, f.CollectorID)
	}
	if f.Outcome != "" {
		if len(args) == 0 {
			query += " WHERE"
		} else {
			query += " AND"
		}
		query += " outcome = ?"
		args = append(args, string(f.Outcome))
	}
	return query, args
}

// List implements ExecutionStore.List
func (s *SQLiteExecutionStore) List(ctx context.Context, filter ExecutionFilter, offset, limit int) ([]*model.ExecutionRecord, error) {
	where, args := filter.where()
	query := "SELECT id, collector_id, outcome, error, sample_count, manual, started_at, finished_at FROM collector_executions" +
		where + " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution history: %w", err)
	}
	defer rows.Close()

	var records []*model.ExecutionRecord
	for rows.Next() {
		record := &model.ExecutionRecord{}
		var errorStr sql.NullString
		var startedAt, finishedAt int64

		err := rows.Scan(
			&record.ID,
			&record.CollectorID,
			&record.Outcome,
			&errorStr,
			&record.SampleCount,
			&record.Manual,
			&startedAt,
			&finishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}

		record.Error = errorStr.String
		record.StartedAt = fromNanos(startedAt)
		record.FinishedAt = fromNanos(finishedAt)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return records, nil
}

// Count implements ExecutionStore.Count
func (s *SQLiteExecutionStore) Count(ctx context.Context, filter ExecutionFilter) (int, error) {
	where, args := filter.where()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM collector_executions"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count execution history: %w", err)
	}
	return count, nil
}

// DeleteBefore implements ExecutionStore.DeleteBefore
func (s *SQLiteExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM collector_executions WHERE started_at < ?", toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete execution history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old execution records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}
