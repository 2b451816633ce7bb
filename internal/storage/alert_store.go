package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/model"
)

// AlertStore defines the interface for alert record persistence
type AlertStore interface {
	// Insert stores a new alert; returns ErrOpenAlertExists if the pair already has an open alert
	Insert(ctx context.Context, alert *model.Alert) error

	// Update overwrites the mutable fields of an existing alert
	Update(ctx context.Context, alert *model.Alert) error

	// MarkNotified records the time of the latest successful notification
	MarkNotified(ctx context.Context, id string, at time.Time) error

	// Get retrieves an alert by ID
	Get(ctx context.Context, id string) (*model.Alert, error)

	// FindOpen returns the active, acknowledged or snoozed alert for a rule and resource
	FindOpen(ctx context.Context, ruleID, resourceID string) (*model.Alert, error)

	// Last returns the most recently triggered alert for a rule and resource
	Last(ctx context.Context, ruleID, resourceID string) (*model.Alert, error)

	// List retrieves alerts matching the filter, newest first
	List(ctx context.Context, filter model.AlertFilter) ([]*model.Alert, error)

	// Stats counts alerts by status and severity
	Stats(ctx context.Context) (*model.AlertStats, error)

	// DeleteResolvedBefore deletes resolved alerts whose resolution is older than the cutoff
	DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteAlertStore implements AlertStore using SQLite
type SQLiteAlertStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteAlertStore creates an alert store on an open database
func NewSQLiteAlertStore(logger *zap.Logger, db *sql.DB) (*SQLiteAlertStore, error) {
	store := &SQLiteAlertStore{
		logger: logger.Named("alert-store"),
		db:     db,
	}
	if err := store.initialize(); err != nil {
		return nil, err
	}
	return store, nil
}

// initialize creates the alerts table. The partial unique index guarantees at
// most one open alert per rule and resource.
func (s *SQLiteAlertStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			observed_value REAL NOT NULL,
			threshold REAL NOT NULL,
			message TEXT,
			triggered_at INTEGER NOT NULL,
			acknowledged_at INTEGER,
			acknowledged_by TEXT,
			resolved_at INTEGER,
			resolved_by TEXT,
			resolution TEXT,
			snoozed_until INTEGER,
			last_notified_at INTEGER
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open
			ON alerts(rule_id, resource_id)
			WHERE status IN ('active', 'acknowledged', 'snoozed');
		CREATE INDEX IF NOT EXISTS idx_alerts_key ON alerts(rule_id, resource_id, triggered_at);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
		CREATE INDEX IF NOT EXISTS idx_alerts_triggered_at ON alerts(triggered_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize alert store: %w", err)
	}
	return nil
}

const alertColumns = `id, rule_id, resource_id, severity, status, observed_value, threshold, message,
	triggered_at, acknowledged_at, acknowledged_by, resolved_at, resolved_by, resolution,
	snoozed_until, last_notified_at`

// Insert implements AlertStore.Insert
func (s *SQLiteAlertStore) Insert(ctx context.Context, alert *model.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.RuleID,
		alert.ResourceID,
		alert.Severity,
		alert.Status,
		alert.ObservedValue,
		alert.Threshold,
		alert.Message,
		toNanos(alert.TriggeredAt),
		nullNanos(alert.AcknowledgedAt),
		nullString(alert.AcknowledgedBy),
		nullNanos(alert.ResolvedAt),
		nullString(alert.ResolvedBy),
		nullString(string(alert.Resolution)),
		nullNanos(alert.SnoozedUntil),
		nullNanos(alert.LastNotifiedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrOpenAlertExists
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Update implements AlertStore.Update. last_notified_at is left to MarkNotified.
func (s *SQLiteAlertStore) Update(ctx context.Context, alert *model.Alert) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET
			status = ?,
			observed_value = ?,
			message = ?,
			acknowledged_at = ?,
			acknowledged_by = ?,
			resolved_at = ?,
			resolved_by = ?,
			resolution = ?,
			snoozed_until = ?
		WHERE id = ?`,
		alert.Status,
		alert.ObservedValue,
		alert.Message,
		nullNanos(alert.AcknowledgedAt),
		nullString(alert.AcknowledgedBy),
		nullNanos(alert.ResolvedAt),
		nullString(alert.ResolvedBy),
		nullString(string(alert.Resolution)),
		nullNanos(alert.SnoozedUntil),
		alert.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrOpenAlertExists
		}
		return fmt.Errorf("failed to update alert: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkNotified implements AlertStore.MarkNotified
func (s *SQLiteAlertStore) MarkNotified(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET last_notified_at = ? WHERE id = ?`, toNanos(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark alert notified: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get implements AlertStore.Get
func (s *SQLiteAlertStore) Get(ctx context.Context, id string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	return scanAlert(row)
}

// FindOpen implements AlertStore.FindOpen
func (s *SQLiteAlertStore) FindOpen(ctx context.Context, ruleID, resourceID string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE rule_id = ? AND resource_id = ? AND status IN ('active', 'acknowledged', 'snoozed')
		LIMIT 1`, ruleID, resourceID)
	return scanAlert(row)
}

// Last implements AlertStore.Last
func (s *SQLiteAlertStore) Last(ctx context.Context, ruleID, resourceID string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE rule_id = ? AND resource_id = ?
		ORDER BY triggered_at DESC LIMIT 1`, ruleID, resourceID)
	return scanAlert(row)
}

// List implements AlertStore.List
func (s *SQLiteAlertStore) List(ctx context.Context, filter model.AlertFilter) ([]*model.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts"
	where, args := buildAlertFilter(filter)
	query += where + " ORDER BY triggered_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	} else if filter.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return alerts, nil
}

func buildAlertFilter(filter model.AlertFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if len(filter.Severities) > 0 {
		clauses = append(clauses, "severity IN ("+placeholders(len(filter.Severities))+")")
		for _, severity := range filter.Severities {
			args = append(args, string(severity))
		}
	}
	if filter.RuleID != "" {
		clauses = append(clauses, "rule_id = ?")
		args = append(args, filter.RuleID)
	}
	if filter.ResourceID != "" {
		clauses = append(clauses, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	if !filter.From.IsZero() {
		clauses = append(clauses, "triggered_at >= ?")
		args = append(args, toNanos(filter.From))
	}
	if !filter.To.IsZero() {
		clauses = append(clauses, "triggered_at <= ?")
		args = append(args, toNanos(filter.To))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Stats implements AlertStore.Stats
func (s *SQLiteAlertStore) Stats(ctx context.Context) (*model.AlertStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, severity, COUNT(*) FROM alerts GROUP BY status, severity`)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	defer rows.Close()

	stats := &model.AlertStats{
		ByStatus:   make(map[model.AlertStatus]int),
		BySeverity: make(map[model.AlertSeverity]int),
	}
	for rows.Next() {
		var status model.AlertStatus
		var severity model.AlertSeverity
		var count int
		if err := rows.Scan(&status, &severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan alert count: %w", err)
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.BySeverity[severity] += count
	}
	return stats, rows.Err()
}

// DeleteResolvedBefore implements AlertStore.DeleteResolvedBefore
func (s *SQLiteAlertStore) DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM alerts WHERE status = 'resolved' AND resolved_at < ?", toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete alerts: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted resolved alerts",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*model.Alert, error) {
	var alert model.Alert
	var message, ackBy, resolvedBy, resolution sql.NullString
	var triggeredAt int64
	var ackAt, resolvedAt, snoozedUntil, lastNotified sql.NullInt64

	err := row.Scan(
		&alert.ID,
		&alert.RuleID,
		&alert.ResourceID,
		&alert.Severity,
		&alert.Status,
		&alert.ObservedValue,
		&alert.Threshold,
		&message,
		&triggeredAt,
		&ackAt,
		&ackBy,
		&resolvedAt,
		&resolvedBy,
		&resolution,
		&snoozedUntil,
		&lastNotified,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}

	alert.Message = message.String
	alert.TriggeredAt = fromNanos(triggeredAt)
	alert.AcknowledgedAt = timePtr(ackAt)
	alert.AcknowledgedBy = ackBy.String
	alert.ResolvedAt = timePtr(resolvedAt)
	alert.ResolvedBy = resolvedBy.String
	alert.Resolution = model.ResolutionKind(resolution.String)
	alert.SnoozedUntil = timePtr(snoozedUntil)
	alert.LastNotifiedAt = timePtr(lastNotified)

	return &alert, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
