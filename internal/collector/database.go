package collector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
)

// DatabaseCollector pings a database and optionally reads one scalar value.
// An unreachable database is reported as up=0 rather than as a failed
// collection so rules can alert on it.
type DatabaseCollector struct {
	db    *sql.DB
	query string
}

// OpenDatabaseCollector opens a pool for driver and dsn. Supported drivers are
// postgres, pgx, mysql and sqlserver.
func OpenDatabaseCollector(driver, dsn, query string) (*DatabaseCollector, error) {
	name, err := driverName(driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database collector: dsn is required")
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", name, err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return NewDatabaseCollector(db, query), nil
}

// NewDatabaseCollector wraps an existing pool
func NewDatabaseCollector(db *sql.DB, query string) *DatabaseCollector {
	return &DatabaseCollector{db: db, query: strings.TrimSpace(query)}
}

func driverName(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql":
		return "postgres", nil
	case "pgx":
		return "pgx", nil
	case "mysql", "mariadb":
		return "mysql", nil
	case "sqlserver", "mssql":
		return "sqlserver", nil
	case "":
		return "", fmt.Errorf("database collector: driver is required")
	default:
		return "", fmt.Errorf("database collector: unsupported driver %q", driver)
	}
}

// Collect implements Collector
func (c *DatabaseCollector) Collect(ctx context.Context) (map[string]float64, error) {
	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return map[string]float64{"up": 0}, nil
	}

	stats := c.db.Stats()
	metrics := map[string]float64{
		"up":               1,
		"ping_latency_ms":  float64(time.Since(start).Microseconds()) / 1000,
		"open_connections": float64(stats.OpenConnections),
		"in_use":           float64(stats.InUse),
	}

	if c.query != "" {
		var value sql.NullFloat64
		if err := c.db.QueryRowContext(ctx, c.query).Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to run metric query: %w", err)
		}
		if value.Valid {
			metrics["query_value"] = value.Float64
		}
	}
	return metrics, nil
}

// Close closes the underlying pool
func (c *DatabaseCollector) Close() error {
	return c.db.Close()
}
