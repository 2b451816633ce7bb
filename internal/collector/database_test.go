package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseCollector_Up(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT count").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	c := NewDatabaseCollector(db, "SELECT count(*) FROM pg_stat_activity")
	metrics, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, metrics["up"])
	assert.Equal(t, 42.0, metrics["query_value"])
	assert.Contains(t, metrics, "ping_latency_ms")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseCollector_Down(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	c := NewDatabaseCollector(db, "")
	metrics, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"up": 0}, metrics)
}

func TestDatabaseCollector_QueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("relation does not exist"))

	c := NewDatabaseCollector(db, "SELECT value FROM missing")
	_, err = c.Collect(context.Background())
	require.ErrorContains(t, err, "failed to run metric query")
}

func TestDriverName(t *testing.T) {
	for in, want := range map[string]string{
		"postgresql": "postgres",
		"pgx":        "pgx",
		"MariaDB":    "mysql",
		"mssql":      "sqlserver",
	} {
		got, err := driverName(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := driverName("")
	require.Error(t, err)
}
