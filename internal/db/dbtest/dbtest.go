// Package dbtest opens a migrated SQLite database for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/leozw/uptime-sync/internal/db"
)

func Open(t testing.TB) *sqlx.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := db.NewConnection(db.Options{Driver: db.DriverSQLite, URL: "file:" + path})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, db.Migrate(conn))
	return conn
}

func Repository(t testing.TB) *db.Repository {
	t.Helper()
	return db.NewRepository(Open(t))
}
