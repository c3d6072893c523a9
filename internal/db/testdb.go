package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// NewTestDB returns an in-memory database with the schema applied. It is
// limited to one connection, so a running transaction blocks other callers.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return openTestDB(t, ":memory:")
}

// NewFileTestDB returns a WAL-mode database in the test's temp directory,
// for tests that need readers alongside a writer.
func NewFileTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return openTestDB(t, filepath.Join(t.TempDir(), "rdb.sqlite3"))
}

func openTestDB(t *testing.T, path string) *sql.DB {
	t.Helper()

	database, err := Open(path)
	if err != nil {
		t.Fatalf("opening test database %s: %v", path, err)
	}
	t.Cleanup(func() { database.Close() })

	if err := EnsureSchema(database); err != nil {
		t.Fatalf("applying schema to %s: %v", path, err)
	}
	return database
}
