package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/collectiond/internal/database/migrations"
)

// OpenTest opens a migrated database under t.TempDir() and closes it on cleanup.
func OpenTest(tb testing.TB) *sql.DB {
	tb.Helper()

	db, err := Open(context.Background(), filepath.Join(tb.TempDir(), "test.db"), Options{})
	if err != nil {
		tb.Fatalf("opening test database: %v", err)
	}
	tb.Cleanup(func() { db.Close() })

	if err := migrations.Up(db); err != nil {
		tb.Fatalf("migrating test database: %v", err)
	}
	return db
}
