package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

// setupTestDB opens a migrated database in a per-test temp directory, so the
// WAL pragmas and reader/writer split match production.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := RunMigrations(db.Writer); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return db
}
