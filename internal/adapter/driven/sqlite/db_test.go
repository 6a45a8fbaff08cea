package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDB_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "datagate.db")

	db, err := NewDB(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, path, db.Path())
	assert.FileExists(t, path)
}

func TestSchemaVersion(t *testing.T) {
	db, err := NewDB(context.Background(), filepath.Join(t.TempDir(), "v.db"))
	require.NoError(t, err)
	defer db.Close()

	version, err := SchemaVersion(db.Writer)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)

	require.NoError(t, RunMigrations(db.Writer))
	require.NoError(t, RunMigrations(db.Writer), "second run is a no-op")

	version, err = SchemaVersion(db.Writer)
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
}
