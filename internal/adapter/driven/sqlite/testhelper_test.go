package sqlite

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// openMemoryDB opens a named in-memory database shared by both pools.
func openMemoryDB(ctx context.Context, name string) (*DB, error) {
	dsn := buildDSN(name, "") + "&mode=memory&cache=shared"
	return openDB(ctx, name, dsn)
}

// setupTestDB opens a migrated in-memory database private to the test. The
// name is derived from t.Name(), percent-encoded so it cannot be read as DSN
// query parameters.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := openMemoryDB(context.Background(), url.PathEscape(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunMigrations(db.Writer))
	return db
}

func TestNewDB_FileWithWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tryonkit.db")

	db, err := NewDB(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, RunMigrations(db.Writer))
	// Applying again is a no-op.
	require.NoError(t, RunMigrations(db.Writer))

	var mode string
	require.NoError(t, db.Reader.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	require.Equal(t, "wal", mode)
	require.Equal(t, path, db.Path())
}
