package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/config"
	"github.com/mamadbah2/farmledger/internal/repository/sqlstore"
)

// NewTestStore opens a migrated SQLite store in a per-test directory. The
// store is closed when the test completes.
func NewTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver: sqlstore.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "farm.db"),
	}

	store, err := sqlstore.Open(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
