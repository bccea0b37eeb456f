// Package testutil provides common test helpers for StatusPipe tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/BTreeMap/StatusPipe/internal/store"
)

// NewSQLiteStore opens a migrated SQLite store in a temporary directory. The
// store is closed when the test ends.
func NewSQLiteStore(t testing.TB) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("failed to open SQLite store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("failed to close SQLite store: %v", err)
		}
	})
	return s
}
