// Package storagetest opens migrated in-memory SQLite stores for tests.
package storagetest

import (
	"context"
	"testing"

	"github.com/example/clean-matching/internal/storage"
)

// New returns a fresh store; it is closed when the test ends.
func New(t testing.TB) *storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), "sqlite", ":memory:", 1)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}
