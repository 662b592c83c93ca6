package testsupport

import (
	"testing"

	"autovideo/internal/config"
	"autovideo/internal/kvstore"
	"autovideo/internal/runstore"
)

// MustOpenRunStore opens a runstore.Store for tests and registers cleanup.
func MustOpenRunStore(t testing.TB, cfg *config.Config) *runstore.Store {
	t.Helper()
	store, err := runstore.Open(cfg)
	if err != nil {
		t.Fatalf("runstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// MustOpenKV opens the configured kvstore backend for tests and registers
// cleanup.
func MustOpenKV(t testing.TB, cfg *config.Config) kvstore.Store {
	t.Helper()
	store, err := kvstore.Open(cfg)
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
