package testutil

import (
	"testing"
	"time"

	"github.com/p-arndt/rechenkasten/internal/config"
	"github.com/p-arndt/rechenkasten/internal/store"
)

// TestConfig returns the default config rooted in a temporary data
// directory, with an in-memory database and an api key set.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.APIKey = "test-api-key"
	cfg.DBPath = ":memory:"
	cfg.DataDir = t.TempDir()
	cfg.Workers = 2
	return cfg
}

// TestComputer returns a record as the store would hold it.
func TestComputer(id int, status string) *store.Computer {
	now := time.Now().UTC()
	return &store.Computer{
		ID:        id,
		Status:    status,
		BootCount: 1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewTestStore creates an in-memory SQLite store for testing.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:", 0)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
