// Package testutil provides shared testing utilities for Daybreak.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/storage"
)

// FirstDay is the calendar instant most engine tests treat as day 1.
var FirstDay = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// TestDB creates a migrated in-memory SQLite database for testing.
// The database is automatically closed when the test completes.
func TestDB(t *testing.T) *storage.DB {
	t.Helper()

	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	return db
}

// TestContext returns a context with a timeout for tests.
// The context is automatically cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Clock returns a clock frozen at FirstDay.
func Clock() core.FixedClock {
	return core.FixedClock{At: FirstDay}
}

// DefaultResources is the starting state used across engine tests.
func DefaultResources() core.Resources {
	return core.Resources{Energy: 70, Stress: 20, CashOnHand: 50, PhysicalResilience: 50}
}
