// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"context"
	"testing"

	"suemybrother/internal/platform/config"
	"suemybrother/internal/platform/database"
)

func New(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{URL: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Failed to migrate db: %v", err)
	}
	return db
}
