package database

import (
	"context"
	"testing"

	"suemybrother/internal/platform/config"
)

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: DialectPostgres}
	got := pg.Rebind("SELECT * FROM suits WHERE id = ? AND plaintiff_id = ?")
	want := "SELECT * FROM suits WHERE id = $1 AND plaintiff_id = $2"
	if got != want {
		t.Errorf("Rebind() = %q, want %q", got, want)
	}

	lite := &DB{Dialect: DialectSQLite}
	if q := "SELECT ?"; lite.Rebind(q) != q {
		t.Errorf("sqlite Rebind should not rewrite")
	}
}

func TestDriverFor(t *testing.T) {
	tests := []struct {
		url    string
		driver string
		dsn    string
	}{
		{"postgres://u:p@localhost/db", DialectPostgres, "postgres://u:p@localhost/db"},
		{"postgresql://localhost/db", DialectPostgres, "postgresql://localhost/db"},
		{"file:test.db", DialectSQLite, "test.db?_busy_timeout=5000&_foreign_keys=on"},
		{":memory:", DialectSQLite, ":memory:?_foreign_keys=on"},
		{"", DialectSQLite, ":memory:?_foreign_keys=on"},
	}
	for _, tt := range tests {
		driver, dsn := driverFor(tt.url)
		if driver != tt.driver || dsn != tt.dsn {
			t.Errorf("driverFor(%q) = %s %q, want %s %q", tt.url, driver, dsn, tt.driver, tt.dsn)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(config.DatabaseConfig{URL: ":memory:"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("first Migrate failed: %v", err)
	}
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Expected 1 recorded migration, got %d", n)
	}

	for _, table := range []string{"users", "roles", "user_roles", "payments", "suits", "audit_logs"} {
		if _, err := db.Exec("SELECT COUNT(*) FROM " + table); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestOpen_MemoryEnforcesForeignKeys(t *testing.T) {
	db, err := Open(config.DatabaseConfig{URL: ":memory:"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	var on int
	if err := db.QueryRow(`PRAGMA foreign_keys`).Scan(&on); err != nil {
		t.Fatal(err)
	}
	if on != 1 {
		t.Fatalf("Expected foreign_keys on, got %d", on)
	}

	_, err = db.Exec(`INSERT INTO suits (id, plaintiff_id, defendant_id, created_at) VALUES ('s1', 'nobody', 'nobody', 1)`)
	if err == nil {
		t.Error("Expected a suit with unknown parties to be rejected")
	}
}
