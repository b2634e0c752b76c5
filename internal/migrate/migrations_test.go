package migrate_test

import (
	"testing"

	"tracecheck/internal/db"
	"tracecheck/internal/migrate"
)

func TestMigrateCreatesSchema(t *testing.T) {
	conn, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var version int
	if err := conn.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version < 1 {
		t.Fatalf("user_version = %d, want >= 1", version)
	}

	for _, table := range []string{"runs", "run_results", "events"} {
		var n int
		if err := conn.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		if err := migrate.Migrate(conn); err != nil {
			t.Fatalf("migrate #%d: %v", i+1, err)
		}
	}
}
