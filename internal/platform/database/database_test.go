package database

import (
	"testing"

	"draftr/internal/platform/config"
)

func TestDriverFor(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver string
		wantDSN    string
	}{
		{"postgres://u:p@db:5432/draftr", "pgx", "postgres://u:p@db:5432/draftr"},
		{":memory:", "sqlite3", ":memory:"},
		{"file:./draftr.db", "sqlite3", "./draftr.db?_foreign_keys=on&_busy_timeout=5000"},
		{"file:test.db?cache=shared", "sqlite3", "file:test.db?cache=shared"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			driver, dsn := driverFor(tt.url)
			if driver != tt.wantDriver || dsn != tt.wantDSN {
				t.Errorf("driverFor(%q) = %s %s, want %s %s", tt.url, driver, dsn, tt.wantDriver, tt.wantDSN)
			}
		})
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(config.DatabaseConfig{URL: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	for i := 0; i < 2; i++ {
		if err := Migrate(db); err != nil {
			t.Fatalf("Migrate() pass %d error = %v", i+1, err)
		}
	}

	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM workflow_runs`); err != nil {
		t.Fatalf("workflow_runs missing: %v", err)
	}
}
