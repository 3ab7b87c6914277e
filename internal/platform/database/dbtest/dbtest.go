// Package dbtest opens migrated in-memory databases for package tests.
package dbtest

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"draftr/internal/platform/config"
	"draftr/internal/platform/database"
)

func New(t testing.TB) *sqlx.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{URL: ":memory:", MaxConnections: 1})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SeedOrganization inserts an organization on the given plan.
func SeedOrganization(t testing.TB, db *sqlx.DB, id, planTier string) {
	t.Helper()

	now := time.Now().Unix()
	_, err := db.Exec(db.Rebind(`
		INSERT INTO organizations (id, slug, name, website_url, plan_tier, created_at, updated_at)
		VALUES (?, ?, ?, '', ?, ?, ?)
	`), id, id, id, planTier, now, now)
	if err != nil {
		t.Fatalf("seed organization %s: %v", id, err)
	}
}
