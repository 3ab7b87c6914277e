package database

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"draftr/internal/platform/config"
)

//go:embed schema.sql
var schema string

// Open picks the pgx driver for postgres URLs and sqlite3 for everything else
// (file paths, "file:" DSNs and ":memory:").
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	driver, dsn := driverFor(cfg.URL)

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == "sqlite3" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY and
		// keeps ":memory:" databases coherent.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func driverFor(url string) (string, string) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return "pgx", url
	}

	dsn := url
	if strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, "?") {
		dsn = strings.TrimPrefix(dsn, "file:")
	}
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	return "sqlite3", dsn
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(db *sqlx.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
