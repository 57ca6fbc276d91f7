package config

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewDB opens a connection pool for the configured driver ("postgres" or
// "sqlite"), pings it to fail fast on misconfiguration, and tunes the pool
// the way the host service this was extracted from does.
func NewDB(driver, dsn string, debug bool) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty DB DSN")
	}

	driverName := "pgx"
	if driver == "sqlite" {
		driverName = "sqlite"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(60 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if debug {
		var ver string
		if driver == "sqlite" {
			_ = db.QueryRowContext(ctx, "select sqlite_version()").Scan(&ver)
		} else {
			_ = db.QueryRowContext(ctx, "show server_version").Scan(&ver)
		}
		fmt.Printf("db connected: driver=%s version=%s\n", driver, ver)
	}

	return db, nil
}

// Migrate applies embedded goose migrations. Safe to call on every boot:
// goose tracks applied versions in its own bookkeeping table.
func Migrate(db *sql.DB, driver string) error {
	dialect := goose.DialectPostgres
	if driver == "sqlite" {
		dialect = goose.DialectSQLite3
	}
	if err := goose.SetDialect(string(dialect)); err != nil {
		return err
	}
	goose.SetBaseFS(migrationsFS)
	return goose.Up(db, "migrations")
}
