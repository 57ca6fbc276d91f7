// Package postgres wires the Data-Access Port's generic SQL rendering
// against a Postgres connection pool (pgx/v5 stdlib driver, duplicate-key
// mapping, fail-fast pooling). It drives an arbitrary table/record shape
// rather than one fixed users table.
package postgres

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/nocturneauth/authengine/internal/store"
	"github.com/nocturneauth/authengine/internal/store/sqlstore"
)

// New builds a Postgres-backed store.Port. db is expected to have been
// opened against the "pgx" driver (see internal/config.NewDB).
func New(db *sql.DB) store.Port {
	return sqlstore.New(db, sqlstore.Postgres{}, func() string { return uuid.NewString() })
}
