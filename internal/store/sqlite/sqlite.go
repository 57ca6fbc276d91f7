// Package sqlite wires the Data-Access Port's generic SQL rendering against
// a pure-Go modernc.org/sqlite connection, for local development and tests
// where a Postgres instance isn't worth standing up.
package sqlite

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/nocturneauth/authengine/internal/store"
	"github.com/nocturneauth/authengine/internal/store/sqlstore"
)

// New builds a SQLite-backed store.Port. db is expected to have been opened
// against the "sqlite" driver (see internal/config.NewDB).
func New(db *sql.DB) store.Port {
	return sqlstore.New(db, sqlstore.SQLite{}, func() string { return uuid.NewString() })
}
