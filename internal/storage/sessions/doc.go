// Package sessions implements auth.Store on SQLite, PostgreSQL and Redis.
//
// The SQL stores carry their schema as embedded migrations and apply it on open.
// The Redis store keeps one JSON value per session and lets key expiry do the purging.
package sessions

import "embed"

//go:embed migrations
var migrations embed.FS

const (
	sqliteMigrations   = "migrations/sqlite"
	postgresMigrations = "migrations/postgres"
)
