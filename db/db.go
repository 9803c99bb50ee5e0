// Package db manages the SQLite database holding the deployment event
// history. it exposes a Database struct that wraps *sql.DB and is passed via
// dependency injection to any layer that needs event access.
//
// the authoritative deployment records live in the JSON store owned by the
// tracker package; this database only keeps the append-mostly audit trail,
// which would bloat the JSON document and churn its atomic rewrites.
package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	// the underscore import registers the go-sqlite3 driver with database/sql.
	// only its init() side effect is needed.
	_ "github.com/mattn/go-sqlite3"
)

// Database wraps *sql.DB. wrapping rather than embedding keeps the public
// surface area intentional: only methods defined on this struct are exposed
// to callers, and a driver change stays contained in this package.
type Database struct {
	connection *sql.DB
	logger     *slog.Logger
}

// schema is safe to run on every startup: IF NOT EXISTS creates the table
// and index once and is a no-op after. a single-table history does not need
// a migration library.
const schema = `
CREATE TABLE IF NOT EXISTS deployment_events (
    id            TEXT PRIMARY KEY,
    deployment_id TEXT NOT NULL,
    kind          TEXT NOT NULL,
    detail        TEXT NOT NULL DEFAULT '',
    created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deployment_events_deployment_id
    ON deployment_events (deployment_id);
`

func (database *Database) migrate() error {
	if _, err := database.connection.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema migration: %w", err)
	}
	return nil
}

// OpenDatabase opens the SQLite database at the given file path, runs the
// schema migration, and returns a ready-to-use *Database. the parent
// directory is created if it does not exist, so the caller does not need to
// pre-create the path on disk.
func OpenDatabase(dbPath string, logger *slog.Logger) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %q: %w", dir, err)
	}

	connection, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database at %q: %w", dbPath, err)
	}

	// SQLite does not support concurrent writes from multiple connections.
	// one connection prevents "database is locked" errors under parallel
	// webhook handling.
	connection.SetMaxOpenConns(1)

	database := &Database{
		connection: connection,
		logger:     logger,
	}

	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	logger.Info("events database opened and schema migrated", "path", dbPath)
	return database, nil
}

// CloseDatabase releases the database connection pool.
// should be deferred in main immediately after OpenDatabase returns successfully.
func (database *Database) CloseDatabase() error {
	return database.connection.Close()
}
