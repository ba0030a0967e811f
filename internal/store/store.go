// Package store persists operator configuration: provider rows that drive
// the source resolver and circuit-breaker settings, and search-engine API
// key rows that seed the key pool.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const ddl = `
CREATE TABLE IF NOT EXISTS provider_configs (
	provider_name     TEXT PRIMARY KEY,
	enabled           INTEGER NOT NULL DEFAULT 1,
	priority          INTEGER NOT NULL DEFAULT 100,
	failure_threshold INTEGER NOT NULL DEFAULT 3,
	cooldown_seconds  INTEGER NOT NULL DEFAULT 300
);

CREATE TABLE IF NOT EXISTS search_api_keys (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	engine          TEXT NOT NULL,
	api_key         TEXT NOT NULL,
	enabled         INTEGER NOT NULL DEFAULT 1,
	weight          INTEGER NOT NULL DEFAULT 1,
	daily_limit     INTEGER,
	used_today      INTEGER NOT NULL DEFAULT 0,
	last_reset_date TEXT NOT NULL DEFAULT '',
	UNIQUE (engine, api_key)
);

CREATE INDEX IF NOT EXISTS idx_search_api_keys_engine ON search_api_keys (engine);
`

// Store wraps the sqlite database holding operator configuration.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening config database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging config database: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	logrus.Infof("Config store opened at %s", path)
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
