// Package store provides SQLite-backed persistence for sessions and
// properties.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/glebarez/go-sqlite"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id            TEXT PRIMARY KEY,
	entity_ref            TEXT NOT NULL DEFAULT '',
	last_executor         TEXT NOT NULL DEFAULT '',
	awaiting_confirmation INTEGER NOT NULL DEFAULT 0,
	pending_action        TEXT NOT NULL DEFAULT '',
	created_at            INTEGER NOT NULL,
	updated_at            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

CREATE TABLE IF NOT EXISTS turns (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id      TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	tool_calls_json TEXT NOT NULL DEFAULT '',
	tool_call_id    TEXT NOT NULL DEFAULT '',
	tool_name       TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	UNIQUE(session_id, seq)
);

CREATE TABLE IF NOT EXISTS properties (
	property_id        TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	address            TEXT NOT NULL DEFAULT '',
	asking_price       REAL,
	market_value       REAL,
	after_repair_value REAL,
	defects_json       TEXT NOT NULL DEFAULT '[]',
	repair_estimate    REAL,
	title_condition    TEXT NOT NULL DEFAULT '',
	stage              TEXT NOT NULL,
	override_note      TEXT NOT NULL DEFAULT '',
	version            INTEGER NOT NULL DEFAULT 1,
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_properties_name ON properties(name COLLATE NOCASE);
`

// Open opens the SQLite database at path with WAL and a busy timeout, and
// runs the schema migration.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL allows concurrent readers but a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schemaV1); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}
