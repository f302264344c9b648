// Package ledger records extraction runs, their per-item results and the
// recovery status of requested photos in SQLite.
package ledger

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	container   TEXT NOT NULL,
	layout      TEXT NOT NULL DEFAULT '',
	label       TEXT NOT NULL DEFAULT '',
	output_dir  TEXT NOT NULL DEFAULT '',
	device      TEXT NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS results (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	stage         TEXT NOT NULL,
	position      INTEGER NOT NULL,
	file_id       TEXT NOT NULL DEFAULT '',
	domain        TEXT NOT NULL DEFAULT '',
	relative_path TEXT NOT NULL DEFAULT '',
	display_name  TEXT NOT NULL DEFAULT '',
	outcome       TEXT NOT NULL,
	strategy      TEXT NOT NULL DEFAULT '',
	reason        TEXT NOT NULL DEFAULT '',
	output_path   TEXT NOT NULL DEFAULT '',
	checksum      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, stage, position)
);

CREATE TABLE IF NOT EXISTS records (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	path         TEXT NOT NULL DEFAULT '',
	filename     TEXT NOT NULL,
	scene        TEXT NOT NULL DEFAULT '',
	confidence   INTEGER NOT NULL DEFAULT 0,
	date_created DATETIME,
	date_added   DATETIME,
	recovered    INTEGER,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS artifact_tables (
	run_id  TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	kind    TEXT NOT NULL,
	title   TEXT NOT NULL,
	columns TEXT NOT NULL DEFAULT '[]',
	rows    TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (run_id, kind, title)
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

// DB wraps a sql.DB with ledger operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Ping checks the database connection.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
