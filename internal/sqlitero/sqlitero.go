// Package sqlitero opens evidence SQLite databases without modifying them.
package sqlitero

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens the SQLite database at path read-only. immutable=1 keeps
// SQLite from creating journal or WAL files next to the evidence.
func Open(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("sqlitero: stat %s: %w", path, err)
	}
	dsn := (&url.URL{Scheme: "file", Path: path, RawQuery: "mode=ro&immutable=1"}).String()
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitero: open %s: %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitero: ping %s: %w", path, err)
	}
	return conn, nil
}
