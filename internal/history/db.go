// Package history is a separate, non-authoritative audit trail of
// orchestration-router deliveries (spec §4.10, §4.11). Unlike the WAL in
// internal/persistence it can be dropped and rebuilt from nothing without
// affecting recovery fidelity — it exists so an operator can ask "what
// messages did session X receive and when", not to reconstruct hierarchy
// state.
//
// Grounded on the teacher's internal/db package: a single modernc.org/sqlite
// connection capped at one open connection, PRAGMA foreign_keys on, and a
// versioned migration table applied in a transaction at Open time.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the delivery-log sqlite connection.
type DB struct {
	conn *sql.DB
}

// Open creates the database file (and parent directory) at path if needed
// and brings its schema up to date.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("history: database path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create database directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database at %q: %w", path, err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("history: ping database: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("history: enable foreign keys: %w", err)
	}

	if err := RunMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &DB{conn: conn}, nil
}

// SQL exposes the underlying connection for repositories.
func (d *DB) SQL() *sql.DB {
	return d.conn
}

func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
