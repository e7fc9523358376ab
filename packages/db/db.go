// Package db keeps the history of parity runs in SQLite: one row per run
// and one row per compared endpoint.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	environment TEXT NOT NULL,
	suite       TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	total       INTEGER NOT NULL DEFAULT 0,
	passed      INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	errors      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS results (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	endpoint    TEXT NOT NULL,
	path        TEXT NOT NULL,
	params      TEXT NOT NULL DEFAULT '',
	equal       INTEGER NOT NULL,
	status1     INTEGER NOT NULL,
	status2     INTEGER NOT NULL,
	duration1   REAL NOT NULL DEFAULT 0,
	duration2   REAL NOT NULL DEFAULT 0,
	differences TEXT NOT NULL DEFAULT '[]',
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Client represents a database client
type Client struct {
	db           *sql.DB
	path         string
	queryTimeout time.Duration
}

// Open opens, creating when needed, the history database at path. The
// path may carry a "sqlite://" or "sqlite:" prefix.
func Open(path string) (*Client, error) {
	dsn := parseConnectionString(path)
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Client{
		db:           db,
		path:         dsn,
		queryTimeout: 30 * time.Second,
	}, nil
}

// Path returns the database file location.
func (c *Client) Path() string {
	return c.path
}

// Close closes the database connection
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.queryTimeout)
}

// parseConnectionString strips the optional sqlite scheme.
// Supported formats:
// - sqlite://path/to/parity.db
// - sqlite:./parity.db
// - path/to/parity.db
func parseConnectionString(connStr string) string {
	connStr = strings.TrimSpace(connStr)
	if strings.HasPrefix(connStr, "sqlite://") {
		return strings.TrimPrefix(connStr, "sqlite://")
	}
	return strings.TrimPrefix(connStr, "sqlite:")
}
