// Package store provides the durable, queryable, observable Record Store for
// Task records.
//
// The store is backed by embedded SQLite with WAL mode for concurrent access.
// Every record carries a lifecycle status (clean/dirty/tombstoned) plus the
// timestamps the sync engine needs for last-write-wins conflict resolution.
//
// Architecture:
//   - Database file: e.g. ~/.pocketdo/tasks.db
//   - WAL mode: concurrent readers during writes
//   - Schema: tasks table, indexed on record_status and updated_at
//
// Writers are serialized by a store-level mutex so that observer
// notifications are delivered in mutation order. Readers go straight to
// SQLite and are never blocked by the notification path.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with Record Store semantics.
type Store struct {
	conn *sql.DB
	path string

	// writeMu serializes mutations so observers see snapshots in order.
	writeMu sync.Mutex

	observersMu sync.Mutex
	observers   map[int]Observer
	nextObsID   int
	closed      bool
}

// timeFormat is fixed-width (nanoseconds zero-padded, always UTC "Z") so
// the text column sorts chronologically under lexicographic ORDER BY, and
// updated_at equality comparisons made by the sync engine are exact.
// RFC3339Nano is unsuitable here: it strips trailing zeros, and
// variable-length fractions break the ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Open creates a new store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created along with the schema.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open(filepath.Join(home, ".pocketdo", "tasks.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:      conn,
		path:      path,
		observers: make(map[int]Observer),
	}

	// WAL mode for concurrent reads
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	s.observersMu.Lock()
	s.closed = true
	s.observers = make(map[int]Observer)
	s.observersMu.Unlock()

	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// initSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		completed INTEGER NOT NULL DEFAULT 0,
		start_at TEXT,
		end_at TEXT,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		category TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',  -- JSON array
		priority TEXT NOT NULL DEFAULT 'medium',
		location TEXT,    -- JSON object
		reminder TEXT,    -- JSON object
		recurrence TEXT,  -- JSON object
		calendar_event_id TEXT NOT NULL DEFAULT '',

		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		synced_at TEXT,
		record_status TEXT NOT NULL DEFAULT 'dirty'
	);

	-- Indexes for the sync work queue and the materialized active list
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(record_status);
	CREATE INDEX IF NOT EXISTS idx_tasks_updated ON tasks(updated_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_active
	    ON tasks(record_status, updated_at) WHERE record_status != 'tombstoned';
	`

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// execContext runs a statement while the connection may already be closed.
func (s *Store) execContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if s.conn == nil {
		return nil, ErrClosed
	}
	return s.conn.ExecContext(ctx, query, args...)
}
