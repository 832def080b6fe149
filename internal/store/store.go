// Package store provides the persistent key-value capability shared by the
// roster, the sync-state tracker and the calendar token cache.
//
// Values written by one process (or one Store handle) become visible to
// others only after their transaction commits and the reader issues a new
// Get. Callers must not assume read-after-write visibility across contexts;
// every component re-reads at the start of its own operation.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrStorage marks every read/write failure of the key-value store.
var ErrStorage = errors.New("storage failure")

// KV is the asynchronous get/set capability consumed by the pipeline.
type KV interface {
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, values map[string][]byte) error
	Delete(ctx context.Context, keys ...string) error
}

// Store is the sqlite-backed KV. Thread-safety: all methods are safe for
// concurrent use via internal mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ KV = (*Store)(nil)

// Open creates a Store at dbPath, creating the schema if needed.
// ":memory:" opens a private in-memory database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, wrap("open", err)
	}

	// A single connection keeps in-memory databases coherent and
	// serializes writers for file databases.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, wrap("ping", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, wrap("enable WAL mode", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, wrap("create tables", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Get returns the stored values for the requested keys. Missing keys are
// absent from the result.
func (s *Store) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM kv WHERE key IN ("+placeholders+")", args...)
	if err != nil {
		return nil, wrap("get", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, wrap("get scan", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("get rows", err)
	}
	return out, nil
}

// Set upserts all values in one transaction.
func (s *Store) Set(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("set begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return wrap("set prepare", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for k, v := range values {
		if v == nil {
			v = []byte{}
		}
		if _, err := stmt.ExecContext(ctx, k, v, now); err != nil {
			return wrap("set "+k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrap("set commit", err)
	}
	return nil
}

// Delete removes keys; missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key IN ("+placeholders+")", args...); err != nil {
		return wrap("delete", err)
	}
	return nil
}

func wrap(op string, err error) error {
	return fmt.Errorf("store: %s: %w: %w", op, ErrStorage, err)
}
