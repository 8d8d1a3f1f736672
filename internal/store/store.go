// Package store provides the durable key/value store backing all
// cross-context handoffs. It is a passive structure with no business logic:
// the coordinator is the sole orchestrator of what goes in and out.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Key namespaces. One value per in-flight entity, keyed by id.
const (
	KeyRecordingState   = "recording_state"
	PrefixRegionSession = "region_session_"
	PrefixPendingVideo  = "pending_video_"
	PrefixPendingRegion = "pending_region_"
	KeyHasPendingVideo  = "has_pending_video"
	KeyHasPendingRegion = "has_pending_region"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("store: key not found")

// Config holds store configuration.
type Config struct {
	Path     string // Path to the SQLite database file, or ":memory:"
	MaxConns int    // Maximum open connections (default: 4)
}

// Store is the SQLite-backed KV store. Values are JSON blobs with a
// written-at timestamp used by the retention sweeps.
type Store struct {
	db *sql.DB
}

// New opens the store, creates the schema, and enables WAL mode.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			written_at INTEGER NOT NULL
		)
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	// WAL mode and a busy timeout so concurrent writers retry instead of
	// failing immediately.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes value under key, replacing any previous value. The write is
// committed before Put returns; state transitions rely on that.
func (s *Store) Put(ctx context.Context, key string, value any) error {
	blob, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	const query = `
		INSERT INTO kv (key, value, written_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, written_at = excluded.written_at
	`
	_, err = s.db.ExecContext(ctx, query, key, blob, time.Now().UnixMilli())
	return err
}

// Get reads the value under key into out. Returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, key string, out any) error {
	const query = `SELECT value FROM kv WHERE key = ? LIMIT 1`
	var blob []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

// Entry is one key/value pair returned by ListPrefix.
type Entry struct {
	Key       string
	Value     []byte
	WrittenAt time.Time
}

// Decode unmarshals the entry value into out.
func (e Entry) Decode(out any) error {
	return json.Unmarshal(e.Value, out)
}

// ListPrefix returns all entries whose key starts with prefix, newest first.
func (s *Store) ListPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	const query = `
		SELECT key, value, written_at FROM kv
		WHERE key >= ? AND key < ?
		ORDER BY written_at DESC
	`
	// The prefix upper bound works because keys are ASCII.
	rows, err := s.db.QueryContext(ctx, query, prefix, prefix+"\xff")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var epoch int64
		if err := rows.Scan(&e.Key, &e.Value, &epoch); err != nil {
			return nil, err
		}
		e.WrittenAt = time.UnixMilli(epoch)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CheckAndSet runs mutate over the current value of key inside a single
// transaction. mutate receives the raw stored bytes (nil when absent) and
// returns the replacement value, or keep=false to leave the key untouched.
// This is what gives the mailbox its at-most-once delivered flag.
func (s *Store) CheckAndSet(ctx context.Context, key string, mutate func(current []byte) (next any, keep bool, err error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	var blob []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&blob)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	next, keep, err := mutate(blob)
	if err != nil {
		return err
	}
	if !keep {
		return tx.Commit()
	}

	encoded, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	const upsert = `
		INSERT INTO kv (key, value, written_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, written_at = excluded.written_at
	`
	if _, err := tx.ExecContext(ctx, upsert, key, encoded, time.Now().UnixMilli()); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteOlderThan removes entries under prefix written before cutoff and
// returns how many were removed. Used by the retention sweeps.
func (s *Store) DeleteOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM kv WHERE key >= ? AND key < ? AND written_at < ?`
	res, err := s.db.ExecContext(ctx, query, prefix, prefix+"\xff", cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
