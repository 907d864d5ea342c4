// Package spool implements the durable local queue that buffers samples on
// the edge host until the ingest service has acknowledged them.
//
// The spool is an append-only FIFO backed by a SQLite database file in WAL
// mode. Samples are written to the spool before any upload attempt and
// deleted only after server acknowledgment, so the pipeline loses nothing
// across network outages, process crashes, or host restarts. Sequences come
// from an AUTOINCREMENT column and are strictly monotonic: a deleted
// sequence is never reused, even across restarts.
package spool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS spool (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    payload    BLOB NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);`

// ErrClosed is returned by operations on a closed spool.
var ErrClosed = errors.New("spool: closed")

// Entry is one pending payload with its acknowledgment handle.
type Entry struct {
	Seq     int64
	Payload []byte
}

// Spool is a durable FIFO with peek/ack semantics. Mutations are serialized
// by an internal mutex; reads and writes may run concurrently from multiple
// goroutines without corrupting state.
type Spool struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the spool database at path and initializes the
// schema. WAL journal mode plus synchronous=FULL makes Enqueue durable
// before it returns: a fresh process opening the same file after a crash
// observes every acknowledged operation.
func Open(path string) (*Spool, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open spool %s: %w", path, err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY between the poll and upload goroutines.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("spool pragma: %w", err)
		}
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create spool table: %w", err)
	}

	return &Spool{db: db}, nil
}

// Close closes the underlying database. Further operations return ErrClosed.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Enqueue appends a payload. The write is durable before Enqueue returns.
func (s *Spool) Enqueue(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO spool (payload) VALUES (?);", payload); err != nil {
		return fmt.Errorf("spool enqueue: %w", err)
	}
	return nil
}

// Peek returns up to n of the oldest pending entries in ascending sequence
// order without removing them. Returns an empty slice when the spool is
// empty or n < 1.
func (s *Spool) Peek(ctx context.Context, n int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	if n < 1 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, payload FROM spool ORDER BY seq ASC LIMIT ?;", n)
	if err != nil {
		return nil, fmt.Errorf("spool peek: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Seq, &e.Payload); err != nil {
			return nil, fmt.Errorf("spool peek scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("spool peek rows: %w", err)
	}
	return entries, nil
}

// Ack deletes exactly the listed sequences. Unknown sequences are silently
// ignored; an empty list is a no-op.
func (s *Spool) Ack(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seqs)), ",")
	args := make([]any, len(seqs))
	for i, seq := range seqs {
		args[i] = seq
	}
	query := fmt.Sprintf("DELETE FROM spool WHERE seq IN (%s);", placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("spool ack: %w", err)
	}
	return nil
}

// Count returns the number of pending (unacknowledged) payloads.
func (s *Spool) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM spool;").Scan(&n); err != nil {
		return 0, fmt.Errorf("spool count: %w", err)
	}
	return n, nil
}
