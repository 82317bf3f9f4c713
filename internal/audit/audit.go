// Package audit is a write-only diagnostic log of SSM transitions and setup
// teardown reasons, backed by modernc.org/sqlite the way internal/plex's
// RegisterTuner talks to a SQLite database in the teacher project, and
// compressing capability/QoS blobs with github.com/andybalholm/brotli before
// they're stored. The engine never reads this log back as state on startup:
// it exists purely for post-hoc diagnosis, never for recovery (spec.md §6:
// the engine is stateless across restarts).
package audit

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/andybalholm/brotli"
	_ "modernc.org/sqlite"
)

// Log is a write-only SQLite-backed transition log.
type Log struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite file at path and ensures its schema.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	return &Log{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at INTEGER NOT NULL,
	setup_id TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	payload BLOB
);
CREATE TABLE IF NOT EXISTS teardowns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at INTEGER NOT NULL,
	setup_id TEXT NOT NULL,
	reason TEXT NOT NULL
);
`

// Close closes the underlying database handle.
func (l *Log) Close() error { return l.db.Close() }

// RecordTransition appends one SSM transition row. payload is an optional
// capability/QoS blob, compressed with brotli before storage; callers pass
// nil when there's nothing worth keeping for that transition.
func (l *Log) RecordTransition(ctx context.Context, at time.Time, setupID, from, to string, payload []byte) error {
	var compressed []byte
	if len(payload) > 0 {
		var err error
		compressed, err = compress(payload)
		if err != nil {
			return fmt.Errorf("compress payload: %w", err)
		}
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO transitions (recorded_at, setup_id, from_state, to_state, payload) VALUES (?, ?, ?, ?, ?)`,
		at.Unix(), setupID, from, to, compressed)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// RecordTeardown appends one teardown-reason row.
func (l *Log) RecordTeardown(ctx context.Context, at time.Time, setupID, reason string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO teardowns (recorded_at, setup_id, reason) VALUES (?, ?, ?)`,
		at.Unix(), setupID, reason)
	if err != nil {
		return fmt.Errorf("insert teardown: %w", err)
	}
	return nil
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompress is used only by tests that verify payloads round-trip; the
// engine's read path never calls this in production.
func decompress(blob []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(blob))
	return io.ReadAll(r)
}
