// Package sqlite provides a file-backed URL aggregator and cursor store that
// several processes on one host can share.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/loopy/internal/timeline"
)

const (
	defaultBusyTimeout = 10 * time.Second
	defaultStream      = "default"
	maxBusyRetries     = 3
)

const schema = `
CREATE TABLE IF NOT EXISTS url_counts (
	url_key    TEXT PRIMARY KEY,
	hits       INTEGER NOT NULL DEFAULT 0,
	first_seen TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	last_seen  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE INDEX IF NOT EXISTS url_counts_hits_idx ON url_counts (hits DESC);
CREATE TABLE IF NOT EXISTS poll_cursor (
	stream     TEXT PRIMARY KEY,
	since_id   TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);`

// Config selects the database file and cursor stream.
type Config struct {
	Path        string
	Stream      string
	BusyTimeout time.Duration
}

// Store counts URLs and keeps the since_id in an SQLite database in WAL mode.
type Store struct {
	db     *sql.DB
	stream string
}

// Open opens (creating if needed) the database at cfg.Path and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite.path is required")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)",
		cfg.Path, busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer per process; other processes wait on busy_timeout.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	stream := cfg.Stream
	if stream == "" {
		stream = defaultStream
	}
	return &Store{db: db, stream: stream}, nil
}

// Increment adds one to key and returns the new count.
func (s *Store) Increment(ctx context.Context, key string) (int64, error) {
	const query = `
INSERT INTO url_counts (url_key, hits) VALUES (?, 1)
ON CONFLICT (url_key) DO UPDATE
SET hits = url_counts.hits + 1, last_seen = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
RETURNING hits`

	var hits int64
	err := withBusyRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, query, key).Scan(&hits)
	})
	if err != nil {
		return 0, fmt.Errorf("increment url count: %w", err)
	}
	return hits, nil
}

// Top returns up to n entries ordered by count descending, ties by key.
// n <= 0 returns every entry.
func (s *Store) Top(ctx context.Context, n int) ([]timeline.URLCount, error) {
	limit := n
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT url_key, hits FROM url_counts ORDER BY hits DESC, url_key ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top urls: %w", err)
	}
	defer rows.Close()

	var out []timeline.URLCount
	for rows.Next() {
		var row timeline.URLCount
		if err := rows.Scan(&row.Key, &row.Count); err != nil {
			return nil, fmt.Errorf("scan top urls: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top urls: %w", err)
	}
	return out, nil
}

// LoadSinceID returns the stored since_id, or "" when none was saved.
func (s *Store) LoadSinceID(ctx context.Context) (string, error) {
	var sinceID string
	err := s.db.QueryRowContext(ctx, `SELECT since_id FROM poll_cursor WHERE stream = ?`, s.stream).Scan(&sinceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load since_id: %w", err)
	}
	return sinceID, nil
}

// SaveSinceID stores sinceID unless a newer value is already present.
func (s *Store) SaveSinceID(ctx context.Context, sinceID string) error {
	const query = `
INSERT INTO poll_cursor (stream, since_id) VALUES (?, ?)
ON CONFLICT (stream) DO UPDATE
SET since_id = excluded.since_id, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
WHERE length(poll_cursor.since_id) < length(excluded.since_id)
   OR (length(poll_cursor.since_id) = length(excluded.since_id) AND poll_cursor.since_id < excluded.since_id)`

	err := withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, s.stream, sinceID)
		return err
	})
	if err != nil {
		return fmt.Errorf("save since_id: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

func withBusyRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < maxBusyRetries; i++ {
		err = fn()
		if !isBusy(err) {
			return err
		}
		timer := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
