// Package postgres provides the shared Postgres-backed URL aggregator and
// cursor store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/loopy/internal/timeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultCountsTable = "url_counts"
	defaultCursorTable = "poll_cursor"
	defaultStream      = "default"
)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	CountsTable     string
	CursorTable     string
	Stream          string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store counts URLs and keeps the since_id in Postgres. Every increment is a
// single atomic upsert, so any number of processes may share one table.
type Store struct {
	pool        pool
	countsTable string
	cursorTable string
	stream      string
}

// NewStore connects a pgx pool using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewStoreWithPool(p, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
// Only the table and stream fields of cfg are used.
func NewStoreWithPool(p pool, cfg Config) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	counts := orDefault(cfg.CountsTable, defaultCountsTable)
	cursor := orDefault(cfg.CursorTable, defaultCursorTable)
	for _, table := range []string{counts, cursor} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Store{
		pool:        p,
		countsTable: counts,
		cursorTable: cursor,
		stream:      orDefault(cfg.Stream, defaultStream),
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// EnsureSchema creates the counts and cursor tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url_key    TEXT PRIMARY KEY,
	hits       BIGINT NOT NULL DEFAULT 0,
	first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen  TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.countsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_hits_idx ON %s (hits DESC)`, s.countsTable, s.countsTable),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	stream     TEXT PRIMARY KEY,
	since_id   TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.cursorTable),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Increment adds one to key and returns the new count.
func (s *Store) Increment(ctx context.Context, key string) (int64, error) {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (url_key, hits) VALUES ($1, 1)
ON CONFLICT (url_key) DO UPDATE
SET hits = %[1]s.hits + 1, last_seen = now()
RETURNING hits`, s.countsTable)

	var hits int64
	if err := s.pool.QueryRow(ctx, query, key).Scan(&hits); err != nil {
		return 0, fmt.Errorf("increment url count: %w", err)
	}
	return hits, nil
}

// Top returns up to n entries ordered by count descending, ties by key.
// n <= 0 returns every entry.
func (s *Store) Top(ctx context.Context, n int) ([]timeline.URLCount, error) {
	query := fmt.Sprintf(`SELECT url_key, hits FROM %s ORDER BY hits DESC, url_key ASC`, s.countsTable)
	args := []any{}
	if n > 0 {
		query += ` LIMIT $1`
		args = append(args, n)
	}
	rows, err := s.pool.Query(ctx, query, args...)
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

// LoadSinceID returns the stored since_id for the configured stream, or ""
// when none was saved.
func (s *Store) LoadSinceID(ctx context.Context) (string, error) {
	query := fmt.Sprintf(`SELECT since_id FROM %s WHERE stream = $1`, s.cursorTable)
	var sinceID string
	err := s.pool.QueryRow(ctx, query, s.stream).Scan(&sinceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load since_id: %w", err)
	}
	return sinceID, nil
}

// SaveSinceID stores sinceID unless a newer value is already present. IDs
// are compared numerically by length then lexically.
func (s *Store) SaveSinceID(ctx context.Context, sinceID string) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (stream, since_id) VALUES ($1, $2)
ON CONFLICT (stream) DO UPDATE
SET since_id = EXCLUDED.since_id, updated_at = now()
WHERE length(%[1]s.since_id) < length(EXCLUDED.since_id)
   OR (length(%[1]s.since_id) = length(EXCLUDED.since_id) AND %[1]s.since_id < EXCLUDED.since_id)`, s.cursorTable)

	if _, err := s.pool.Exec(ctx, query, s.stream, sinceID); err != nil {
		return fmt.Errorf("save since_id: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
