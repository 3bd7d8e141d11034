// Package postgres stores transcript entries in PostgreSQL.
//
// Entries live in a single outcomes table with a GIN full-text index over the
// text column. The 'simple' text search configuration is used because a
// session may be recognised in any language.
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Write(ctx, entry)
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/livescribe/internal/transcript"
)

var _ transcript.Store = (*Store)(nil)

const ddlOutcomes = `
CREATE TABLE IF NOT EXISTS outcomes (
    id                  BIGSERIAL    PRIMARY KEY,
    session_id          TEXT         NOT NULL,
    kind                TEXT         NOT NULL,
    text                TEXT         NOT NULL DEFAULT '',
    language            TEXT         NOT NULL DEFAULT '',
    attempt             INTEGER      NOT NULL DEFAULT 0,
    segment_start_ns    BIGINT       NOT NULL DEFAULT 0,
    segment_duration_ns BIGINT       NOT NULL DEFAULT 0,
    at                  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_outcomes_session_id
    ON outcomes (session_id, id);

CREATE INDEX IF NOT EXISTS idx_outcomes_at
    ON outcomes (at);

CREATE INDEX IF NOT EXISTS idx_outcomes_fts
    ON outcomes USING GIN (to_tsvector('simple', text));
`

// Store is a PostgreSQL-backed [transcript.Store]. It is safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the outcomes table and its indexes if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlOutcomes); err != nil {
		return fmt.Errorf("transcript postgres: migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Check pings the database. It serves as a readiness probe.
func (s *Store) Check(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("transcript postgres: ping: %w", err)
	}
	return nil
}

// Write implements [transcript.Store].
func (s *Store) Write(ctx context.Context, e transcript.Entry) error {
	const q = `
		INSERT INTO outcomes
		    (session_id, kind, text, language, attempt, segment_start_ns, segment_duration_ns, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.pool.Exec(ctx, q,
		e.SessionID,
		e.Kind,
		e.Text,
		e.Language,
		e.Attempt,
		e.SegmentStart.Nanoseconds(),
		e.SegmentDuration.Nanoseconds(),
		at,
	)
	if err != nil {
		return fmt.Errorf("transcript postgres: write: %w", err)
	}
	return nil
}

const selectColumns = `SELECT session_id, kind, text, language, attempt, segment_start_ns, segment_duration_ns, at
FROM   outcomes`

// Recent implements [transcript.Store].
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]transcript.Entry, error) {
	q := selectColumns + `
WHERE  session_id = $1
ORDER  BY id DESC`
	args := []any{sessionID}
	if limit > 0 {
		q += "\nLIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: recent: %w", err)
	}
	entries, err := collect(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Search implements [transcript.Store]. The query goes through
// plainto_tsquery, so every word must match and no operator syntax is needed.
// An empty query matches every entry.
func (s *Store) Search(ctx context.Context, query string, opts transcript.SearchOpts) ([]transcript.Entry, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"TRUE"}
	if strings.TrimSpace(query) != "" {
		conditions = append(conditions,
			"to_tsvector('simple', text) @@ plainto_tsquery('simple', "+next(query)+")")
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if opts.TranscriptsOnly {
		conditions = append(conditions, "kind = "+next(transcript.KindTranscript))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "at < "+next(opts.Before))
	}

	q := selectColumns + "\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY at, id"
	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: search: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]transcript.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Entry, error) {
		var (
			e              transcript.Entry
			startNS, durNS int64
		)
		if err := row.Scan(
			&e.SessionID,
			&e.Kind,
			&e.Text,
			&e.Language,
			&e.Attempt,
			&startNS,
			&durNS,
			&e.At,
		); err != nil {
			return transcript.Entry{}, err
		}
		e.SegmentStart = time.Duration(startNS)
		e.SegmentDuration = time.Duration(durNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: scan rows: %w", err)
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	return entries, nil
}
