// Package history keeps a log of delivered translations in PostgreSQL.
//
// A [Store] owns the connection pool and the queries. A [Recorder] sits on
// the delivery path of the pipeline and appends results asynchronously, so
// a slow or unreachable database never delays the overlay or speech.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/hermes/pkg/types"
)

// Entry is a stored translation.
type Entry struct {
	ID        int64
	SessionID string
	types.TranslationResult
}

// Query filters a history search.
type Query struct {
	// Text is matched with full-text search against the original and the
	// translated text. Empty matches everything.
	Text string

	SessionID string
	After     time.Time
	Before    time.Time

	// Limit caps the number of results. Zero means 50.
	Limit int
}

// Store is the PostgreSQL history log. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, checks the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Append stores r under sessionID.
func (s *Store) Append(ctx context.Context, sessionID string, r types.TranslationResult) error {
	const q = `
		INSERT INTO translations
		    (session_id, seq, original, translated, source_lang, target_lang, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.pool.Exec(ctx, q,
		sessionID,
		int64(r.Seq),
		r.Original,
		r.Translated,
		r.SourceLang,
		r.TargetLang,
		r.Confidence,
		ts,
	)
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Search returns matching entries, newest first.
func (s *Store) Search(ctx context.Context, query Query) ([]Entry, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"TRUE"}
	if query.Text != "" {
		conditions = append(conditions,
			"to_tsvector('simple', original || ' ' || translated) @@ plainto_tsquery('simple', "+next(query.Text)+")")
	}
	if query.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(query.SessionID))
	}
	if !query.After.IsZero() {
		conditions = append(conditions, "created_at > "+next(query.After))
	}
	if !query.Before.IsZero() {
		conditions = append(conditions, "created_at < "+next(query.Before))
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}

	q := "SELECT id, session_id, seq, original, translated, source_lang, target_lang, confidence, created_at\n" +
		"FROM   translations\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY created_at DESC, id DESC\n" +
		"LIMIT  " + next(limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: search: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e   Entry
			seq int64
		)
		err := row.Scan(&e.ID, &e.SessionID, &seq, &e.Original, &e.Translated,
			&e.SourceLang, &e.TargetLang, &e.Confidence, &e.Timestamp)
		e.Seq = uint64(seq)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan rows: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
