package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/earshot/internal/catalog"
)

// Compile-time interface check.
var _ catalog.Store = (*Store)(nil)

// Store is the PostgreSQL catalog. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a connection pool to the database at dsn, pings it and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping checks database connectivity. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Save implements [catalog.Store]. An existing row keeps its transcript when
// e carries none.
func (s *Store) Save(ctx context.Context, e catalog.Entry) error {
	if e.RecordingID == "" {
		return catalog.ErrInvalidEntry
	}
	const q = `
		INSERT INTO recordings
		    (recording_id, path, started_at, ended_at, duration_ns, bytes,
		     status, end_reason, transcript, language, provider)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (recording_id) DO UPDATE SET
		    path        = EXCLUDED.path,
		    started_at  = EXCLUDED.started_at,
		    ended_at    = EXCLUDED.ended_at,
		    duration_ns = EXCLUDED.duration_ns,
		    bytes       = EXCLUDED.bytes,
		    status      = EXCLUDED.status,
		    end_reason  = EXCLUDED.end_reason,
		    transcript  = COALESCE(NULLIF(EXCLUDED.transcript, ''), recordings.transcript),
		    language    = COALESCE(NULLIF(EXCLUDED.language, ''), recordings.language),
		    provider    = COALESCE(NULLIF(EXCLUDED.provider, ''), recordings.provider),
		    updated_at  = now()`

	_, err := s.pool.Exec(ctx, q,
		e.RecordingID,
		e.Path,
		e.StartedAt,
		e.EndedAt,
		e.Duration.Nanoseconds(),
		int64(e.Bytes),
		e.Status,
		e.EndReason,
		e.Transcript,
		e.Language,
		e.Provider,
	)
	if err != nil {
		return fmt.Errorf("catalog store: save: %w", err)
	}
	return nil
}

const selectColumns = `recording_id, path, started_at, ended_at, duration_ns, bytes,
       status, end_reason, transcript, language, provider`

// Get implements [catalog.Store].
func (s *Store) Get(ctx context.Context, id string) (catalog.Entry, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+selectColumns+" FROM recordings WHERE recording_id = $1", id)
	if err != nil {
		return catalog.Entry{}, fmt.Errorf("catalog store: get: %w", err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanEntry)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Entry{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Entry{}, fmt.Errorf("catalog store: get: %w", err)
	}
	return e, nil
}

// Recent implements [catalog.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]catalog.Entry, error) {
	return s.Search(ctx, catalog.Query{Limit: limit})
}

// Search implements [catalog.Store]. Text is passed to plainto_tsquery so no
// operator syntax is required.
func (s *Store) Search(ctx context.Context, q catalog.Query) ([]catalog.Entry, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if q.Text != "" {
		conditions = append(conditions,
			"to_tsvector('simple', transcript) @@ plainto_tsquery('simple', "+next(q.Text)+")")
	}
	if q.Status != "" {
		conditions = append(conditions, "status = "+next(q.Status))
	}
	if !q.After.IsZero() {
		conditions = append(conditions, "started_at > "+next(q.After))
	}
	if !q.Before.IsZero() {
		conditions = append(conditions, "started_at < "+next(q.Before))
	}

	sql := "SELECT " + selectColumns + "\nFROM   recordings\n"
	if len(conditions) > 0 {
		sql += "WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = catalog.DefaultLimit
	}
	sql += "ORDER  BY started_at DESC, recording_id\nLIMIT  " + next(limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog store: search: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("catalog store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	return entries, nil
}

func scanEntry(row pgx.CollectableRow) (catalog.Entry, error) {
	var (
		e          catalog.Entry
		durationNS int64
		bytes      int64
	)
	if err := row.Scan(
		&e.RecordingID,
		&e.Path,
		&e.StartedAt,
		&e.EndedAt,
		&durationNS,
		&bytes,
		&e.Status,
		&e.EndReason,
		&e.Transcript,
		&e.Language,
		&e.Provider,
	); err != nil {
		return catalog.Entry{}, err
	}
	e.Duration = time.Duration(durationNS)
	e.Bytes = int(bytes)
	return e, nil
}
