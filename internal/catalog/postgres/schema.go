// Package postgres provides a PostgreSQL-backed [catalog.Store].
//
// Recordings live in a single table with a GIN full-text index over the
// transcript column. [Migrate] creates it and is safe to run on every start.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Save(ctx, catalog.FromRecording(rec))
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlRecordings = `
CREATE TABLE IF NOT EXISTS recordings (
    recording_id  TEXT         PRIMARY KEY,
    path          TEXT         NOT NULL DEFAULT '',
    started_at    TIMESTAMPTZ  NOT NULL,
    ended_at      TIMESTAMPTZ  NOT NULL,
    duration_ns   BIGINT       NOT NULL DEFAULT 0,
    bytes         BIGINT       NOT NULL DEFAULT 0,
    status        TEXT         NOT NULL,
    end_reason    TEXT         NOT NULL DEFAULT '',
    transcript    TEXT         NOT NULL DEFAULT '',
    language      TEXT         NOT NULL DEFAULT '',
    provider      TEXT         NOT NULL DEFAULT '',
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_recordings_started_at
    ON recordings (started_at DESC);

CREATE INDEX IF NOT EXISTS idx_recordings_status
    ON recordings (status);

CREATE INDEX IF NOT EXISTS idx_recordings_fts
    ON recordings USING GIN (to_tsvector('simple', transcript));
`

// Migrate creates or ensures the recordings table and its indexes exist. It
// is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlRecordings); err != nil {
		return fmt.Errorf("catalog migrate: %w", err)
	}
	return nil
}
