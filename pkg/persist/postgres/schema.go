package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelaudio/verbatim/pkg/persist"
)

// ddlSegments returns the segments DDL with the fingerprint dimension baked
// into the vector column type.
func ddlSegments(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS segments (
    id           TEXT         PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    content      TEXT         NOT NULL,
    confidence   REAL         NOT NULL DEFAULT 0,
    fingerprint  vector(%d),
    finalized_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_segments_session_id
    ON segments (session_id);

CREATE INDEX IF NOT EXISTS idx_segments_fingerprint
    ON segments USING hnsw (fingerprint vector_cosine_ops);
`, dims)
}

// Migrate creates or ensures the segments table, vector extension, and
// indexes exist. It is idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSegments(persist.FingerprintDims)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
