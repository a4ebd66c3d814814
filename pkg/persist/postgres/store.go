// Package postgres implements persist.SegmentStore on PostgreSQL with the
// pgvector extension.
//
// Segment text lives in a plain table; the fingerprint vector column is
// indexed with HNSW for cosine similarity search. All operations share a
// single [pgxpool.Pool] and are safe for concurrent use.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/kestrelaudio/verbatim/pkg/persist"
	"github.com/kestrelaudio/verbatim/pkg/types"
)

// Compile-time interface check.
var _ persist.SegmentStore = (*Store)(nil)

// Store is the PostgreSQL-backed segment store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn, registers
// pgvector types on every connection, and runs [Migrate] so the schema is
// ready before the first write.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres segments: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so the fingerprint
	// column can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres segments: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres segments: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres segments: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping reports whether the database is reachable. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveSegment implements persist.SegmentStore.
func (s *Store) SaveSegment(ctx context.Context, seg types.TextSegment, fingerprint []float32) error {
	if len(fingerprint) != persist.FingerprintDims {
		return fmt.Errorf("postgres segments: fingerprint has %d dims, want %d",
			len(fingerprint), persist.FingerprintDims)
	}

	const q = `
INSERT INTO segments (id, session_id, content, confidence, fingerprint, finalized_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET content = EXCLUDED.content,
    confidence = EXCLUDED.confidence,
    fingerprint = EXCLUDED.fingerprint,
    finalized_at = EXCLUDED.finalized_at`

	_, err := s.pool.Exec(ctx, q,
		seg.SegmentID, seg.SessionID, seg.Text, seg.Confidence,
		pgvector.NewVector(fingerprint), seg.FinalizedAt)
	if err != nil {
		return fmt.Errorf("postgres segments: save %s: %w", seg.SegmentID, err)
	}
	return nil
}

// SessionSegments implements persist.SegmentStore.
func (s *Store) SessionSegments(ctx context.Context, sessionID string) ([]types.TextSegment, error) {
	const q = `
SELECT id, session_id, content, confidence, finalized_at
FROM segments
WHERE session_id = $1
ORDER BY finalized_at, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres segments: query session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []types.TextSegment
	for rows.Next() {
		var seg types.TextSegment
		if err := rows.Scan(&seg.SegmentID, &seg.SessionID, &seg.Text, &seg.Confidence, &seg.FinalizedAt); err != nil {
			return nil, fmt.Errorf("postgres segments: scan: %w", err)
		}
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres segments: rows: %w", err)
	}
	if len(out) == 0 {
		return nil, persist.ErrNotFound
	}
	return out, nil
}

// SimilarSegments implements persist.SegmentStore. Cosine distance from
// pgvector is converted to similarity (1 − distance).
func (s *Store) SimilarSegments(ctx context.Context, fingerprint []float32, limit int) ([]persist.ScoredSegment, error) {
	if len(fingerprint) != persist.FingerprintDims {
		return nil, fmt.Errorf("postgres segments: fingerprint has %d dims, want %d",
			len(fingerprint), persist.FingerprintDims)
	}
	if limit <= 0 {
		limit = 10
	}

	const q = `
SELECT id, session_id, content, confidence, finalized_at,
       1 - (fingerprint <=> $1) AS similarity
FROM segments
ORDER BY fingerprint <=> $1
LIMIT $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(fingerprint), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres segments: similarity query: %w", err)
	}
	defer rows.Close()

	var out []persist.ScoredSegment
	for rows.Next() {
		var sc persist.ScoredSegment
		if err := rows.Scan(&sc.Segment.SegmentID, &sc.Segment.SessionID, &sc.Segment.Text,
			&sc.Segment.Confidence, &sc.Segment.FinalizedAt, &sc.Similarity); err != nil {
			return nil, fmt.Errorf("postgres segments: scan: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres segments: rows: %w", err)
	}
	return out, nil
}

// DeleteSession implements persist.SegmentStore.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM segments WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("postgres segments: delete session %s: %w", sessionID, err)
	}
	return nil
}

// Close implements persist.SegmentStore.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
