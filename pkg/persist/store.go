// Package persist defines the optional storage surface for confirmed
// transcript segments.
//
// The orchestrator works entirely in memory; persistence is a collaborator
// behind the [SegmentStore] interface so that deployments can choose a
// backend (Postgres/pgvector, in-memory, none) without touching the session
// core. Segments are immutable once saved. Each segment carries the semantic
// fingerprint vector of its text, which enables similarity search across
// sessions ("find earlier segments that sound like this one").
package persist

import (
	"context"
	"errors"

	"github.com/kestrelaudio/verbatim/pkg/types"
)

// ErrNotFound is returned when a requested session has no stored segments.
var ErrNotFound = errors.New("persist: not found")

// FingerprintDims is the dimensionality of the segment fingerprint vector.
// It must match the vector column width chosen at migration time.
const FingerprintDims = 8

// ScoredSegment is a segment returned from a similarity search, annotated
// with its cosine similarity to the query fingerprint (1.0 is identical).
type ScoredSegment struct {
	Segment    types.TextSegment
	Similarity float64
}

// SegmentStore persists confirmed transcript segments.
//
// Implementations must be safe for concurrent use. All methods honor ctx
// cancellation.
type SegmentStore interface {
	// SaveSegment stores one confirmed segment together with the semantic
	// fingerprint of its text. Saving the same SegmentID twice is an upsert.
	SaveSegment(ctx context.Context, seg types.TextSegment, fingerprint []float32) error

	// SessionSegments returns all segments of a session in finalization
	// order. A session with no segments yields ErrNotFound.
	SessionSegments(ctx context.Context, sessionID string) ([]types.TextSegment, error)

	// SimilarSegments returns up to limit segments across all sessions
	// ordered by descending cosine similarity to the query fingerprint.
	SimilarSegments(ctx context.Context, fingerprint []float32, limit int) ([]ScoredSegment, error)

	// DeleteSession removes all segments of a session. Deleting an unknown
	// session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error

	// Close releases backend resources.
	Close() error
}
