package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/kestrelaudio/verbatim/pkg/persist"
	"github.com/kestrelaudio/verbatim/pkg/types"
)

// StoreGuard wraps a [persist.SegmentStore] and makes all operations
// non-fatal. If the underlying store fails, operations return defaults
// and log warnings instead of propagating errors.
//
// This allows transcription sessions to continue operating even when the
// segment backend is temporarily unavailable (e.g., database restart,
// network partition). The IsDegraded method reports whether the store is
// currently experiencing failures.
//
// StoreGuard implements [persist.SegmentStore].
//
// All methods are safe for concurrent use.
type StoreGuard struct {
	store    persist.SegmentStore
	degraded atomic.Bool
}

// NewStoreGuard creates a new [StoreGuard] wrapping the given store.
func NewStoreGuard(store persist.SegmentStore) *StoreGuard {
	return &StoreGuard{store: store}
}

// SaveSegment attempts to save a segment to the underlying store. On failure
// the error is logged and swallowed; the store is marked as degraded.
// On success the degraded flag is cleared.
func (sg *StoreGuard) SaveSegment(ctx context.Context, seg types.TextSegment, fingerprint []float32) error {
	err := sg.store.SaveSegment(ctx, seg, fingerprint)
	if err != nil {
		sg.degraded.Store(true)
		slog.Warn("store guard: SaveSegment failed, swallowing error",
			"session_id", seg.SessionID,
			"segment_id", seg.SegmentID,
			"error", err,
		)
		return nil
	}
	sg.degraded.Store(false)
	return nil
}

// SessionSegments attempts to read a session's segments from the underlying
// store. On failure an empty slice is returned and the store is marked as
// degraded. ErrNotFound is not a failure and passes through unchanged.
func (sg *StoreGuard) SessionSegments(ctx context.Context, sessionID string) ([]types.TextSegment, error) {
	segs, err := sg.store.SessionSegments(ctx, sessionID)
	if err != nil {
		if err == persist.ErrNotFound {
			sg.degraded.Store(false)
			return nil, err
		}
		sg.degraded.Store(true)
		slog.Warn("store guard: SessionSegments failed, returning empty",
			"session_id", sessionID,
			"error", err,
		)
		return []types.TextSegment{}, nil
	}
	sg.degraded.Store(false)
	return segs, nil
}

// SimilarSegments attempts a similarity search over stored segments. On
// failure an empty slice is returned and the store is marked as degraded.
func (sg *StoreGuard) SimilarSegments(ctx context.Context, fingerprint []float32, limit int) ([]persist.ScoredSegment, error) {
	scored, err := sg.store.SimilarSegments(ctx, fingerprint, limit)
	if err != nil {
		sg.degraded.Store(true)
		slog.Warn("store guard: SimilarSegments failed, returning empty",
			"limit", limit,
			"error", err,
		)
		return []persist.ScoredSegment{}, nil
	}
	sg.degraded.Store(false)
	return scored, nil
}

// DeleteSession delegates to the underlying store. On failure the error is
// logged and swallowed; the store is marked as degraded.
func (sg *StoreGuard) DeleteSession(ctx context.Context, sessionID string) error {
	err := sg.store.DeleteSession(ctx, sessionID)
	if err != nil {
		sg.degraded.Store(true)
		slog.Warn("store guard: DeleteSession failed, swallowing error", "session", sessionID, "err", err)
		return nil
	}
	sg.degraded.Store(false)
	return nil
}

// Close closes the underlying store.
func (sg *StoreGuard) Close() error {
	return sg.store.Close()
}

// IsDegraded reports whether the store is currently operating in degraded
// mode (i.e., the most recent operation on the underlying store failed).
func (sg *StoreGuard) IsDegraded() bool {
	return sg.degraded.Load()
}

// Compile-time check that StoreGuard satisfies persist.SegmentStore.
var _ persist.SegmentStore = (*StoreGuard)(nil)
