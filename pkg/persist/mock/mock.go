// Package mock provides an in-memory test double for persist.SegmentStore.
//
// The store keeps segments and fingerprints in maps and implements
// similarity search with exact cosine distance, so tests can exercise the
// full SegmentStore surface without a database.
package mock

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/kestrelaudio/verbatim/pkg/persist"
	"github.com/kestrelaudio/verbatim/pkg/types"
)

// Compile-time assertion that Store implements persist.SegmentStore.
var _ persist.SegmentStore = (*Store)(nil)

type entry struct {
	segment     types.TextSegment
	fingerprint []float32
	seq         int
}

// Store is an in-memory persist.SegmentStore. The zero value is ready to use.
// Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextSeq int
	closed  bool

	// SaveErr, when non-nil, is returned from every SaveSegment call.
	SaveErr error
}

// SaveSegment implements persist.SegmentStore.
func (s *Store) SaveSegment(_ context.Context, seg types.TextSegment, fingerprint []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock store: closed")
	}
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if s.entries == nil {
		s.entries = make(map[string]*entry)
	}
	fp := make([]float32, len(fingerprint))
	copy(fp, fingerprint)
	if existing, ok := s.entries[seg.SegmentID]; ok {
		existing.segment = seg
		existing.fingerprint = fp
		return nil
	}
	s.entries[seg.SegmentID] = &entry{segment: seg, fingerprint: fp, seq: s.nextSeq}
	s.nextSeq++
	return nil
}

// SessionSegments implements persist.SegmentStore.
func (s *Store) SessionSegments(_ context.Context, sessionID string) ([]types.TextSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []*entry
	for _, e := range s.entries {
		if e.segment.SessionID == sessionID {
			found = append(found, e)
		}
	}
	if len(found) == 0 {
		return nil, persist.ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })

	out := make([]types.TextSegment, len(found))
	for i, e := range found {
		out[i] = e.segment
	}
	return out, nil
}

// SimilarSegments implements persist.SegmentStore.
func (s *Store) SimilarSegments(_ context.Context, fingerprint []float32, limit int) ([]persist.ScoredSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}

	var out []persist.ScoredSegment
	for _, e := range s.entries {
		out = append(out, persist.ScoredSegment{
			Segment:    e.segment,
			Similarity: cosine(fingerprint, e.fingerprint),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteSession implements persist.SegmentStore.
func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.segment.SessionID == sessionID {
			delete(s.entries, id)
		}
	}
	return nil
}

// Close implements persist.SegmentStore.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored segments. Thread-safe.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// cosine returns the cosine similarity between two vectors, 0 when either
// has zero magnitude or the lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
