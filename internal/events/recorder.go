package events

import (
	"context"
	"sync"
)

// Compile-time assertion that Recorder implements Sink.
var _ Sink = (*Recorder)(nil)

// Recorder is an in-memory Sink for tests. The zero value is ready to use.
type Recorder struct {
	mu       sync.Mutex
	Interims []InterimUpdate
	Finals   []FinalUpdate
	Errors   []SessionError
	Metrics  []SessionMetrics
	Closed   bool

	// Err, if non-nil, is returned from every publish call.
	Err error
}

// PublishInterim implements Sink.
func (r *Recorder) PublishInterim(_ context.Context, e InterimUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Interims = append(r.Interims, e)
	return nil
}

// PublishFinal implements Sink.
func (r *Recorder) PublishFinal(_ context.Context, e FinalUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Finals = append(r.Finals, e)
	return nil
}

// PublishError implements Sink.
func (r *Recorder) PublishError(_ context.Context, e SessionError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Errors = append(r.Errors, e)
	return nil
}

// PublishMetrics implements Sink.
func (r *Recorder) PublishMetrics(_ context.Context, e SessionMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Metrics = append(r.Metrics, e)
	return nil
}

// Close implements Sink.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed = true
	return nil
}

// InterimCount returns the number of recorded interim updates. Thread-safe.
func (r *Recorder) InterimCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Interims)
}

// FinalCount returns the number of recorded final updates. Thread-safe.
func (r *Recorder) FinalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Finals)
}

// LastFinal returns the most recent FinalUpdate, or a zero value when none
// was recorded. Thread-safe.
func (r *Recorder) LastFinal() FinalUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Finals) == 0 {
		return FinalUpdate{}
	}
	return r.Finals[len(r.Finals)-1]
}
