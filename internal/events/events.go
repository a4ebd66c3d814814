// Package events defines the outbound event surface of the transcription
// orchestrator.
//
// Every session emits a stream of events as it progresses: interim display
// updates, confirmed final segments, errors, and an end-of-session metrics
// summary. A [Sink] receives them; [KafkaSink] publishes to Kafka topics,
// [LogSink] writes structured logs only, and [Recorder] collects events in
// memory for tests.
package events

import (
	"context"
	"time"
)

// InterimUpdate is emitted every time the progressive text builder revises
// the provisional display text of a session.
type InterimUpdate struct {
	SessionID      string    `json:"session_id"`
	DisplayText    string    `json:"display_text"`
	Delta          string    `json:"delta,omitempty"`
	Strategy       string    `json:"strategy"`
	StabilityScore float64   `json:"stability_score"`
	At             time.Time `json:"at"`
}

// FinalUpdate is emitted when a confirmed segment is appended to the
// session transcript. Confirmed text is append-only and never retracted.
type FinalUpdate struct {
	SessionID     string    `json:"session_id"`
	SegmentID     string    `json:"segment_id"`
	Text          string    `json:"text"`
	ConfirmedText string    `json:"confirmed_text"`
	Confidence    float64   `json:"confidence"`
	At            time.Time `json:"at"`
}

// SessionError reports a non-fatal processing failure inside a session.
type SessionError struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// SessionMetrics is the end-of-session summary emitted once on finalize.
type SessionMetrics struct {
	SessionID       string        `json:"session_id"`
	FramesReceived  uint64        `json:"frames_received"`
	FramesDropped   uint64        `json:"frames_dropped"`
	ChunksProcessed uint64        `json:"chunks_processed"`
	Hallucinations  uint64        `json:"hallucinations"`
	Segments        uint64        `json:"segments"`
	AverageLatency  time.Duration `json:"average_latency"`
	Duration        time.Duration `json:"duration"`
}

// Sink receives session events. Implementations must be safe for concurrent
// use; the orchestrator publishes from multiple session goroutines.
type Sink interface {
	PublishInterim(ctx context.Context, e InterimUpdate) error
	PublishFinal(ctx context.Context, e FinalUpdate) error
	PublishError(ctx context.Context, e SessionError) error
	PublishMetrics(ctx context.Context, e SessionMetrics) error

	// Close flushes and releases the sink. No publishes may follow.
	Close() error
}
