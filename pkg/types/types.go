// Package types defines the shared types used across all Verbatim packages.
//
// These types form the lingua franca between the VAD engine, the backpressure
// gate, the pipeline orchestrator, and the external collaborators. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// AudioFrame represents a single fixed-duration frame of PCM audio flowing
// through the pipeline. Frames are the atomic unit of audio transport — pushed
// by the audio source collaborator, classified by VAD, gated into the
// backpressure queue, and batched into ASR requests.
//
// A frame is owned by the caller until it has been consumed by the gate; the
// queue copies nothing, so callers must not reuse the Data slice after a
// successful enqueue.
type AudioFrame struct {
	// Data holds raw 16-bit signed little-endian mono PCM samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for ASR-optimised mono input).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	// Timestamps are monotonic within a session.
	Timestamp time.Duration
}

// DurationOf returns the audio duration represented by the frame's payload.
// Returns zero for frames with an invalid sample rate.
func (f AudioFrame) DurationOf() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 // 16-bit PCM
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// TranscriptFragment is the result of one ASR collaborator call. The core
// treats fragments as read-only input: text, confidence, and word timings are
// never mutated, only merged into higher-level transcript state.
type TranscriptFragment struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall recognition confidence (0.0–1.0). May be zero
	// if the backend does not report confidence.
	Confidence float64

	// Words contains per-word detail when the backend supports it. May be nil.
	Words []WordDetail

	// Language is the detected or configured BCP-47 language tag.
	Language string

	// Duration is the length of the audio the fragment was produced from.
	Duration time.Duration
}

// WordDetail holds per-word metadata from ASR backends that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// TranscriptionChunk is one pipeline pass over a batch of queued audio,
// annotated with its position in the session and whether it is provisional.
// Chunks are appended to the per-session correlation window.
type TranscriptionChunk struct {
	// ChunkID uniquely identifies the chunk within its session.
	ChunkID string

	// SessionID identifies the owning session.
	SessionID string

	// Index is the monotonic per-session chunk index.
	Index uint64

	// Text is the ASR text after any merge/dedup processing.
	Text string

	// Confidence is the ASR confidence carried over from the fragment.
	Confidence float64

	// Timestamp marks when the chunk entered the pipeline.
	Timestamp time.Time

	// IsInterim is true for provisional chunks that may still be replaced.
	IsInterim bool
}

// TextSegment is an immutable confirmed portion of the session transcript.
// Once emitted it is never mutated; the persistence collaborator may store it.
type TextSegment struct {
	// SegmentID uniquely identifies the segment within its session.
	SegmentID string

	// SessionID identifies the owning session.
	SessionID string

	// Text is the confirmed text.
	Text string

	// Confidence is the confidence of the final chunk that produced the segment.
	Confidence float64

	// FinalizedAt is when the segment was confirmed.
	FinalizedAt time.Time
}
