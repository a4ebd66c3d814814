// Package asr defines the Provider interface for speech recognition backends.
//
// An ASR provider wraps a transcription service (e.g., a local whisper.cpp
// server, the OpenAI transcription API, or a custom WebSocket bridge) and
// exposes a uniform blocking call: audio bytes in, transcript fragment out.
// The orchestrator treats the call as a possibly slow, possibly failing remote
// operation — it carries a context deadline and is serialized per session so
// that fragment ordering is preserved.
//
// Implementations must be safe for concurrent use: the orchestrator may issue
// calls for different sessions in parallel, but never more than one in-flight
// call per session.
package asr

import (
	"context"
	"errors"

	"github.com/kestrelaudio/verbatim/pkg/types"
)

// ErrNotSupported is returned by providers for optional capabilities they do
// not implement (e.g., language hints on backends with a fixed model language).
var ErrNotSupported = errors.New("asr: not supported by this backend")

// Request describes one transcription call.
type Request struct {
	// Audio holds raw 16-bit signed little-endian mono PCM samples.
	Audio []byte

	// SampleRate is the sample rate of Audio in Hz.
	SampleRate int

	// Language is an optional BCP-47 language hint. Empty lets the backend
	// auto-detect where supported.
	Language string

	// IsFinal indicates this is the terminal flush call for a session. Backends
	// that keep per-utterance state may use it to force a commit; stateless
	// backends ignore it.
	IsFinal bool
}

// Provider is the abstraction over any speech recognition backend.
//
// Transcribe blocks until the backend returns a result, the context is
// cancelled, or its deadline expires. A nil error guarantees a non-nil result,
// though the result's Text may be empty (silence is not an error).
type Provider interface {
	Transcribe(ctx context.Context, req Request) (*types.TranscriptFragment, error)
}
