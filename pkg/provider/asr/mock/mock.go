// Package mock provides test doubles for the asr package interfaces.
//
// Use Provider to script transcription results and inspect which audio
// payloads were delivered.
//
// Example:
//
//	p := &mock.Provider{
//	    Results: []*types.TranscriptFragment{{Text: "hello world", Confidence: 0.9}},
//	}
//	frag, _ := p.Transcribe(ctx, asr.Request{Audio: pcm, SampleRate: 16000})
package mock

import (
	"context"
	"sync"

	"github.com/kestrelaudio/verbatim/pkg/provider/asr"
	"github.com/kestrelaudio/verbatim/pkg/types"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the request passed to Transcribe. Audio is a copy of the payload.
	Req asr.Request
}

// Provider is a mock implementation of asr.Provider. The zero value returns an
// empty fragment for every call.
type Provider struct {
	mu sync.Mutex

	// Results are returned in order, one per Transcribe call. When exhausted
	// (or nil), Transcribe returns Result instead.
	Results []*types.TranscriptFragment

	// Result is the fallback fragment returned once Results is exhausted.
	// If nil, an empty fragment is returned.
	Result *types.TranscriptFragment

	// Err, if non-nil, is returned as the error from Transcribe. ErrCount
	// limits how many calls fail before Err is ignored; zero means every call.
	Err      error
	ErrCount int

	// Fn, if non-nil, overrides all other fields and handles the call directly.
	Fn func(ctx context.Context, req asr.Request) (*types.TranscriptFragment, error)

	// Delay, if set via BlockUntil, makes Transcribe wait for the channel (or
	// ctx) before responding. Used to exercise stage timeouts.
	blockCh <-chan struct{}

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall

	errsSeen int
	cursor   int
}

// Compile-time assertion that Provider implements asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// BlockUntil makes subsequent Transcribe calls wait until ch is closed (or the
// call's context is done, in which case the context error is returned).
func (p *Provider) BlockUntil(ch <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blockCh = ch
}

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, req asr.Request) (*types.TranscriptFragment, error) {
	p.mu.Lock()
	audioCopy := make([]byte, len(req.Audio))
	copy(audioCopy, req.Audio)
	recorded := req
	recorded.Audio = audioCopy
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Req: recorded})

	fn := p.Fn
	block := p.blockCh

	var err error
	if p.Err != nil && (p.ErrCount == 0 || p.errsSeen < p.ErrCount) {
		p.errsSeen++
		err = p.Err
	}

	var frag *types.TranscriptFragment
	if p.cursor < len(p.Results) {
		frag = p.Results[p.cursor]
		p.cursor++
	} else {
		frag = p.Result
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	if frag == nil {
		return &types.TranscriptFragment{}, nil
	}
	out := *frag
	return &out, nil
}

// Calls returns a snapshot of all recorded Transcribe calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.TranscribeCalls))
	copy(out, p.TranscribeCalls)
	return out
}

// Reset clears all recorded calls and scripting cursors. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.cursor = 0
	p.errsSeen = 0
}
