package session

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kestrelaudio/verbatim/internal/config"
	"github.com/kestrelaudio/verbatim/internal/correct"
	"github.com/kestrelaudio/verbatim/internal/events"
	persistmock "github.com/kestrelaudio/verbatim/pkg/persist/mock"
	asrmock "github.com/kestrelaudio/verbatim/pkg/provider/asr/mock"
	llmmock "github.com/kestrelaudio/verbatim/pkg/provider/llm/mock"
	"github.com/kestrelaudio/verbatim/pkg/types"
)

// speechFrame synthesises one voiced 16-bit PCM frame: a 220Hz sine at half
// amplitude, 2048 samples (128ms at 16kHz). Long frames keep the realistic
// words-per-second check of the validator out of the way.
func speechFrame(i int) types.AudioFrame {
	const samples = 2048
	pcm := make([]byte, samples*2)
	for n := 0; n < samples; n++ {
		v := int16(0.5 * 32767 * math.Sin(2*math.Pi*220*float64(n)/16000))
		pcm[2*n] = byte(v)
		pcm[2*n+1] = byte(v >> 8)
	}
	return types.AudioFrame{
		Data:       pcm,
		SampleRate: 16000,
		Timestamp:  time.Duration(i) * 128 * time.Millisecond,
	}
}

// silenceFrame synthesises one near-silent frame of the same shape.
func silenceFrame(i int) types.AudioFrame {
	return types.AudioFrame{
		Data:       make([]byte, 4096),
		SampleRate: 16000,
		Timestamp:  time.Duration(i) * 128 * time.Millisecond,
	}
}

func newTestSession(t *testing.T, asrp *asrmock.Provider, sink events.Sink, store *persistmock.Store) *Session {
	t.Helper()
	deps := Deps{ASR: asrp, Sink: sink}
	if store != nil {
		deps.Store = store
	}
	s, err := New("sess-1", config.Config{}, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSession_SpeechToConfirmedTranscript(t *testing.T) {
	asrp := &asrmock.Provider{
		Results: []*types.TranscriptFragment{
			{Text: "hello there", Confidence: 0.85, Duration: 512 * time.Millisecond},
			{Text: "everyone welcome", Confidence: 0.85, Duration: 512 * time.Millisecond},
		},
		Result: &types.TranscriptFragment{}, // silence beyond the script
	}
	sink := &events.Recorder{}
	store := &persistmock.Store{}
	s := newTestSession(t, asrp, sink, store)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if err := s.PushFrame(ctx, speechFrame(i)); err != nil {
			t.Fatalf("PushFrame %d: %v", i, err)
		}
	}

	if got := sink.InterimCount(); got != 2 {
		t.Fatalf("interim updates = %d, want 2", got)
	}
	last := sink.Interims[len(sink.Interims)-1]
	if last.DisplayText != "hello there everyone welcome" {
		t.Errorf("display text = %q, want accumulated utterance", last.DisplayText)
	}

	summary, err := s.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if got := sink.FinalCount(); got != 1 {
		t.Fatalf("final updates = %d, want 1", got)
	}
	final := sink.LastFinal()
	if final.Text != "hello there everyone welcome" {
		t.Errorf("final text = %q", final.Text)
	}
	if final.ConfirmedText != s.ConfirmedText() {
		t.Errorf("final event confirmed text %q != session %q", final.ConfirmedText, s.ConfirmedText())
	}
	if store.Len() != 1 {
		t.Errorf("persisted segments = %d, want 1", store.Len())
	}

	if summary.FramesReceived != 12 {
		t.Errorf("frames received = %d, want 12", summary.FramesReceived)
	}
	if summary.Segments != 1 {
		t.Errorf("segments = %d, want 1", summary.Segments)
	}
	if summary.ChunksProcessed < 2 {
		t.Errorf("chunks processed = %d, want at least 2", summary.ChunksProcessed)
	}
	if len(sink.Metrics) != 1 {
		t.Errorf("metrics events = %d, want 1", len(sink.Metrics))
	}
}

func TestSession_SilenceNeverReachesASR(t *testing.T) {
	asrp := &asrmock.Provider{Result: &types.TranscriptFragment{Text: "ghost"}}
	sink := &events.Recorder{}
	s := newTestSession(t, asrp, sink, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.PushFrame(ctx, silenceFrame(i)); err != nil {
			t.Fatalf("PushFrame %d: %v", i, err)
		}
	}
	summary, err := s.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if got := len(asrp.Calls()); got != 0 {
		t.Errorf("ASR calls = %d, want 0 for pure silence", got)
	}
	if sink.InterimCount() != 0 || sink.FinalCount() != 0 {
		t.Errorf("events published for silence: %d interim, %d final",
			sink.InterimCount(), sink.FinalCount())
	}
	if summary.FramesReceived != 10 {
		t.Errorf("frames received = %d, want 10", summary.FramesReceived)
	}
	if summary.Segments != 0 {
		t.Errorf("segments = %d, want 0", summary.Segments)
	}
}

func TestSession_TranscriptionRetriesTransientError(t *testing.T) {
	asrp := &asrmock.Provider{
		Err:      errors.New("backend hiccup"),
		ErrCount: 1,
		Result:   &types.TranscriptFragment{Text: "alright then", Confidence: 0.8},
	}
	sink := &events.Recorder{}
	s := newTestSession(t, asrp, sink, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := s.PushFrame(ctx, speechFrame(i)); err != nil {
			t.Fatalf("PushFrame %d: %v", i, err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := len(asrp.Calls()); got < 2 {
		t.Fatalf("ASR calls = %d, want at least 2 (initial + retry)", got)
	}
	if sink.InterimCount() == 0 {
		t.Fatal("no interim update despite successful retry")
	}
	if got := sink.Interims[0].DisplayText; got != "alright then" {
		t.Errorf("display text = %q, want %q", got, "alright then")
	}
}

func TestSession_BlockedHallucinationNotDisplayed(t *testing.T) {
	asrp := &asrmock.Provider{
		Results: []*types.TranscriptFragment{
			{Text: "the cat the cat the cat the cat", Confidence: 0.8},
		},
		Result: &types.TranscriptFragment{},
	}
	sink := &events.Recorder{}
	s := newTestSession(t, asrp, sink, nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if err := s.PushFrame(ctx, speechFrame(i)); err != nil {
			t.Fatalf("PushFrame %d: %v", i, err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	summary, err := s.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if sink.InterimCount() != 0 {
		t.Errorf("interim updates = %d, want 0 for a blocked repetition loop", sink.InterimCount())
	}
	if sink.FinalCount() != 0 {
		t.Errorf("final updates = %d, want 0", sink.FinalCount())
	}
	if summary.Hallucinations == 0 {
		t.Error("hallucination counter not incremented")
	}
}

func TestSession_PushAfterFinalizeFails(t *testing.T) {
	asrp := &asrmock.Provider{Result: &types.TranscriptFragment{}}
	sink := &events.Recorder{}
	s := newTestSession(t, asrp, sink, nil)
	ctx := context.Background()

	if _, err := s.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := s.PushFrame(ctx, speechFrame(0)); !errors.Is(err, ErrFinalized) {
		t.Errorf("PushFrame after finalize = %v, want ErrFinalized", err)
	}
	if err := s.Flush(ctx); !errors.Is(err, ErrFinalized) {
		t.Errorf("Flush after finalize = %v, want ErrFinalized", err)
	}
}

func TestSession_FinalizeIsIdempotent(t *testing.T) {
	asrp := &asrmock.Provider{
		Results: []*types.TranscriptFragment{{Text: "short note", Confidence: 0.85}},
		Result:  &types.TranscriptFragment{},
	}
	sink := &events.Recorder{}
	s := newTestSession(t, asrp, sink, nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if err := s.PushFrame(ctx, speechFrame(i)); err != nil {
			t.Fatalf("PushFrame %d: %v", i, err)
		}
	}
	first, err := s.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	second, err := s.Finalize(ctx)
	if err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if first != second {
		t.Errorf("repeated Finalize summaries differ:\n%+v\n%+v", first, second)
	}
	if len(sink.Metrics) != 1 {
		t.Errorf("metrics events = %d, want exactly 1", len(sink.Metrics))
	}
}

func TestSession_VoiceTailDeliversTrailingSilence(t *testing.T) {
	asrp := &asrmock.Provider{
		Results: []*types.TranscriptFragment{
			{Text: "good morning folks", Confidence: 0.85},
			{Text: "welcome back", Confidence: 0.85},
		},
		Result: &types.TranscriptFragment{},
	}
	sink := &events.Recorder{}
	s := newTestSession(t, asrp, sink, nil)
	ctx := context.Background()

	// Five voiced frames, then two near-silent frames arriving inside the
	// voice tail: all seven are gated into the queue, none dropped.
	for i := 0; i < 5; i++ {
		if err := s.PushFrame(ctx, speechFrame(i)); err != nil {
			t.Fatalf("PushFrame %d: %v", i, err)
		}
	}
	for i := 5; i < 7; i++ {
		if err := s.PushFrame(ctx, silenceFrame(i)); err != nil {
			t.Fatalf("PushFrame %d: %v", i, err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	summary, err := s.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if summary.FramesReceived != 7 {
		t.Errorf("frames received = %d, want 7", summary.FramesReceived)
	}
	if summary.FramesDropped != 0 {
		t.Errorf("frames dropped = %d, want 0", summary.FramesDropped)
	}
	if got := s.ConfirmedText(); got != "good morning folks welcome back" {
		t.Errorf("confirmed text = %q", got)
	}
}

func TestSession_FinalizeStopsLatencyMonitor(t *testing.T) {
	asrp := &asrmock.Provider{Result: &types.TranscriptFragment{}}
	sink := &events.Recorder{}
	s := newTestSession(t, asrp, sink, nil)

	if s.monitor == nil {
		t.Fatal("session has no latency monitor")
	}
	if s.monitor.Stopped() {
		t.Fatal("monitor stopped before Finalize")
	}
	if _, err := s.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !s.monitor.Stopped() {
		t.Error("Finalize left the latency monitor running")
	}
}

func TestSession_CorrectionConfidenceFloor(t *testing.T) {
	// runSession drives one short utterance through a session whose corrector
	// floor is set by MinConfidence, and reports how often the LLM was hit.
	runSession := func(t *testing.T, minConfidence float64) int {
		t.Helper()
		llmp := &llmmock.Provider{}
		cfg := config.Config{}
		cfg.Correction.Vocabulary = []string{"Verbatim"}
		cfg.Correction.MinConfidence = minConfidence

		asrp := &asrmock.Provider{
			Results: []*types.TranscriptFragment{{Text: "short note", Confidence: 0.85}},
			Result:  &types.TranscriptFragment{},
		}
		s, err := New("sess-1", cfg, Deps{
			ASR:       asrp,
			Sink:      &events.Recorder{},
			Corrector: correct.New(llmp),
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		ctx := context.Background()
		for i := 0; i < 6; i++ {
			if err := s.PushFrame(ctx, speechFrame(i)); err != nil {
				t.Fatalf("PushFrame %d: %v", i, err)
			}
		}
		if _, err := s.Finalize(ctx); err != nil {
			t.Fatalf("Finalize: %v", err)
		}
		return llmp.CallCount()
	}

	// Default floor 0.5: a 0.85-confidence final needs no correction.
	if calls := runSession(t, 0); calls != 0 {
		t.Errorf("LLM calls with default floor = %d, want 0", calls)
	}
	// Raised floor: the same final now falls below it and gets corrected.
	if calls := runSession(t, 0.9); calls != 1 {
		t.Errorf("LLM calls with floor 0.9 = %d, want 1", calls)
	}
}

func TestNew_Validation(t *testing.T) {
	sink := &events.Recorder{}
	asrp := &asrmock.Provider{}

	if _, err := New("", config.Config{}, Deps{ASR: asrp, Sink: sink}); err == nil {
		t.Error("empty session ID accepted")
	}
	if _, err := New("s", config.Config{}, Deps{Sink: sink}); err == nil {
		t.Error("nil ASR provider accepted")
	}
	if _, err := New("s", config.Config{}, Deps{ASR: asrp}); err == nil {
		t.Error("nil sink accepted")
	}
}
