package correlate

import (
	"fmt"
	"testing"
	"time"

	"github.com/kestrelaudio/verbatim/pkg/types"
)

var chunkBase = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func chunkAt(id, text string, confidence float64, offset time.Duration) types.TranscriptionChunk {
	return types.TranscriptionChunk{
		ChunkID:    id,
		SessionID:  "sess-1",
		Text:       text,
		Confidence: confidence,
		Timestamp:  chunkBase.Add(offset),
	}
}

func TestObserve_CorrelatesAdjacentChunks(t *testing.T) {
	e := NewEngine()

	e.Observe(chunkAt("c1", "the weather is looking good", 0.9, 0))
	cs := e.Observe(chunkAt("c2", "the weather is looking good today", 0.9, time.Second))

	if len(cs) == 0 {
		t.Fatal("no correlation found for near-identical adjacent chunks")
	}
	if cs[0].ChunkID != "c1" {
		t.Errorf("best correlation = %q, want c1", cs[0].ChunkID)
	}
	if cs[0].Score < 0.5 {
		t.Errorf("score = %.2f, want >= 0.5 for near-identical chunks", cs[0].Score)
	}
}

func TestObserve_UnrelatedChunksScoreLow(t *testing.T) {
	e := NewEngine()

	e.Observe(chunkAt("c1", "please pass the salt", 0.9, 0))
	cs := e.Observe(chunkAt("c2", "quarterly revenue exceeded forecasts", 0.9, 45*time.Second))

	for _, c := range cs {
		if c.Lexical > 0.3 {
			t.Errorf("lexical overlap = %.2f for unrelated texts, want <= 0.3", c.Lexical)
		}
	}
}

func TestObserve_WindowEviction(t *testing.T) {
	e := NewEngine(WithWindowSize(3))

	for i := 0; i < 5; i++ {
		e.Observe(chunkAt(
			fmt.Sprintf("c%d", i),
			fmt.Sprintf("chunk number %d with some words", i),
			0.9,
			time.Duration(i)*time.Second,
		))
	}

	w := e.Window()
	if len(w) != 3 {
		t.Fatalf("window size = %d, want 3", len(w))
	}
	if w[0].ChunkID != "c2" || w[2].ChunkID != "c4" {
		t.Errorf("window = [%s..%s], want [c2..c4]", w[0].ChunkID, w[2].ChunkID)
	}

	// Evicted chunks lose their cached correlations.
	if got := e.Correlations("c1"); got != nil {
		t.Errorf("evicted chunk still has %d cached correlations", len(got))
	}
}

func TestObserve_KeepsTopThree(t *testing.T) {
	e := NewEngine(WithWindowSize(5), WithMinCorrelation(0))

	for i := 0; i < 5; i++ {
		e.Observe(chunkAt(
			fmt.Sprintf("c%d", i),
			"we keep saying roughly the same sentence",
			0.9,
			time.Duration(i)*time.Second,
		))
	}
	cs := e.Observe(chunkAt("new", "we keep saying roughly the same sentence", 0.9, 5*time.Second))

	if len(cs) != 3 {
		t.Fatalf("retained correlations = %d, want 3", len(cs))
	}
	for i := 1; i < len(cs); i++ {
		if cs[i].Score > cs[i-1].Score {
			t.Error("correlations not sorted strongest first")
		}
	}
}

func TestObserve_LowConfidenceWeighsDown(t *testing.T) {
	high := NewEngine()
	high.Observe(chunkAt("c1", "identical text here", 0.95, 0))
	hs := high.Observe(chunkAt("c2", "identical text here", 0.95, time.Second))

	low := NewEngine(WithMinCorrelation(0))
	low.Observe(chunkAt("c1", "identical text here", 0.2, 0))
	ls := low.Observe(chunkAt("c2", "identical text here", 0.2, time.Second))

	if len(hs) == 0 || len(ls) == 0 {
		t.Fatal("expected correlations in both engines")
	}
	if ls[0].Score >= hs[0].Score {
		t.Errorf("low-confidence score %.2f >= high-confidence score %.2f", ls[0].Score, hs[0].Score)
	}
}

func TestObserve_TemporalDecay(t *testing.T) {
	near := NewEngine(WithMinCorrelation(0))
	near.Observe(chunkAt("c1", "same words again", 0.9, 0))
	ns := near.Observe(chunkAt("c2", "same words again", 0.9, time.Second))

	far := NewEngine(WithMinCorrelation(0))
	far.Observe(chunkAt("c1", "same words again", 0.9, 0))
	fs := far.Observe(chunkAt("c2", "same words again", 0.9, time.Minute))

	if ns[0].Temporal <= fs[0].Temporal {
		t.Errorf("temporal score near=%.3f far=%.3f, want near > far", ns[0].Temporal, fs[0].Temporal)
	}
}

func TestBest(t *testing.T) {
	e := NewEngine()

	e.Observe(chunkAt("c1", "completely different words entirely", 0.9, 0))
	e.Observe(chunkAt("c2", "the meeting starts at noon", 0.9, time.Second))
	e.Observe(chunkAt("c3", "the meeting starts at noon sharp", 0.9, 2*time.Second))

	best, corr, ok := e.Best("c3")
	if !ok {
		t.Fatal("Best found nothing for c3")
	}
	if best.ChunkID != "c2" {
		t.Errorf("best chunk = %q, want c2", best.ChunkID)
	}
	if corr.Lexical < 0.5 {
		t.Errorf("best lexical = %.2f, want >= 0.5", corr.Lexical)
	}
}

func TestReset(t *testing.T) {
	e := NewEngine()
	e.Observe(chunkAt("c1", "some text", 0.9, 0))
	e.Reset()

	if len(e.Window()) != 0 {
		t.Error("window not empty after Reset")
	}
	if _, _, ok := e.Best("c1"); ok {
		t.Error("Best returned data after Reset")
	}
}

func TestLexicalOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "hello world", "hello world", 0.99, 1.0},
		{"truncated word", "hello wor", "hello world today", 0.6, 0.7},
		{"disjoint", "alpha beta", "gamma delta epsilon", 0, 0.1},
		{"empty", "", "hello", 0, 0},
		{"case and punctuation", "Hello, World!", "hello world", 0.99, 1.0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := lexicalOverlap(tc.a, tc.b)
			if got < tc.min || got > tc.max {
				t.Errorf("lexicalOverlap(%q, %q) = %.3f, want in [%.2f, %.2f]", tc.a, tc.b, got, tc.min, tc.max)
			}
		})
	}
}
