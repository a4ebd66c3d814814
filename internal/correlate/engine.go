// Package correlate implements the inter-chunk context-correlation engine.
//
// Each session keeps a bounded sliding window of recent transcription chunks.
// When a new chunk arrives it is scored against every chunk still in the
// window by fusing temporal proximity (exponential decay), lexical overlap
// (fuzzy word alignment), and structural fingerprint similarity, weighted by
// the pair's average confidence. The strongest correlations drive the
// progressive merge that strips duplicated word spans across successive
// interim updates.
package correlate

import (
	"math"
	"sort"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/kestrelaudio/verbatim/pkg/types"
)

const (
	// defaultWindowSize bounds the per-session chunk window.
	defaultWindowSize = 5

	// defaultMinCorrelation is the score below which a pair is not kept.
	defaultMinCorrelation = 0.30

	// topCorrelations caps how many correlations are retained per chunk.
	topCorrelations = 3

	// temporalTau is the time constant of the exponential proximity decay.
	temporalTau = 10 * time.Second

	// wordMatchThreshold is the Jaro-Winkler score at which two words are
	// considered aligned. High enough to reject unrelated words, low enough
	// to absorb ASR spelling jitter.
	wordMatchThreshold = 0.88

	// Fusion weights. Lexical overlap dominates since it directly drives the
	// dedup merge; must sum to 1.
	temporalWeight = 0.30
	lexicalWeight  = 0.45
	semanticWeight = 0.25
)

// Correlation is the scored relationship between a new chunk and an earlier
// chunk still in the window.
type Correlation struct {
	ChunkID string // the earlier chunk
	Score   float64

	// Component scores, each in [0, 1], before confidence weighting.
	Temporal float64
	Lexical  float64
	Semantic float64
}

// windowEntry pairs a chunk with its precomputed fingerprint so window
// residents are only fingerprinted once.
type windowEntry struct {
	chunk types.TranscriptionChunk
	fp    Fingerprint
}

// Engine holds the correlation state of one session. It is owned by the
// session's driver goroutine and is not safe for concurrent use.
type Engine struct {
	windowSize     int
	minCorrelation float64

	window []windowEntry

	// cache maps a chunk ID to its retained correlations, evicted together
	// with the chunk when it leaves the window.
	cache map[string][]Correlation
}

// Option is a functional option for configuring an Engine during construction.
type Option func(*Engine)

// WithWindowSize sets the sliding-window length. Default is 5.
func WithWindowSize(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.windowSize = k
		}
	}
}

// WithMinCorrelation sets the minimum score for a correlation to be kept.
// Default is 0.30.
func WithMinCorrelation(min float64) Option {
	return func(e *Engine) { e.minCorrelation = min }
}

// NewEngine creates a correlation engine with default parameters.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		windowSize:     defaultWindowSize,
		minCorrelation: defaultMinCorrelation,
		cache:          make(map[string][]Correlation),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Observe scores chunk against the current window, records the strongest
// correlations, then admits the chunk into the window (evicting the oldest
// entry and its cached correlations when full). The returned slice holds at
// most three correlations, strongest first, all at or above the minimum.
func (e *Engine) Observe(chunk types.TranscriptionChunk) []Correlation {
	fp := FingerprintOf(chunk.Text)

	var correlations []Correlation
	for _, entry := range e.window {
		c := e.score(chunk, fp, entry)
		if c.Score >= e.minCorrelation {
			correlations = append(correlations, c)
		}
	}
	sort.Slice(correlations, func(i, j int) bool {
		return correlations[i].Score > correlations[j].Score
	})
	if len(correlations) > topCorrelations {
		correlations = correlations[:topCorrelations]
	}

	if len(e.window) >= e.windowSize {
		evicted := e.window[0]
		e.window = e.window[1:]
		delete(e.cache, evicted.chunk.ChunkID)
	}
	e.window = append(e.window, windowEntry{chunk: chunk, fp: fp})
	if len(correlations) > 0 {
		e.cache[chunk.ChunkID] = correlations
	}

	return correlations
}

// Correlations returns the cached correlations of a chunk still tracked by
// the engine. Returns nil for unknown or evicted chunks.
func (e *Engine) Correlations(chunkID string) []Correlation {
	return e.cache[chunkID]
}

// Best returns the window chunk most strongly correlated with chunkID, if the
// correlation is still cached and its counterpart is still in the window.
func (e *Engine) Best(chunkID string) (types.TranscriptionChunk, Correlation, bool) {
	cs := e.cache[chunkID]
	if len(cs) == 0 {
		return types.TranscriptionChunk{}, Correlation{}, false
	}
	best := cs[0]
	for _, entry := range e.window {
		if entry.chunk.ChunkID == best.ChunkID {
			return entry.chunk, best, true
		}
	}
	return types.TranscriptionChunk{}, Correlation{}, false
}

// Window returns the chunks currently in the sliding window, oldest first.
func (e *Engine) Window() []types.TranscriptionChunk {
	out := make([]types.TranscriptionChunk, len(e.window))
	for i, entry := range e.window {
		out[i] = entry.chunk
	}
	return out
}

// Reset clears the window and correlation cache, e.g. on session restart.
func (e *Engine) Reset() {
	e.window = nil
	e.cache = make(map[string][]Correlation)
}

// score fuses the three component estimators for one chunk pair and weights
// the result by the pair's average confidence.
func (e *Engine) score(chunk types.TranscriptionChunk, fp Fingerprint, prev windowEntry) Correlation {
	c := Correlation{ChunkID: prev.chunk.ChunkID}

	gap := chunk.Timestamp.Sub(prev.chunk.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	c.Temporal = math.Exp(-gap.Seconds() / temporalTau.Seconds())
	c.Lexical = lexicalOverlap(chunk.Text, prev.chunk.Text)
	c.Semantic = fp.Similarity(prev.fp)

	fused := temporalWeight*c.Temporal + lexicalWeight*c.Lexical + semanticWeight*c.Semantic
	avgConfidence := (chunk.Confidence + prev.chunk.Confidence) / 2
	c.Score = fused * avgConfidence
	return c
}

// lexicalOverlap returns the fuzzy word-alignment ratio of two texts in
// [0, 1]: aligned word pairs divided by the longer word count. Each word of
// the shorter text may align at most one word of the longer.
func lexicalOverlap(a, b string) float64 {
	aw, bw := splitWords(a), splitWords(b)
	if len(aw) == 0 || len(bw) == 0 {
		return 0
	}
	if len(aw) > len(bw) {
		aw, bw = bw, aw
	}

	used := make([]bool, len(bw))
	matched := 0
	for _, w := range aw {
		nw := normalizeWord(w)
		if nw == "" {
			continue
		}
		for j, cand := range bw {
			if used[j] {
				continue
			}
			if wordsAlign(nw, normalizeWord(cand)) {
				used[j] = true
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(bw))
}

// wordsAlign reports whether two normalised words refer to the same spoken
// word, tolerating ASR spelling jitter and truncated interim words.
func wordsAlign(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	// A truncated interim word ("wor") aligns with its completion ("world").
	if len(a) >= 3 && len(b) > len(a) && b[:len(a)] == a {
		return true
	}
	if len(b) >= 3 && len(a) > len(b) && a[:len(b)] == b {
		return true
	}
	return matchr.JaroWinkler(a, b, false) >= wordMatchThreshold
}
