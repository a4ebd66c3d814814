// Package textbuild implements the progressive interim/final text builder.
//
// Per session it maintains an append-only confirmed text, a fully replaceable
// interim text, and a short history of recent interim states. Every interim
// update is classified into an update strategy (new, stable append, partial
// update, replace) driven by a fused stability score, so a display client can
// render smooth incremental text instead of flickering wholesale rewrites.
// Final chunks merge with any open interim via overlap deduplication and
// become immutable [types.TextSegment] values.
package textbuild

import (
	"fmt"
	"strings"
	"time"

	"github.com/kestrelaudio/verbatim/internal/correlate"
	"github.com/kestrelaudio/verbatim/pkg/types"
)

const (
	// defaultStabilityThreshold is the score at or above which an interim
	// update counts as stable.
	defaultStabilityThreshold = 0.65

	// partialUpdateFloor is the score below which even a partial update is
	// not attempted and the interim is replaced wholesale.
	partialUpdateFloor = 0.35

	// defaultHistoryLimit bounds the retained interim history per session.
	defaultHistoryLimit = 5

	// defaultConfirmationDelay is how long an interim must stay open before a
	// stable update is reported as such, leaving a window for a rapid
	// correction to replace it first.
	defaultConfirmationDelay = 300 * time.Millisecond
)

// Strategy tags how a new interim text should be applied to the display.
type Strategy int

const (
	// StrategyNew means no prior interim existed; show the text as-is.
	StrategyNew Strategy = iota
	// StrategyStableAppend means the previous interim is a prefix of the new
	// text; only the delta needs rendering (smooth typing effect).
	StrategyStableAppend
	// StrategyPartialUpdate means only a bounded span changed; the changed
	// span is surfaced alongside the full text.
	StrategyPartialUpdate
	// StrategyReplace means stability is too low; show the new text wholesale.
	StrategyReplace
)

// String returns the strategy name used in logs and events.
func (s Strategy) String() string {
	switch s {
	case StrategyNew:
		return "new"
	case StrategyStableAppend:
		return "stable_append"
	case StrategyPartialUpdate:
		return "partial_update"
	case StrategyReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Update describes one applied interim change, ready to hand to the display
// collaborator.
type Update struct {
	Strategy Strategy

	// DisplayText is the complete current interim text.
	DisplayText string

	// Delta is the appended suffix for [StrategyStableAppend], or the changed
	// span for [StrategyPartialUpdate]. Empty otherwise.
	Delta string

	StabilityScore float64

	// IsStable reports a score at or above the stability threshold on an
	// interim that has been open for at least the confirmation delay.
	IsStable bool
}

// Builder holds the progressive text state of one session. It is owned by
// the session's driver goroutine and is not safe for concurrent use.
type Builder struct {
	sessionID          string
	stabilityThreshold float64
	confirmationDelay  time.Duration
	historyLimit       int
	now                func() time.Time

	confirmed    strings.Builder
	segments     []types.TextSegment
	interim      string
	interimSince time.Time
	history      []interimState
	segmentSeq   int
}

// Option is a functional option for configuring a Builder during construction.
type Option func(*Builder)

// WithStabilityThreshold sets the is-stable cutoff. Default is 0.65.
func WithStabilityThreshold(t float64) Option {
	return func(b *Builder) {
		if t > 0 {
			b.stabilityThreshold = t
		}
	}
}

// WithConfirmationDelay sets how long an interim must stay open before an
// update can be reported stable. Default is 300ms.
func WithConfirmationDelay(d time.Duration) Option {
	return func(b *Builder) {
		if d >= 0 {
			b.confirmationDelay = d
		}
	}
}

// WithHistoryLimit bounds the retained interim-state history. Default is 5.
func WithHistoryLimit(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.historyLimit = n
		}
	}
}

// withClock overrides the time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a text builder for one session.
func NewBuilder(sessionID string, opts ...Option) *Builder {
	b := &Builder{
		sessionID:          sessionID,
		stabilityThreshold: defaultStabilityThreshold,
		confirmationDelay:  defaultConfirmationDelay,
		historyLimit:       defaultHistoryLimit,
		now:                time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// ApplyInterim replaces the open interim text with the chunk's text and
// returns the classified update. The confirmed text is never touched.
func (b *Builder) ApplyInterim(chunk types.TranscriptionChunk) Update {
	now := b.now()
	text := strings.TrimSpace(chunk.Text)
	if b.interim == "" {
		b.interimSince = now
	}

	score := stabilityScore(b.history, text, chunk.Confidence, now)
	up := Update{
		DisplayText:    text,
		StabilityScore: score,
		IsStable:       score >= b.stabilityThreshold && now.Sub(b.interimSince) >= b.confirmationDelay,
	}

	switch {
	case b.interim == "":
		up.Strategy = StrategyNew

	case score >= b.stabilityThreshold && strings.HasPrefix(text, b.interim):
		up.Strategy = StrategyStableAppend
		up.Delta = strings.TrimSpace(text[len(b.interim):])

	case score >= partialUpdateFloor:
		up.Strategy = StrategyPartialUpdate
		up.Delta = changedSpan(b.interim, text)

	default:
		up.Strategy = StrategyReplace
	}

	b.interim = text
	b.history = append(b.history, interimState{
		text:       text,
		confidence: chunk.Confidence,
		wordCount:  len(strings.Fields(text)),
		at:         now,
	})
	if len(b.history) > b.historyLimit {
		b.history = b.history[len(b.history)-b.historyLimit:]
	}

	return up
}

// ApplyFinal resolves the open interim against the final chunk text, appends
// the de-duplicated result to the confirmed text as a new immutable segment,
// and clears the interim state.
//
// Returns the created segment, or ok=false when the final text was entirely
// duplicated by already-confirmed text (nothing new to confirm).
func (b *Builder) ApplyFinal(chunk types.TranscriptionChunk) (types.TextSegment, bool) {
	merged := correlate.MergeFinal(b.interim, strings.TrimSpace(chunk.Text))

	b.interim = ""
	b.interimSince = time.Time{}
	b.history = nil

	// Dedup against the tail of the confirmed text so a final that re-states
	// already-confirmed words does not duplicate them. Only the trailing
	// words matter for the overlap scan.
	addition := correlate.StripOverlap(confirmedTail(b.confirmed.String(), 20), merged)
	if strings.TrimSpace(addition) == "" {
		return types.TextSegment{}, false
	}

	if b.confirmed.Len() > 0 {
		b.confirmed.WriteByte(' ')
	}
	b.confirmed.WriteString(addition)

	b.segmentSeq++
	seg := types.TextSegment{
		SegmentID:   fmt.Sprintf("%s-seg-%d", b.sessionID, b.segmentSeq),
		SessionID:   b.sessionID,
		Text:        addition,
		Confidence:  chunk.Confidence,
		FinalizedAt: b.now(),
	}
	b.segments = append(b.segments, seg)
	return seg, true
}

// ConfirmedText returns the full append-only confirmed text.
func (b *Builder) ConfirmedText() string { return b.confirmed.String() }

// InterimText returns the currently open interim text, empty if none.
func (b *Builder) InterimText() string { return b.interim }

// Segments returns the immutable finalized segments in confirmation order.
func (b *Builder) Segments() []types.TextSegment {
	out := make([]types.TextSegment, len(b.segments))
	copy(out, b.segments)
	return out
}

// confirmedTail returns the last n words of text.
func confirmedTail(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[len(words)-n:], " ")
}

// changedSpan returns the word span of next that differs from prev: the words
// between the common prefix and the common suffix.
func changedSpan(prev, next string) string {
	pw, nw := strings.Fields(prev), strings.Fields(next)

	prefix := commonWordPrefix(pw, nw)

	// Common suffix over the remainders.
	suffix := 0
	for suffix < len(pw)-prefix && suffix < len(nw)-prefix &&
		strings.EqualFold(pw[len(pw)-1-suffix], nw[len(nw)-1-suffix]) {
		suffix++
	}

	if prefix+suffix >= len(nw) {
		return ""
	}
	return strings.Join(nw[prefix:len(nw)-suffix], " ")
}
