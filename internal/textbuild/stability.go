package textbuild

import (
	"math"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
)

// Stability fusion weights. Must sum to 1.
const (
	similarityWeight = 0.30
	confVarWeight    = 0.15
	wordVarWeight    = 0.15
	unchangedWeight  = 0.25
	temporalWeight   = 0.15

	// temporalGapTau is the update-gap time constant. Interim updates arriving
	// slower than this are treated as increasingly unstable, since the text
	// likely drifted while no updates arrived.
	temporalGapTau = 2 * time.Second
)

// interimState is one historical interim update.
type interimState struct {
	text       string
	confidence float64
	wordCount  int
	at         time.Time
}

// stabilityScore fuses the stability signals of a new interim text against
// the recent history. Returns a value in [0, 1]; an empty history yields 0
// (a brand-new interim has no stability evidence yet).
func stabilityScore(history []interimState, text string, confidence float64, now time.Time) float64 {
	if len(history) == 0 {
		return 0
	}
	prev := history[len(history)-1]

	similarity := matchr.JaroWinkler(prev.text, text, false)

	confVar := variance(append(confidences(history), confidence))
	// Confidence lives in [0,1]; a variance of 0.05 is already very jittery.
	confStability := 1 - clamp01(confVar/0.05)

	words := float64(len(strings.Fields(text)))
	wordVar := variance(append(wordCounts(history), words))
	// Normalise by the current word count so long texts are not penalised.
	wordStability := 1.0
	if words > 0 {
		wordStability = 1 - clamp01(wordVar/(words*words))
	}

	unchanged := unchangedFraction(prev.text, text)

	gap := now.Sub(prev.at)
	if gap < 0 {
		gap = 0
	}
	temporal := math.Exp(-gap.Seconds() / temporalGapTau.Seconds())

	return similarityWeight*similarity +
		confVarWeight*confStability +
		wordVarWeight*wordStability +
		unchangedWeight*unchanged +
		temporalWeight*temporal
}

// unchangedFraction returns the share of the longer word sequence covered by
// the common word prefix of the two texts.
func unchangedFraction(prev, next string) float64 {
	pw, nw := strings.Fields(prev), strings.Fields(next)
	longer := len(pw)
	if len(nw) > longer {
		longer = len(nw)
	}
	if longer == 0 {
		return 0
	}
	return float64(commonWordPrefix(pw, nw)) / float64(longer)
}

// commonWordPrefix returns the length of the longest shared word prefix,
// comparing case-insensitively.
func commonWordPrefix(a, b []string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if !strings.EqualFold(a[i], b[i]) {
			return i
		}
	}
	return n
}

func confidences(history []interimState) []float64 {
	out := make([]float64, len(history))
	for i, h := range history {
		out[i] = h.confidence
	}
	return out
}

func wordCounts(history []interimState) []float64 {
	out := make([]float64, len(history))
	for i, h := range history {
		out[i] = float64(h.wordCount)
	}
	return out
}

func variance(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var sum float64
	for _, v := range vals {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(vals))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
