package correlate

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// fingerprintDims is the dimensionality of the numeric fingerprint vector,
// matching the pgvector column used by the persistence layer.
const fingerprintDims = 8

// Fingerprint is a cheap structural signature of a chunk's text. It captures
// shape rather than meaning: two chunks with similar fingerprints use words
// the same way even when the words differ.
type Fingerprint struct {
	WordCount   int
	UniqueRatio float64
	AvgWordLen  float64
	PunctRatio  float64
	HasNumbers  bool
	IsQuestion  bool
	IsExclaim   bool
	CapsRatio   float64

	// Hash is an order-independent hash over the normalised word set, used
	// for fast near-duplicate detection.
	Hash uint64
}

// FingerprintOf computes the structural signature of text. An empty or
// whitespace-only text yields the zero fingerprint.
func FingerprintOf(text string) Fingerprint {
	words := splitWords(text)
	if len(words) == 0 {
		return Fingerprint{}
	}

	var fp Fingerprint
	fp.WordCount = len(words)

	unique := make(map[string]struct{}, len(words))
	var letterTotal, capsTotal, punctTotal int
	for _, w := range words {
		lw := strings.ToLower(w)
		unique[lw] = struct{}{}
		for _, r := range w {
			switch {
			case unicode.IsUpper(r):
				capsTotal++
				letterTotal++
			case unicode.IsLetter(r):
				letterTotal++
			case unicode.IsDigit(r):
				fp.HasNumbers = true
			case unicode.IsPunct(r):
				punctTotal++
			}
		}
		fp.AvgWordLen += float64(len(lw))
	}
	fp.AvgWordLen /= float64(len(words))
	fp.UniqueRatio = float64(len(unique)) / float64(len(words))
	fp.PunctRatio = float64(punctTotal) / float64(len(words))
	if letterTotal > 0 {
		fp.CapsRatio = float64(capsTotal) / float64(letterTotal)
	}

	trimmed := strings.TrimSpace(text)
	fp.IsQuestion = strings.HasSuffix(trimmed, "?")
	fp.IsExclaim = strings.HasSuffix(trimmed, "!")

	// Order-independent hash: XOR of per-word hashes over the unique set.
	for w := range unique {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		fp.Hash ^= h.Sum64()
	}

	return fp
}

// Vector flattens the fingerprint into a fixed-size numeric vector suitable
// for similarity search. All components are scaled into roughly [0, 1].
func (f Fingerprint) Vector() []float32 {
	v := make([]float32, fingerprintDims)
	v[0] = float32(clamp01(float64(f.WordCount) / 50))
	v[1] = float32(f.UniqueRatio)
	v[2] = float32(clamp01(f.AvgWordLen / 12))
	v[3] = float32(clamp01(f.PunctRatio))
	if f.HasNumbers {
		v[4] = 1
	}
	if f.IsQuestion {
		v[5] = 1
	}
	if f.IsExclaim {
		v[6] = 1
	}
	v[7] = float32(clamp01(f.CapsRatio))
	return v
}

// Similarity scores two fingerprints in [0, 1]. Identical word sets score 1
// via the hash short-circuit; otherwise the numeric components are compared.
func (f Fingerprint) Similarity(other Fingerprint) float64 {
	if f.WordCount == 0 || other.WordCount == 0 {
		return 0
	}
	if f.Hash == other.Hash {
		return 1
	}

	av, bv := f.Vector(), other.Vector()
	var dist float64
	for i := range av {
		d := float64(av[i] - bv[i])
		dist += d * d
	}
	// Maximum possible squared distance is fingerprintDims (unit components).
	return 1 - math.Sqrt(dist/float64(fingerprintDims))
}

// splitWords tokenises text into whitespace-separated words, dropping empty
// tokens.
func splitWords(text string) []string {
	return strings.Fields(text)
}

// normalizeWord lower-cases a word and trims leading/trailing punctuation so
// "World," and "world" align.
func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	}))
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
