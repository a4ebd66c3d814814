package halluc

import (
	"strings"
	"unicode"
)

// PatternRule is one entry of the data-driven detection table. Rules are
// plain data (phrases, type, severity) so tuning them is configuration work,
// not code changes.
type PatternRule struct {
	// Name identifies the rule in evidence details.
	Name string

	// Type is the hallucination type the rule detects.
	Type Type

	// Severity in [0, 1] assigned when the rule fires.
	Severity float64

	// Phrases trigger the rule when any of them occurs in the lower-cased
	// text.
	Phrases []string

	// MinRepeats, when > 0, requires a phrase to occur at least this many
	// times before the rule fires.
	MinRepeats int
}

// defaultRules is the built-in rule table, distilled from transcripts of
// common Whisper-style failure modes: subtitle-credit artifacts, broadcast
// sign-offs on silence, and music misinterpretation.
var defaultRules = []PatternRule{
	{
		Name:     "subtitle_credits",
		Type:     TypeArtifact,
		Severity: 0.90,
		Phrases: []string{
			"thanks for watching",
			"thank you for watching",
			"please subscribe",
			"like and subscribe",
			"subtitles by",
			"captions by",
			"copyright ©",
			"all rights reserved",
		},
	},
	{
		Name:     "broadcast_signoff",
		Type:     TypeArtifact,
		Severity: 0.75,
		Phrases: []string{
			"see you in the next video",
			"don't forget to subscribe",
			"bye bye.",
		},
	},
	{
		Name:     "musical_interpretation",
		Type:     TypeMusical,
		Severity: 0.85,
		Phrases: []string{
			"♪",
			"♫",
			"[music]",
			"(music)",
			"[applause]",
			"la la la",
			"na na na",
		},
	},
	{
		Name:       "filler_loop",
		Type:       TypeRepetitiveLoop,
		Severity:   0.80,
		Phrases:    []string{"thank you", "okay", "you know", "uh huh", "mm hmm"},
		MinRepeats: 3,
	},
}

// commonShortWords is the allow-list that exempts frequent consonant-heavy or
// vowel-free English words from the nonsense-cluster check.
var commonShortWords = map[string]struct{}{
	"by": {}, "my": {}, "fly": {}, "try": {}, "dry": {}, "cry": {}, "sky": {},
	"why": {}, "gym": {}, "shy": {}, "hymn": {}, "nth": {}, "tv": {}, "pc": {},
	"ok": {}, "mr": {}, "mrs": {}, "dr": {}, "st": {}, "vs": {}, "etc": {},
	"hmm": {}, "mm": {}, "shh": {}, "psst": {}, "tsk": {},
}

// matchRules evaluates the rule table against text and returns evidence for
// every rule that fires.
func matchRules(rules []PatternRule, text string) []Evidence {
	lower := strings.ToLower(text)

	var out []Evidence
	for _, rule := range rules {
		for _, phrase := range rule.Phrases {
			count := strings.Count(lower, phrase)
			needed := rule.MinRepeats
			if needed <= 0 {
				needed = 1
			}
			if count >= needed {
				out = append(out, Evidence{
					Layer:    layerPattern,
					Type:     rule.Type,
					Severity: rule.Severity,
					Detail:   rule.Name + ": " + phrase,
				})
				break // one evidence per rule
			}
		}
	}
	return out
}

// repetitionRatio returns the frequency share of the most common word and the
// total word count.
func repetitionRatio(words []string) (float64, int) {
	if len(words) == 0 {
		return 0, 0
	}
	freq := make(map[string]int, len(words))
	most := 0
	for _, w := range words {
		lw := strings.ToLower(w)
		freq[lw]++
		if freq[lw] > most {
			most = freq[lw]
		}
	}
	return float64(most) / float64(len(words)), len(words)
}

// maxPhraseRepeats returns the highest consecutive-repeat count of any bigram
// in words. "thank you thank you thank you" has a bigram repeated 3 times.
func maxPhraseRepeats(words []string) int {
	if len(words) < 4 {
		return 0
	}
	best := 0
	for size := 2; size <= 3 && size*2 <= len(words); size++ {
		for start := 0; start+size <= len(words); start++ {
			repeats := 1
			for next := start + size; next+size <= len(words); next += size {
				if !sameWords(words[start:start+size], words[next:next+size]) {
					break
				}
				repeats++
			}
			if repeats > best {
				best = repeats
			}
		}
	}
	return best
}

// sameWords compares two word slices case-insensitively; slices of different
// lengths never match.
func sameWords(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// isNonsenseWord reports whether a word looks like a non-speech letter
// cluster: no vowels, or a run of five or more consonants, and not on the
// allow-list.
func isNonsenseWord(word string) bool {
	w := strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r)
	}))
	if len(w) < 3 {
		return false
	}
	if _, ok := commonShortWords[w]; ok {
		return false
	}

	vowels, consonantRun, maxRun := 0, 0, 0
	for _, r := range w {
		switch r {
		case 'a', 'e', 'i', 'o', 'u', 'y':
			vowels++
			consonantRun = 0
		default:
			if unicode.IsLetter(r) {
				consonantRun++
				if consonantRun > maxRun {
					maxRun = consonantRun
				}
			}
		}
	}
	return vowels == 0 || maxRun >= 5
}

// scriptConfusion reports whether text mixes Latin letters with letters from
// scripts that ASR models substitute under confusion (CJK, Cyrillic, Greek,
// Hangul), and the fraction of such foreign letters.
func scriptConfusion(text string) (bool, float64) {
	var latin, foreign int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		switch {
		case unicode.Is(unicode.Latin, r):
			latin++
		case unicode.Is(unicode.Han, r),
			unicode.Is(unicode.Cyrillic, r),
			unicode.Is(unicode.Greek, r),
			unicode.Is(unicode.Hangul, r),
			unicode.Is(unicode.Hiragana, r),
			unicode.Is(unicode.Katakana, r):
			foreign++
		}
	}
	total := latin + foreign
	if total == 0 || foreign == 0 {
		return false, 0
	}
	ratio := float64(foreign) / float64(total)
	return latin > 0 && foreign > 0, ratio
}

// dedupRepetitions collapses consecutive phrase repetitions to a single
// occurrence, producing the corrected variant used by the filter action.
func dedupRepetitions(text string) string {
	words := strings.Fields(text)
	if len(words) < 2 {
		return text
	}

	for size := 3; size >= 1; size-- {
		words = collapseRuns(words, size)
	}
	return strings.Join(words, " ")
}

// collapseRuns removes immediate repetitions of word groups of the given size.
func collapseRuns(words []string, size int) []string {
	if len(words) < size*2 {
		return words
	}
	out := make([]string, 0, len(words))
	i := 0
	for i < len(words) {
		out = append(out, words[i:min(i+size, len(words))]...)
		j := i + size
		for j+size <= len(words) && sameWords(words[i:i+size], words[j:j+size]) {
			j += size
		}
		i = j
	}
	return out
}
