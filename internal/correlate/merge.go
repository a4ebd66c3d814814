package correlate

import "strings"

// OverlapSpan returns the number of trailing words of prev that align with
// the leading words of next. Alignment is fuzzy, so "hello wor" overlaps
// "hello world today" by two words.
func OverlapSpan(prev, next string) int {
	pw, nw := splitWords(prev), splitWords(next)
	if len(pw) == 0 || len(nw) == 0 {
		return 0
	}

	limit := len(pw)
	if len(nw) < limit {
		limit = len(nw)
	}

	// Try the longest suffix/prefix alignment first.
	for span := limit; span > 0; span-- {
		if spanAligns(pw[len(pw)-span:], nw[:span]) {
			return span
		}
	}
	return 0
}

// StripOverlap removes from next the leading word span that duplicates the
// tail of prev, returning the de-duplicated remainder. When next is entirely
// contained in the overlap, the empty string is returned.
func StripOverlap(prev, next string) string {
	span := OverlapSpan(prev, next)
	if span == 0 {
		return next
	}
	nw := splitWords(next)
	if span >= len(nw) {
		return ""
	}
	return strings.Join(nw[span:], " ")
}

// MergeFinal resolves an open interim text against the final text for the
// same audio. When the two overlap heavily the final text wins wholesale;
// otherwise the final text is appended after the interim remainder.
//
// The returned string is what gets appended to confirmed text; interim text
// never survives this call.
func MergeFinal(interim, final string) string {
	if interim == "" {
		return final
	}
	if final == "" {
		return interim
	}

	// Heavy overlap: the final transcript is a refined version of the
	// interim, so it replaces it entirely.
	if lexicalOverlap(interim, final) >= 0.5 {
		return final
	}

	// Light or no overlap: keep the interim and append the de-duplicated
	// remainder of the final text.
	rest := StripOverlap(interim, final)
	if rest == "" {
		return interim
	}
	return interim + " " + rest
}

// spanAligns reports whether two equal-length word slices align pairwise.
func spanAligns(a, b []string) bool {
	for i := range a {
		if !wordsAlign(normalizeWord(a[i]), normalizeWord(b[i])) {
			return false
		}
	}
	return true
}
