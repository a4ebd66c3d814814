// Package halluc implements the multi-layer hallucination-prevention
// validator that guards confirmed text.
//
// A candidate text is checked by five independent layers: basic quality,
// data-driven pattern rules, audio-text correlation, contextual consistency
// across recent chunks, and confidence-pattern analysis. Each layer emits
// zero or more pieces of [Evidence]. The decision fuses the layer votes: a
// candidate is a hallucination when enough layers vote positive, when any
// single evidence crosses the high-severity override, or when the model is
// suspiciously confident while layers still object. The resulting [Action]
// decides whether the text is allowed, queued for review, replaced by a
// corrected variant, or blocked outright — blocked text never reaches
// confirmed text.
package halluc

import (
	"strings"
	"time"

	"github.com/antzucaro/matchr"
)

// Type tags the kind of hallucination an evidence points at.
type Type string

const (
	TypeRepetitiveLoop    Type = "repetitive_loop"
	TypeNonsense          Type = "nonsense_cluster"
	TypeArtifact          Type = "audio_artifact"
	TypeLanguageConfusion Type = "language_confusion"
	TypeMusical           Type = "musical_interpretation"
	TypeQualityMismatch   Type = "quality_mismatch"
	TypeAudioMismatch     Type = "audio_text_mismatch"
	TypeContextAnomaly    Type = "context_anomaly"
	TypeConfidenceAnomaly Type = "confidence_anomaly"
)

// Action is the validator's verdict on a candidate text.
type Action int

const (
	// ActionAllow passes the text through unchanged.
	ActionAllow Action = iota
	// ActionReview passes the text but flags it for offline review.
	ActionReview
	// ActionFilter substitutes the corrected (de-duplicated) variant.
	ActionFilter
	// ActionBlock drops the text entirely.
	ActionBlock
)

// String returns the action name used in events and metrics.
func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionReview:
		return "review"
	case ActionFilter:
		return "filter"
	case ActionBlock:
		return "block"
	default:
		return "unknown"
	}
}

// Layer names used in evidence and for vote counting.
const (
	layerQuality    = "basic_quality"
	layerPattern    = "pattern_detection"
	layerAudioText  = "audio_text_correlation"
	layerContext    = "contextual_consistency"
	layerConfidence = "confidence_pattern"
)

// numLayers is the layer count the vote ratio is computed against.
const numLayers = 5

// Evidence is one finding by one layer.
type Evidence struct {
	Layer    string
	Type     Type
	Severity float64
	Detail   string
}

// Context carries the validation inputs beyond the text itself.
type Context struct {
	// Confidence is the ASR confidence of the candidate text.
	Confidence float64

	// AudioDuration is the length of the audio the text was produced from.
	AudioDuration time.Duration

	// QualityScore is the VAD audio-quality estimate in [0, 1].
	QualityScore float64

	// NoiseLevel is the environmental noise estimate in [0, 1].
	NoiseLevel float64

	// SpeakerConfidence estimates speaker presence in [0, 1].
	SpeakerConfidence float64

	// LanguageConfidence is the language-detection confidence in [0, 1].
	LanguageConfidence float64

	// RecentTexts holds the texts of recent chunks, newest last.
	RecentTexts []string

	// RecentConfidences holds the confidences of recent chunks, newest last.
	RecentConfidences []float64

	// RecentFlags counts how many recent chunks were flagged.
	RecentFlags int
}

// Detection is the validator's full verdict.
type Detection struct {
	IsHallucination bool

	// Type is the dominant (highest severity) hallucination type. Empty when
	// no evidence was found.
	Type Type

	// Severity is the highest evidence severity after strictness scaling.
	Severity float64

	Evidence []Evidence

	// CorrectedText is the de-duplicated variant, set when Action is
	// [ActionFilter].
	CorrectedText string

	Action Action
}

// Decision thresholds at strictness 1.0. The strictness parameter divides
// them, so strictness 2.0 halves every threshold.
const (
	voteRatioThreshold    = 0.40
	severityOverride      = 0.85
	highConfidenceLevel   = 0.90
	blockSeverityBand     = 0.85
	filterSeverityBand    = 0.65
	reviewSeverityBand    = 0.45
	maxRealisticWPS       = 6.5
	nearDuplicateScore    = 0.92
	confidenceDevAnomaly  = 0.35
	recentConfVarAnomaly  = 0.10
	nonsenseRatioAnomaly  = 0.30
	minSpeakerPresence    = 0.10
)

// Validator runs the layered hallucination checks. Safe for concurrent use:
// it holds only immutable configuration.
type Validator struct {
	strictness float64
	rules      []PatternRule
}

// Option is a functional option for configuring a Validator during construction.
type Option func(*Validator)

// WithStrictness scales all decision thresholds. 1.0 is the default;
// higher values make the validator more aggressive. Values <= 0 are ignored.
func WithStrictness(s float64) Option {
	return func(v *Validator) {
		if s > 0 {
			v.strictness = s
		}
	}
}

// WithRules replaces the built-in pattern rule table.
func WithRules(rules []PatternRule) Option {
	return func(v *Validator) { v.rules = rules }
}

// NewValidator creates a validator with the default rule table and
// strictness 1.0.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		strictness: 1.0,
		rules:      defaultRules,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate runs every layer against the candidate text and fuses their
// findings into a [Detection]. An empty text is trivially allowed.
func (v *Validator) Validate(text string, vc Context) Detection {
	text = strings.TrimSpace(text)
	if text == "" {
		return Detection{Action: ActionAllow}
	}

	words := strings.Fields(text)

	var evidence []Evidence
	evidence = append(evidence, v.checkQuality(text, words, vc)...)
	evidence = append(evidence, v.checkPatterns(text, words)...)
	evidence = append(evidence, v.checkAudioText(words, vc)...)
	evidence = append(evidence, v.checkContext(text, vc)...)
	evidence = append(evidence, v.checkConfidencePattern(vc)...)

	return v.decide(text, evidence, vc)
}

// threshold scales a base threshold by the configured strictness.
func (v *Validator) threshold(base float64) float64 {
	return base / v.strictness
}

// decide fuses layer evidence into the final verdict.
func (v *Validator) decide(text string, evidence []Evidence, vc Context) Detection {
	d := Detection{Evidence: evidence, Action: ActionAllow}
	if len(evidence) == 0 {
		return d
	}

	votes := make(map[string]struct{})
	for _, e := range evidence {
		votes[e.Layer] = struct{}{}
		if e.Severity > d.Severity {
			d.Severity = e.Severity
			d.Type = e.Type
		}
	}
	voteRatio := float64(len(votes)) / numLayers

	switch {
	case voteRatio >= v.threshold(voteRatioThreshold):
		d.IsHallucination = true
	case d.Severity >= v.threshold(severityOverride):
		d.IsHallucination = true
	case vc.Confidence >= highConfidenceLevel && len(votes) > 0:
		// Overconfidence with objections is itself a hallucination signal:
		// models hallucinate confidently.
		d.IsHallucination = true
	}

	if !d.IsHallucination {
		return d
	}

	switch {
	case d.Severity >= v.threshold(blockSeverityBand):
		d.Action = ActionBlock
	case d.Severity >= v.threshold(filterSeverityBand):
		d.Action = ActionFilter
		d.CorrectedText = dedupRepetitions(text)
	case d.Severity >= v.threshold(reviewSeverityBand):
		d.Action = ActionReview
	default:
		d.Action = ActionAllow
	}
	return d
}

// ─── Layer 1: basic quality ───────────────────────────────────────────────────

func (v *Validator) checkQuality(text string, words []string, vc Context) []Evidence {
	var out []Evidence

	// The confidence floor scales up with strictness, unlike the suspicion
	// ceilings which scale down.
	if vc.Confidence > 0 && vc.Confidence < 0.25*v.strictness {
		out = append(out, Evidence{
			Layer: layerQuality, Type: TypeQualityMismatch, Severity: 0.50,
			Detail: "confidence below floor",
		})
	}
	if vc.Confidence >= 0.80 && vc.QualityScore > 0 && vc.QualityScore <= 0.30 {
		out = append(out, Evidence{
			Layer: layerQuality, Type: TypeQualityMismatch, Severity: 0.60,
			Detail: "high confidence despite poor audio quality",
		})
	}
	if secs := vc.AudioDuration.Seconds(); secs > 0 {
		if wps := float64(len(words)) / secs; wps > v.threshold(maxRealisticWPS) {
			out = append(out, Evidence{
				Layer: layerQuality, Type: TypeQualityMismatch, Severity: 0.70,
				Detail: "unrealistic words per second",
			})
		}
	}
	if len(words) <= 2 && vc.Confidence >= 0.95 && len(text) < 12 {
		out = append(out, Evidence{
			Layer: layerQuality, Type: TypeQualityMismatch, Severity: 0.40,
			Detail: "overconfident very short text",
		})
	}
	return out
}

// ─── Layer 2: pattern detection ───────────────────────────────────────────────

func (v *Validator) checkPatterns(text string, words []string) []Evidence {
	out := matchRules(v.rules, text)

	if ratio, n := repetitionRatio(words); n >= 4 && ratio >= v.threshold(0.50) {
		out = append(out, Evidence{
			Layer: layerPattern, Type: TypeRepetitiveLoop, Severity: 0.80,
			Detail: "dominant word repetition",
		})
	}
	if repeats := maxPhraseRepeats(words); repeats >= 3 {
		out = append(out, Evidence{
			Layer: layerPattern, Type: TypeRepetitiveLoop, Severity: 0.85,
			Detail: "repeated phrase loop",
		})
	}

	if len(words) > 0 {
		nonsense := 0
		for _, w := range words {
			if isNonsenseWord(w) {
				nonsense++
			}
		}
		if ratio := float64(nonsense) / float64(len(words)); ratio > v.threshold(nonsenseRatioAnomaly) {
			out = append(out, Evidence{
				Layer: layerPattern, Type: TypeNonsense, Severity: 0.70,
				Detail: "nonsense letter clusters",
			})
		}
	}

	if mixed, ratio := scriptConfusion(text); mixed && ratio > v.threshold(0.15) {
		out = append(out, Evidence{
			Layer: layerPattern, Type: TypeLanguageConfusion, Severity: 0.60,
			Detail: "mixed-script text",
		})
	}
	return out
}

// ─── Layer 3: audio-text correlation ──────────────────────────────────────────

func (v *Validator) checkAudioText(words []string, vc Context) []Evidence {
	var out []Evidence

	if vc.Confidence >= 0.80 && vc.NoiseLevel >= v.threshold(0.70) {
		out = append(out, Evidence{
			Layer: layerAudioText, Type: TypeAudioMismatch, Severity: 0.70,
			Detail: "high confidence despite high noise",
		})
	}
	if vc.SpeakerConfidence > 0 && vc.SpeakerConfidence < v.threshold(minSpeakerPresence) && len(words) > 0 {
		out = append(out, Evidence{
			Layer: layerAudioText, Type: TypeAudioMismatch, Severity: 0.80,
			Detail: "text despite near-zero speaker presence",
		})
	}
	if secs := vc.AudioDuration.Seconds(); secs > 0 && secs < 1.0 && len(words) > 8 {
		out = append(out, Evidence{
			Layer: layerAudioText, Type: TypeAudioMismatch, Severity: 0.75,
			Detail: "long text from very short audio",
		})
	}
	return out
}

// ─── Layer 4: contextual consistency ──────────────────────────────────────────

func (v *Validator) checkContext(text string, vc Context) []Evidence {
	var out []Evidence

	if len(vc.RecentConfidences) >= 3 {
		if cv := variance(vc.RecentConfidences); cv > v.threshold(recentConfVarAnomaly) {
			out = append(out, Evidence{
				Layer: layerContext, Type: TypeContextAnomaly, Severity: 0.40,
				Detail: "erratic confidence across recent chunks",
			})
		}
	}

	lower := strings.ToLower(text)
	for _, recent := range vc.RecentTexts {
		if recent == "" {
			continue
		}
		if matchr.JaroWinkler(lower, strings.ToLower(recent), false) >= v.threshold(nearDuplicateScore) {
			out = append(out, Evidence{
				Layer: layerContext, Type: TypeContextAnomaly, Severity: 0.60,
				Detail: "near-duplicate of recent text",
			})
			break
		}
	}

	if vc.RecentFlags >= 2 {
		out = append(out, Evidence{
			Layer: layerContext, Type: TypeContextAnomaly, Severity: 0.50,
			Detail: "clustered recent hallucination flags",
		})
	}
	return out
}

// ─── Layer 5: confidence-pattern analysis ─────────────────────────────────────

// checkConfidencePattern compares the reported confidence with an expectation
// derived from the audio signals. A large deviation either way is suspicious:
// hallucinations are typically overconfident relative to the audio evidence.
func (v *Validator) checkConfidencePattern(vc Context) []Evidence {
	if vc.Confidence <= 0 {
		return nil
	}
	if vc.QualityScore == 0 && vc.NoiseLevel == 0 && vc.SpeakerConfidence == 0 {
		return nil // no audio signals to form an expectation from
	}

	expected := 0.20 + 0.45*vc.QualityScore + 0.20*(1-vc.NoiseLevel) + 0.15*vc.SpeakerConfidence
	dev := vc.Confidence - expected
	if dev < 0 {
		dev = -dev
	}
	if dev <= v.threshold(confidenceDevAnomaly) {
		return nil
	}
	sev := dev
	if sev > 1 {
		sev = 1
	}
	return []Evidence{{
		Layer: layerConfidence, Type: TypeConfidenceAnomaly, Severity: sev,
		Detail: "confidence deviates from audio-derived expectation",
	}}
}

// variance of a float slice; 0 for fewer than two samples.
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
