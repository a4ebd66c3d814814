package vad

import "math"

// Environment classifies the acoustic surroundings of a session. The
// classification selects estimator fusion weights and shifts the expected
// zero-crossing range.
type Environment string

const (
	EnvQuiet        Environment = "quiet"
	EnvOffice       Environment = "office"
	EnvCafe         Environment = "cafe"
	EnvStreet       Environment = "street"
	EnvConstruction Environment = "construction"
)

const (
	// noiseFloorAlpha is the EMA coefficient for noise-floor updates. A small
	// value keeps the floor stable against brief lulls.
	noiseFloorAlpha = 0.05

	// speechLevelAlpha is the EMA coefficient for the running speech level.
	speechLevelAlpha = 0.10

	// envSwitchConsistency is how many consecutive frames must agree on a new
	// classification before the profile switches environment. Prevents
	// classification thrash at band boundaries.
	envSwitchConsistency = 12

	// thresholdMargin is the fraction of the noise-to-speech span placed above
	// the noise floor when deriving the adaptive energy threshold.
	thresholdMargin = 0.35
)

// profile is the per-session environmental state. It is mutated continuously
// by the engine: the noise floor learns only from silence frames and the
// speech level only from speech frames, so the two estimates never
// contaminate each other.
//
// profile is owned by its session's driver loop and needs no locking.
type profile struct {
	env Environment

	// noiseFloor is the EMA of RMS amplitude over silence frames.
	noiseFloor float64

	// speechLevel is the EMA of RMS amplitude over speech frames.
	speechLevel float64

	// candidate tracks a pending environment reclassification.
	candidate      Environment
	candidateCount int

	seededNoise  bool
	seededSpeech bool
}

// newProfile returns a profile starting in the quiet environment with
// conservative priors so the first frames classify sensibly.
func newProfile() *profile {
	return &profile{
		env:         EnvQuiet,
		noiseFloor:  0.003,
		speechLevel: 0.05,
	}
}

// observeSilence folds a silence frame's RMS into the noise floor.
func (p *profile) observeSilence(rms float64) {
	if !p.seededNoise {
		p.noiseFloor = rms
		p.seededNoise = true
	} else {
		p.noiseFloor += noiseFloorAlpha * (rms - p.noiseFloor)
	}
	p.reclassify()
}

// observeSpeech folds a speech frame's RMS into the running speech level.
func (p *profile) observeSpeech(rms float64) {
	if !p.seededSpeech {
		p.speechLevel = rms
		p.seededSpeech = true
	} else {
		p.speechLevel += speechLevelAlpha * (rms - p.speechLevel)
	}
}

// energyThreshold returns the adaptive RMS threshold separating speech from
// the current noise floor. sensitivity scales the margin: >1 stricter,
// <1 more permissive.
func (p *profile) energyThreshold(sensitivity float64) float64 {
	span := p.speechLevel - p.noiseFloor
	if span < 0.005 {
		span = 0.005
	}
	return p.noiseFloor + thresholdMargin*span*sensitivity
}

// snr returns the frame's signal-to-noise ratio in dB relative to the learned
// noise floor.
func (p *profile) snr(rms float64) float64 {
	const eps = 1e-9
	return 20 * math.Log10((rms+eps)/(p.noiseFloor+eps))
}

// reclassify maps the current noise floor onto an environment band and
// switches classification only after envSwitchConsistency consecutive
// agreeing frames.
func (p *profile) reclassify() {
	next := classifyNoiseFloor(p.noiseFloor)
	if next == p.env {
		p.candidate = ""
		p.candidateCount = 0
		return
	}
	if next != p.candidate {
		p.candidate = next
		p.candidateCount = 1
		return
	}
	p.candidateCount++
	if p.candidateCount >= envSwitchConsistency {
		p.env = next
		p.candidate = ""
		p.candidateCount = 0
	}
}

// classifyNoiseFloor buckets a normalised RMS noise floor into an environment.
// Boundaries were tuned against 16-bit PCM captures; they are defaults, not
// calibrated constants.
func classifyNoiseFloor(floor float64) Environment {
	switch {
	case floor < 0.005:
		return EnvQuiet
	case floor < 0.015:
		return EnvOffice
	case floor < 0.04:
		return EnvCafe
	case floor < 0.10:
		return EnvStreet
	default:
		return EnvConstruction
	}
}

// fusionWeights holds the relative weight of each probability estimator.
// Weights are normalised at fusion time.
type fusionWeights struct {
	energy   float64
	zcr      float64
	spectral float64
	bands    float64
	snr      float64
}

// weightsFor returns the estimator weights for env. Quiet environments trust
// energy; noisy environments shift weight onto spectral shape and band
// structure, which survive broadband noise better than raw level.
func weightsFor(env Environment) fusionWeights {
	switch env {
	case EnvQuiet:
		return fusionWeights{energy: 0.35, zcr: 0.15, spectral: 0.20, bands: 0.15, snr: 0.15}
	case EnvOffice:
		return fusionWeights{energy: 0.28, zcr: 0.15, spectral: 0.25, bands: 0.17, snr: 0.15}
	case EnvCafe:
		return fusionWeights{energy: 0.18, zcr: 0.12, spectral: 0.32, bands: 0.23, snr: 0.15}
	case EnvStreet:
		return fusionWeights{energy: 0.12, zcr: 0.10, spectral: 0.38, bands: 0.25, snr: 0.15}
	case EnvConstruction:
		return fusionWeights{energy: 0.08, zcr: 0.07, spectral: 0.42, bands: 0.28, snr: 0.15}
	default:
		return fusionWeights{energy: 0.35, zcr: 0.15, spectral: 0.20, bands: 0.15, snr: 0.15}
	}
}

// zcrRange returns the expected zero-crossing range for voiced speech in env.
// Noisier environments push the whole range upward.
func zcrRange(env Environment) (lo, hi float64) {
	switch env {
	case EnvQuiet, EnvOffice:
		return 0.02, 0.25
	case EnvCafe:
		return 0.03, 0.30
	case EnvStreet:
		return 0.04, 0.35
	case EnvConstruction:
		return 0.05, 0.40
	default:
		return 0.02, 0.25
	}
}
