// Package vad implements the adaptive voice activity detector that gates
// audio frames into the transcription pipeline.
//
// The engine fuses independent probability estimators — adaptive energy
// threshold, zero-crossing rate, spectral shape (centroid, bandwidth,
// flatness, harmonic strength via FFT), multi-band energy ratios, and an SNR
// estimate — with environment-dependent weights. Quiet rooms trust the energy
// estimators; noisy environments shift weight onto spectral structure, which
// survives broadband noise.
//
// The fused probability drives a three-state hysteresis machine
// (SILENCE → TRANSITION → SPEECH) so that neither a single loud frame nor a
// single quiet one can flip the detector. An environmental profile adapts
// continuously: the noise floor learns only from silence frames, the speech
// level only from speech frames, and the classified environment switches only
// after a run of consistent observations.
//
// VAD is synchronous by design: ProcessFrame returns immediately, making it
// suitable for the low-latency gate in front of the backpressure queue. An
// Engine belongs to a single session's driver loop and must not be shared
// across goroutines.
package vad

import (
	"math"
	"time"

	"github.com/kestrelaudio/verbatim/pkg/types"
)

// minFrameSamples is the absolute floor on frame length: below it the feature
// extractors produce no meaningful measurements regardless of the configured
// frame duration.
const minFrameSamples = 64

// Decision is the engine's verdict for one audio frame.
type Decision struct {
	// IsSpeech reports whether the hysteresis machine is in the SPEECH state
	// after consuming the frame.
	IsSpeech bool

	// Confidence is the fused speech probability (0.0–1.0).
	Confidence float64

	// Energy is the frame's RMS amplitude, normalised to [0, 1].
	Energy float64

	// NoiseLevel is the current learned noise floor.
	NoiseLevel float64

	// QualityScore summarises how usable the frame is for ASR (SNR-dominated,
	// 0.0–1.0). Downstream validators compare it against ASR confidence.
	QualityScore float64

	// Environment is the currently classified acoustic environment.
	Environment Environment

	// State exposes the raw hysteresis state, including TRANSITION frames
	// that are not yet speech.
	State State
}

// Config holds the parameters for a VAD engine. Zero values select the tuned
// defaults.
type Config struct {
	// SampleRate is the PCM sample rate in Hz. Must match the frames passed
	// to ProcessFrame. Defaults to 16000.
	SampleRate int

	// Sensitivity scales the adaptive energy threshold. Defaults to 1.0.
	Sensitivity float64

	// MinSpeech is the sustained high-probability duration required to enter
	// SPEECH. Defaults to 96ms.
	MinSpeech time.Duration

	// MinSilence is the sustained low-probability duration required to leave
	// SPEECH. Defaults to 320ms.
	MinSilence time.Duration

	// FrameDuration is the expected duration of the frames fed to
	// ProcessFrame. Frames shorter than half of it carry too little signal for
	// the feature extractors and degrade to a non-speech, zero-confidence
	// decision. Defaults to 32ms.
	FrameDuration time.Duration
}

// Engine is a per-session adaptive voice activity detector. It maintains the
// session's environmental profile and hysteresis state; create one Engine per
// session and call ProcessFrame from the session's driver loop only.
type Engine struct {
	sampleRate  int
	sensitivity float64
	minSamples  int

	profile *profile
	machine *hysteresis
}

// NewEngine creates an [Engine] with the supplied configuration. Zero-value
// config fields are replaced with the tuned defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Sensitivity <= 0 {
		cfg.Sensitivity = 1.0
	}
	if cfg.MinSpeech <= 0 {
		cfg.MinSpeech = 96 * time.Millisecond
	}
	if cfg.MinSilence <= 0 {
		cfg.MinSilence = 320 * time.Millisecond
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 32 * time.Millisecond
	}
	// Half the expected frame is the degradation cutoff, never below the
	// extractors' absolute floor.
	minSamples := int(cfg.FrameDuration * time.Duration(cfg.SampleRate) / time.Second / 2)
	if minSamples < minFrameSamples {
		minSamples = minFrameSamples
	}
	return &Engine{
		sampleRate:  cfg.SampleRate,
		sensitivity: cfg.Sensitivity,
		minSamples:  minSamples,
		profile:     newProfile(),
		machine:     newHysteresis(cfg.MinSpeech, cfg.MinSilence),
	}
}

// ProcessFrame classifies one audio frame and updates the session's
// environmental profile. Malformed or too-short frames return a non-speech,
// zero-confidence decision without touching engine state.
func (e *Engine) ProcessFrame(frame types.AudioFrame) Decision {
	samples := samplesFromPCM(frame.Data)
	if len(samples) < e.minSamples {
		return Decision{
			Environment: e.profile.env,
			NoiseLevel:  e.profile.noiseFloor,
			State:       e.machine.state,
		}
	}

	feats := extractFeatures(samples, e.sampleRate)
	probability := e.fuse(feats)

	frameDur := frame.DurationOf()
	if frameDur <= 0 {
		frameDur = time.Duration(len(samples)) * time.Second / time.Duration(e.sampleRate)
	}
	state := e.machine.advance(probability, frameDur)
	isSpeech := state == StateSpeech

	// Profile updates are gated by the final decision: the noise floor learns
	// only from silence, the speech level only from speech. TRANSITION frames
	// update neither, since their class is still ambiguous.
	switch state {
	case StateSilence:
		e.profile.observeSilence(feats.rms)
	case StateSpeech:
		e.profile.observeSpeech(feats.rms)
	}

	return Decision{
		IsSpeech:     isSpeech,
		Confidence:   probability,
		Energy:       feats.rms,
		NoiseLevel:   e.profile.noiseFloor,
		QualityScore: e.qualityScore(feats),
		Environment:  e.profile.env,
		State:        state,
	}
}

// Reset clears hysteresis state without discarding the learned environmental
// profile. Use when the audio stream is interrupted and restarted.
func (e *Engine) Reset() {
	e.machine.reset()
}

// Environment returns the currently classified acoustic environment.
func (e *Engine) Environment() Environment { return e.profile.env }

// NoiseFloor returns the current learned noise floor (normalised RMS).
func (e *Engine) NoiseFloor() float64 { return e.profile.noiseFloor }

// fuse combines the independent estimator probabilities using the weights of
// the current environment.
func (e *Engine) fuse(f frameFeatures) float64 {
	w := weightsFor(e.profile.env)

	pEnergy := e.energyProbability(f.rms)
	pZCR := e.zcrProbability(f.zcr)
	pSpectral := e.spectralProbability(f)
	pBands := e.bandProbability(f)
	pSNR := e.snrProbability(f.rms)

	total := w.energy + w.zcr + w.spectral + w.bands + w.snr
	fused := (w.energy*pEnergy +
		w.zcr*pZCR +
		w.spectral*pSpectral +
		w.bands*pBands +
		w.snr*pSNR) / total

	return clamp01(fused)
}

// energyProbability maps the frame's RMS against the adaptive threshold
// through a sigmoid, so the estimator saturates smoothly on either side.
func (e *Engine) energyProbability(rms float64) float64 {
	threshold := e.profile.energyThreshold(e.sensitivity)
	span := e.profile.speechLevel - e.profile.noiseFloor
	if span < 0.005 {
		span = 0.005
	}
	return sigmoid((rms - threshold) / (0.25 * span))
}

// zcrProbability scores the zero-crossing rate against the environment's
// expected range for speech: 1.0 well inside the range, decaying outside it.
func (e *Engine) zcrProbability(zcr float64) float64 {
	lo, hi := zcrRange(e.profile.env)
	switch {
	case zcr >= lo && zcr <= hi:
		// Peak in the middle of the band, shoulders at the edges.
		mid := (lo + hi) / 2
		halfWidth := (hi - lo) / 2
		return 1.0 - 0.4*math.Abs(zcr-mid)/halfWidth
	case zcr < lo:
		return clamp01(0.6 * zcr / lo)
	default:
		return clamp01(0.6 * hi / zcr)
	}
}

// spectralProbability combines spectral shape cues: a centroid in the speech
// band, low flatness (tonal content), and harmonic strength.
func (e *Engine) spectralProbability(f frameFeatures) float64 {
	var centroidScore float64
	switch {
	case f.centroid >= 200 && f.centroid <= 3000:
		centroidScore = 1.0
	case f.centroid > 0 && f.centroid < 200:
		centroidScore = f.centroid / 200
	case f.centroid > 3000:
		centroidScore = clamp01(3000 / f.centroid)
	default:
		centroidScore = neutralProbability
	}

	tonality := clamp01(1.0 - f.flatness)
	return clamp01(0.35*centroidScore + 0.30*tonality + 0.35*f.harmonicity)
}

// bandProbability scores how much spectral energy sits in the formant band
// relative to the rumble and hiss bands.
func (e *Engine) bandProbability(f frameFeatures) float64 {
	// Pure formant-band energy would be 1.0; broadband noise spreads energy
	// roughly evenly. Penalise heavy low-band rumble separately.
	score := f.midBand - 0.5*f.lowBand
	return clamp01(score * 1.4)
}

// snrProbability maps the frame's SNR (dB above the learned noise floor)
// through a sigmoid centred near 6 dB.
func (e *Engine) snrProbability(rms float64) float64 {
	return sigmoid((e.profile.snr(rms) - 6.0) / 4.0)
}

// qualityScore estimates how usable the frame is for ASR: dominated by SNR,
// nudged by spectral tonality.
func (e *Engine) qualityScore(f frameFeatures) float64 {
	snrScore := sigmoid((e.profile.snr(f.rms) - 10.0) / 6.0)
	tonality := clamp01(1.0 - f.flatness)
	return clamp01(0.75*snrScore + 0.25*tonality)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
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
