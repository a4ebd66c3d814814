package vad

import "time"

// State is the position of the hysteresis machine.
type State int

const (
	// StateSilence is the resting state — no speech detected.
	StateSilence State = iota

	// StateTransition is entered when the fused probability first crosses the
	// on-threshold; SPEECH is only reached after the probability holds for
	// the minimum speech duration.
	StateTransition

	// StateSpeech is the active state. It is left only after the probability
	// holds below the off-threshold for the minimum silence duration.
	StateSpeech
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateTransition:
		return "transition"
	case StateSpeech:
		return "speech"
	default:
		return "unknown"
	}
}

const (
	// onThreshold is the fused probability above which silence can begin
	// transitioning to speech.
	onThreshold = 0.60

	// offThreshold is the lower probability below which speech can begin
	// decaying back to silence. Keeping it below onThreshold is what prevents
	// single-frame flapping at the boundary.
	offThreshold = 0.40
)

// hysteresis is the three-state speech/silence machine. A state switch in
// either direction requires sustained evidence: minSpeech of high probability
// to enter SPEECH, minSilence of low probability to leave it.
type hysteresis struct {
	state      State
	minSpeech  time.Duration
	minSilence time.Duration

	heldHigh time.Duration
	heldLow  time.Duration
}

func newHysteresis(minSpeech, minSilence time.Duration) *hysteresis {
	return &hysteresis{
		state:      StateSilence,
		minSpeech:  minSpeech,
		minSilence: minSilence,
	}
}

// advance feeds one frame's fused probability and duration into the machine
// and returns the resulting state.
func (h *hysteresis) advance(probability float64, frameDur time.Duration) State {
	switch h.state {
	case StateSilence:
		if probability >= onThreshold {
			h.state = StateTransition
			h.heldHigh = frameDur
			if h.heldHigh >= h.minSpeech {
				h.state = StateSpeech
				h.heldLow = 0
			}
		}

	case StateTransition:
		if probability >= onThreshold {
			h.heldHigh += frameDur
			if h.heldHigh >= h.minSpeech {
				h.state = StateSpeech
				h.heldLow = 0
			}
		} else {
			// Evidence broke before the hold completed; fall back without
			// ever having reported speech.
			h.state = StateSilence
			h.heldHigh = 0
		}

	case StateSpeech:
		if probability <= offThreshold {
			h.heldLow += frameDur
			if h.heldLow >= h.minSilence {
				h.state = StateSilence
				h.heldHigh = 0
			}
		} else {
			h.heldLow = 0
		}
	}

	return h.state
}

// reset returns the machine to silence and clears hold accumulators.
func (h *hysteresis) reset() {
	h.state = StateSilence
	h.heldHigh = 0
	h.heldLow = 0
}
