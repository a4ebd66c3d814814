package vad

import (
	"testing"
	"time"
)

const testFrameDur = 32 * time.Millisecond

func TestHysteresis_RequiresSustainedSpeech(t *testing.T) {
	h := newHysteresis(96*time.Millisecond, 320*time.Millisecond)

	// A single high-probability frame must not reach SPEECH.
	if got := h.advance(0.9, testFrameDur); got == StateSpeech {
		t.Fatalf("state after one high frame = %v, want transition", got)
	}

	// Two more sustained frames complete the 96ms hold.
	h.advance(0.9, testFrameDur)
	if got := h.advance(0.9, testFrameDur); got != StateSpeech {
		t.Fatalf("state after 96ms of high probability = %v, want speech", got)
	}
}

func TestHysteresis_RequiresSustainedSilence(t *testing.T) {
	h := newHysteresis(96*time.Millisecond, 320*time.Millisecond)
	for i := 0; i < 3; i++ {
		h.advance(0.9, testFrameDur)
	}
	if h.state != StateSpeech {
		t.Fatal("setup: machine should be in speech")
	}

	// Nine low frames (288ms) are not enough.
	for i := 0; i < 9; i++ {
		if got := h.advance(0.1, testFrameDur); got != StateSpeech {
			t.Fatalf("frame %d: state = %v, want speech until 320ms of silence", i, got)
		}
	}
	// The tenth (320ms) completes the hold.
	if got := h.advance(0.1, testFrameDur); got != StateSilence {
		t.Fatalf("state after 320ms of low probability = %v, want silence", got)
	}
}

func TestHysteresis_NoSingleFrameFlapping(t *testing.T) {
	h := newHysteresis(96*time.Millisecond, 320*time.Millisecond)
	for i := 0; i < 3; i++ {
		h.advance(0.9, testFrameDur)
	}

	// Alternating high/low frames never accumulate enough silence to exit.
	for i := 0; i < 20; i++ {
		p := 0.9
		if i%2 == 0 {
			p = 0.1
		}
		if got := h.advance(p, testFrameDur); got != StateSpeech {
			t.Fatalf("frame %d: alternating probabilities flipped state to %v", i, got)
		}
	}
}

func TestHysteresis_BrokenTransitionFallsBack(t *testing.T) {
	h := newHysteresis(96*time.Millisecond, 320*time.Millisecond)

	h.advance(0.9, testFrameDur)
	if h.state != StateTransition {
		t.Fatal("setup: machine should be in transition")
	}

	// Probability collapses mid-hold: back to silence, no speech ever reported.
	if got := h.advance(0.2, testFrameDur); got != StateSilence {
		t.Fatalf("state after broken transition = %v, want silence", got)
	}

	// The hold accumulator must restart from zero.
	h.advance(0.9, testFrameDur)
	h.advance(0.9, testFrameDur)
	if h.state == StateSpeech {
		t.Fatal("hold accumulator was not reset after broken transition")
	}
}

func TestHysteresis_MidBandHoldsState(t *testing.T) {
	h := newHysteresis(96*time.Millisecond, 320*time.Millisecond)
	for i := 0; i < 3; i++ {
		h.advance(0.9, testFrameDur)
	}

	// Probabilities between the off- and on-thresholds keep the current state
	// and reset the silence accumulator.
	for i := 0; i < 30; i++ {
		if got := h.advance(0.5, testFrameDur); got != StateSpeech {
			t.Fatalf("frame %d: mid-band probability left speech: %v", i, got)
		}
	}
}
