// Package resilience provides the retry and circuit-breaker primitives that
// guard calls to the external transcription service.
//
// The central type is [CircuitBreaker], a classic three-state breaker
// (closed → open → half-open) that protects the pipeline from hammering a
// failing ASR backend. [Retry] adds bounded exponential backoff underneath
// the breaker for transient failures. [FailoverASR] composes multiple
// transcription providers with per-entry breakers so a failing primary is
// bypassed in favour of healthy fallbacks.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// is open and its reset timeout has not run out.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call; this is the healthy state.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen]. Entered after too many
	// consecutive failures, left once the reset timeout has elapsed.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through after the
	// reset timeout. All-successful probes close the breaker; any probe
	// failure re-opens it.
	StateHalfOpen
)

// String names the state for logs and health output.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is how many consecutive closed-state failures trip the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker rejects calls before it
	// starts probing again. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax caps the probe calls permitted while half-open. Default: 3.
	HalfOpenMax int
}

// CircuitBreaker guards one ASR backend with the three-state breaker
// pattern. Safe for concurrent use.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenFails   int
}

// NewCircuitBreaker builds a closed breaker, filling zero config fields
// with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		state:        StateClosed,
	}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn. In the half-open state a limited
// number of probe calls are permitted. A fn failure caused purely by ctx
// cancellation still counts against the breaker; callers who do not want
// that should check ctx before calling.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) >= cb.resetTimeout {
			cb.state = StateHalfOpen
			cb.halfOpenCalls = 0
			cb.halfOpenFails = 0
			slog.InfoContext(ctx, "circuit breaker transitioning to half-open",
				slog.String("name", cb.name))
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			// Probe budget exhausted, stay open.
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	inHalfOpen := cb.state == StateHalfOpen
	if inHalfOpen {
		cb.halfOpenCalls++
	}
	cb.mu.Unlock()

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure(ctx, inHalfOpen)
	} else {
		cb.recordSuccess(ctx, inHalfOpen)
	}
	return err
}

// recordFailure updates failure accounting. Caller holds cb.mu.
func (cb *CircuitBreaker) recordFailure(ctx context.Context, inHalfOpen bool) {
	cb.lastFailure = time.Now()

	if inHalfOpen {
		cb.halfOpenFails++
		// Any failure in half-open immediately re-opens.
		cb.state = StateOpen
		cb.consecutiveFail = cb.maxFailures
		slog.WarnContext(ctx, "circuit breaker re-opened from half-open",
			slog.String("name", cb.name))
		return
	}

	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.maxFailures {
		cb.state = StateOpen
		slog.WarnContext(ctx, "circuit breaker opened",
			slog.String("name", cb.name),
			slog.Int("consecutive_failures", cb.consecutiveFail))
	}
}

// recordSuccess updates success accounting. Caller holds cb.mu.
func (cb *CircuitBreaker) recordSuccess(ctx context.Context, inHalfOpen bool) {
	if inHalfOpen {
		successes := cb.halfOpenCalls - cb.halfOpenFails
		if successes >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.consecutiveFail = 0
			cb.halfOpenCalls = 0
			cb.halfOpenFails = 0
			slog.InfoContext(ctx, "circuit breaker closed after successful probes",
				slog.String("name", cb.name))
		}
		return
	}

	cb.consecutiveFail = 0
}

// State reports the breaker's effective state. An open breaker whose reset
// timeout has elapsed reports [StateHalfOpen] even though the stored state
// only flips on the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its failure counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenFails = 0
	slog.Info("circuit breaker manually reset", slog.String("name", cb.name))
}
