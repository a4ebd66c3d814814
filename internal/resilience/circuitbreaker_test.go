package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing(context.Context) error { return errBoom }
func succeeding(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3, ResetTimeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failing); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: err = %v, want boom", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	// Calls are now rejected without invoking fn.
	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn invoked while breaker open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, succeeding)
	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, failing)

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after interleaved success", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(15 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after reset timeout", cb.State())
	}

	// Two successful probes close the breaker.
	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("probe 1: %v", err)
	}
	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("probe 2: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after successful probes", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	time.Sleep(15 * time.Millisecond)

	_ = cb.Execute(ctx, failing) // the probe fails
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want re-opened", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(context.Background(), failing)

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after Reset", cb.State())
	}
	if err := cb.Execute(context.Background(), succeeding); err != nil {
		t.Errorf("Execute after Reset: %v", err)
	}
}

func TestStateString(t *testing.T) {
	if StateClosed.String() != "closed" || StateOpen.String() != "open" || StateHalfOpen.String() != "half-open" {
		t.Error("state names changed")
	}
}
