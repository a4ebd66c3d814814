package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy configures [Retry]. The zero value is unusable; use
// [DefaultRetryPolicy] or fill every field.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponentially growing delay.
	MaxBackoff time.Duration

	// Multiplier grows the delay between attempts. Values <= 1 disable
	// growth.
	Multiplier float64
}

// DefaultRetryPolicy returns the policy used for transcription calls:
// 3 attempts, 100ms initial backoff doubling up to 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2,
	}
}

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so [Retry] stops immediately instead of retrying.
// Returns nil when err is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn up to policy.MaxAttempts times with bounded exponential
// backoff between attempts. It stops early when fn succeeds, when fn returns
// an error wrapped by [Permanent], or when ctx is cancelled. The last error
// is returned, annotated with the attempt count when all attempts failed.
//
// The attempt number (starting at 1) is passed to fn for logging.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	backoff := policy.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("retry cancelled after %d attempts: %w", attempt-1, errors.Join(err, lastErr))
			}
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}

		if policy.Multiplier > 1 {
			backoff = time.Duration(float64(backoff) * policy.Multiplier)
		}
		if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", policy.MaxAttempts, lastErr)
}
