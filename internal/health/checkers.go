package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kestrelaudio/verbatim/internal/resilience"
)

// Pinger is the slice of a storage backend the readiness probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Degradable reports whether a guarded collaborator is currently operating
// in degraded mode.
type Degradable interface {
	IsDegraded() bool
}

// ASRChecker reports ready while at least one transcription provider in the
// failover chain can accept calls. A provider whose circuit breaker is open
// is listed but does not fail the check on its own.
func ASRChecker(f *resilience.FailoverASR) Checker {
	return Checker{
		Name: "asr",
		Check: func(context.Context) error {
			states := f.States()
			var open []string
			for name, st := range states {
				if st == resilience.StateOpen {
					open = append(open, name)
				}
			}
			if len(open) == len(states) {
				return fmt.Errorf("all providers open: %s", strings.Join(open, ", "))
			}
			return nil
		},
	}
}

// StoreChecker probes the segment store backend.
func StoreChecker(p Pinger) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			return p.Ping(ctx)
		},
	}
}

// GuardChecker surfaces a guarded collaborator that is swallowing errors in
// degraded mode. Sessions keep running through the outage; the failing check
// is what makes the outage visible.
func GuardChecker(name string, d Degradable) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if d.IsDegraded() {
				return errors.New("operating in degraded mode")
			}
			return nil
		},
	}
}
