package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kestrelaudio/verbatim/pkg/provider/asr"
	"github.com/kestrelaudio/verbatim/pkg/types"
)

// ErrAllProvidersFailed is returned by [FailoverASR.Transcribe] when every
// configured provider either failed or had an open breaker.
var ErrAllProvidersFailed = errors.New("resilience: all transcription providers failed")

// failoverEntry pairs a provider with its breaker.
type failoverEntry struct {
	name     string
	provider asr.Provider
	breaker  *CircuitBreaker
}

// FailoverASR is an [asr.Provider] that tries an ordered list of providers,
// each protected by its own [CircuitBreaker]. The first provider whose
// breaker admits the call and whose call succeeds wins; providers with open
// breakers are skipped without waiting.
//
// Safe for concurrent use.
type FailoverASR struct {
	entries []failoverEntry
}

// Compile-time assertion that FailoverASR satisfies the asr.Provider interface.
var _ asr.Provider = (*FailoverASR)(nil)

// NewFailoverASR builds a failover chain in the given order. Each provider
// gets a breaker configured from cfg with the provider's name appended.
func NewFailoverASR(cfg CircuitBreakerConfig, providers map[string]asr.Provider, order []string) (*FailoverASR, error) {
	if len(order) == 0 {
		return nil, errors.New("resilience: failover order is empty")
	}
	f := &FailoverASR{entries: make([]failoverEntry, 0, len(order))}
	for _, name := range order {
		p, ok := providers[name]
		if !ok {
			return nil, fmt.Errorf("resilience: unknown provider %q in failover order", name)
		}
		entryCfg := cfg
		entryCfg.Name = cfg.Name + "/" + name
		f.entries = append(f.entries, failoverEntry{
			name:     name,
			provider: p,
			breaker:  NewCircuitBreaker(entryCfg),
		})
	}
	return f, nil
}

// Transcribe forwards the request down the chain until a provider succeeds.
func (f *FailoverASR) Transcribe(ctx context.Context, req asr.Request) (*types.TranscriptFragment, error) {
	var errs []error
	for _, e := range f.entries {
		var fragment *types.TranscriptFragment
		err := e.breaker.Execute(ctx, func(ctx context.Context) error {
			var callErr error
			fragment, callErr = e.provider.Transcribe(ctx, req)
			return callErr
		})
		if err == nil {
			return fragment, nil
		}
		if !errors.Is(err, ErrCircuitOpen) {
			slog.WarnContext(ctx, "transcription provider failed, trying next",
				slog.String("provider", e.name),
				slog.Any("error", err))
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))

		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(ErrAllProvidersFailed, errors.Join(errs...))
}

// States reports the breaker state per provider, for health checks.
func (f *FailoverASR) States() map[string]State {
	out := make(map[string]State, len(f.entries))
	for _, e := range f.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}
