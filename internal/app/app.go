// Package app wires all Verbatim subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems from the configuration, Run serves the HTTP listener until the
// context is cancelled, and Shutdown finalizes live sessions and tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithASR, WithSink, WithStore, WithCorrector). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelaudio/verbatim/internal/config"
	"github.com/kestrelaudio/verbatim/internal/correct"
	"github.com/kestrelaudio/verbatim/internal/events"
	"github.com/kestrelaudio/verbatim/internal/health"
	"github.com/kestrelaudio/verbatim/internal/observe"
	"github.com/kestrelaudio/verbatim/internal/resilience"
	"github.com/kestrelaudio/verbatim/internal/session"
	"github.com/kestrelaudio/verbatim/pkg/persist"
	"github.com/kestrelaudio/verbatim/pkg/persist/postgres"
	"github.com/kestrelaudio/verbatim/pkg/provider/asr"
	"github.com/kestrelaudio/verbatim/pkg/provider/asr/openai"
	"github.com/kestrelaudio/verbatim/pkg/provider/asr/remote"
	"github.com/kestrelaudio/verbatim/pkg/provider/asr/whisper"
	"github.com/kestrelaudio/verbatim/pkg/provider/llm/anyllm"
)

// shutdownTimeout bounds the HTTP server drain during Shutdown.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes of the Verbatim transcription server.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	asrProvider asr.Provider
	sink        events.Sink
	store       persist.SegmentStore
	corrector   *correct.Corrector
	sessions    *session.Manager

	checkers []health.Checker
	httpSrv  *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithASR injects a transcription provider instead of building one from config.
func WithASR(p asr.Provider) Option {
	return func(a *App) { a.asrProvider = p }
}

// WithSink injects an event sink instead of creating one from config.
func WithSink(s events.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithStore injects a segment store instead of connecting one from config.
func WithStore(s persist.SegmentStore) Option {
	return func(a *App) { a.store = s }
}

// WithCorrector injects an LLM corrector instead of creating one from config.
func WithCorrector(c *correct.Corrector) Option {
	return func(a *App) { a.corrector = c }
}

// WithMetrics injects a metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together: the ASR failover
// chain, the display event sink, the optional guarded segment store, the
// optional LLM corrector, the session manager, and the HTTP listener with
// health and metrics endpoints.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initASR(); err != nil {
		return nil, fmt.Errorf("app: init asr: %w", err)
	}
	if err := a.initSink(); err != nil {
		return nil, fmt.Errorf("app: init sink: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initCorrector(); err != nil {
		return nil, fmt.Errorf("app: init corrector: %w", err)
	}

	a.sessions = session.NewManager(*cfg, session.Deps{
		ASR:       a.asrProvider,
		Sink:      a.sink,
		Store:     a.store,
		Corrector: a.corrector,
		Metrics:   a.metrics,
	})

	a.initHTTP()
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initASR builds the configured transcription backend and wraps it in a
// single-entry failover chain so every backend sits behind a circuit breaker.
func (a *App) initASR() error {
	if a.asrProvider != nil {
		if f, ok := a.asrProvider.(*resilience.FailoverASR); ok {
			a.checkers = append(a.checkers, health.ASRChecker(f))
		}
		return nil
	}

	name := a.cfg.ASR.Name
	backend, err := a.buildASRBackend(name)
	if err != nil {
		return err
	}
	if c, ok := backend.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	chain, err := resilience.NewFailoverASR(
		resilience.CircuitBreakerConfig{Name: "asr"},
		map[string]asr.Provider{name: backend},
		[]string{name},
	)
	if err != nil {
		return err
	}
	a.asrProvider = chain
	a.checkers = append(a.checkers, health.ASRChecker(chain))
	slog.Info("transcription backend ready", slog.String("backend", name))
	return nil
}

// buildASRBackend constructs one provider from the asr config section.
func (a *App) buildASRBackend(name string) (asr.Provider, error) {
	cfg := a.cfg.ASR
	switch name {
	case "whisper":
		var opts []whisper.Option
		if cfg.Model != "" {
			opts = append(opts, whisper.WithModel(cfg.Model))
		}
		if cfg.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Language))
		}
		return whisper.New(cfg.BaseURL, opts...)

	case "whisper-native":
		var opts []whisper.NativeOption
		if cfg.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(cfg.Language))
		}
		return whisper.NewNative(cfg.Model, opts...)

	case "openai":
		var opts []openai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(cfg.APIKey, cfg.Model, opts...)

	case "remote":
		var opts []remote.Option
		if cfg.APIKey != "" {
			opts = append(opts, remote.WithAPIKey(cfg.APIKey))
		}
		return remote.New(cfg.BaseURL, opts...)

	default:
		return nil, fmt.Errorf("unknown asr backend %q", name)
	}
}

// initSink creates the Kafka display sink, or a log-only sink when no
// brokers are configured.
func (a *App) initSink() error {
	if a.sink != nil {
		return nil
	}
	if len(a.cfg.Events.KafkaBrokers) == 0 {
		a.sink = events.NewLogSink(nil)
		slog.Info("no kafka brokers configured, events go to the log")
		return nil
	}
	sink, err := events.NewKafkaSink(events.KafkaConfig{
		Brokers:      a.cfg.Events.KafkaBrokers,
		InterimTopic: a.cfg.Events.InterimTopic,
		FinalTopic:   a.cfg.Events.FinalTopic,
		ControlTopic: a.cfg.Events.ControlTopic,
	})
	if err != nil {
		return err
	}
	a.sink = sink
	a.closers = append(a.closers, sink.Close)
	slog.Info("kafka event sink ready", slog.Any("brokers", a.cfg.Events.KafkaBrokers))
	return nil
}

// initStore connects the PostgreSQL segment store when a DSN is configured
// and wraps it in a [session.StoreGuard] so storage outages never stop
// transcription. Persistence stays disabled otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Persistence.PostgresDSN
	if dsn == "" {
		return nil
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	guard := session.NewStoreGuard(store)
	a.store = guard
	a.closers = append(a.closers, store.Close)
	a.checkers = append(a.checkers,
		health.StoreChecker(store),
		health.GuardChecker("store_guard", guard),
	)
	slog.Info("segment store connected")
	return nil
}

// initCorrector builds the any-llm corrector when correction is enabled.
func (a *App) initCorrector() error {
	if a.corrector != nil || !a.cfg.Correction.Enabled {
		return nil
	}
	cc := a.cfg.Correction
	if cc.Provider == "" || cc.Model == "" {
		return errors.New("correction enabled but provider or model is missing")
	}
	var llmOpts []anyllmlib.Option
	if cc.APIKey != "" {
		llmOpts = append(llmOpts, anyllmlib.WithAPIKey(cc.APIKey))
	}
	llmProvider, err := anyllm.New(cc.Provider, cc.Model, llmOpts...)
	if err != nil {
		return err
	}
	a.corrector = correct.New(llmProvider)
	slog.Info("llm correction enabled",
		slog.String("provider", cc.Provider),
		slog.String("model", cc.Model),
		slog.Int("vocabulary", len(cc.Vocabulary)),
	)
	return nil
}

// initHTTP assembles the health/metrics listener.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	health.New(a.checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

// Sessions returns the session manager. Transports create and feed sessions
// through it.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Run serves the HTTP listener and blocks until ctx is cancelled or the
// listener fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listener started", slog.String("addr", a.httpSrv.Addr))
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: http listener: %w", err)
	}
}

// Shutdown finalizes all live sessions, drains the HTTP listener, and closes
// every subsystem in reverse initialisation order. Safe to call more than
// once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error

		if err := a.sessions.FinalizeAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("finalize sessions: %w", err))
		}

		drainCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := a.httpSrv.Shutdown(drainCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}
