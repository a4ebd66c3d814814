package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kestrelaudio/verbatim/internal/config"
	"github.com/kestrelaudio/verbatim/internal/events"
	"github.com/kestrelaudio/verbatim/internal/observe"
)

// Manager errors.
var (
	ErrSessionExists   = errors.New("session: already exists")
	ErrSessionNotFound = errors.New("session: not found")
)

// Manager is the registry of live transcription sessions. It creates sessions
// from a shared configuration and dependency set, tracks them by ID, and
// tears them down on finalize.
//
// All methods are safe for concurrent use.
type Manager struct {
	cfg  config.Config
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager that stamps out sessions from cfg and deps.
// Dependency validation happens per session in [New]; an invalid dependency
// set surfaces on the first Create.
func NewManager(cfg config.Config, deps Deps) *Manager {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session under the given ID.
func (m *Manager) Create(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionExists, sessionID)
	}
	s, err := New(sessionID, m.cfg, m.deps)
	if err != nil {
		return nil, err
	}
	m.sessions[sessionID] = s
	m.deps.Metrics.ActiveSessions.Add(ctx, 1)
	m.deps.Logger.Info("session created", slog.String("session_id", sessionID))
	return s, nil
}

// Get returns the live session with the given ID.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// Finalize ends the session, removes it from the registry, and returns its
// metrics summary.
func (m *Manager) Finalize(ctx context.Context, sessionID string) (events.SessionMetrics, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return events.SessionMetrics{}, fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}

	summary, err := s.Finalize(ctx)
	m.deps.Metrics.ActiveSessions.Add(ctx, -1)
	m.deps.Logger.Info("session finalized",
		slog.String("session_id", sessionID),
		slog.Uint64("frames", summary.FramesReceived),
		slog.Uint64("segments", summary.Segments),
		slog.Duration("duration", summary.Duration),
	)
	return summary, err
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// FinalizeAll ends every live session, used at server shutdown. Errors are
// joined so one failing session never hides another.
func (m *Manager) FinalizeAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if _, err := m.Finalize(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
