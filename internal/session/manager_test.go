package session

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelaudio/verbatim/internal/config"
	"github.com/kestrelaudio/verbatim/internal/events"
	asrmock "github.com/kestrelaudio/verbatim/pkg/provider/asr/mock"
)

func newTestManager() (*Manager, *events.Recorder) {
	sink := &events.Recorder{}
	m := NewManager(config.Config{}, Deps{
		ASR:  &asrmock.Provider{},
		Sink: sink,
	})
	return m, sink
}

func TestManager_CreateAndGet(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	s, err := m.Create(ctx, "alpha")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID() != "alpha" {
		t.Errorf("session ID = %q, want alpha", s.ID())
	}

	got, err := m.Get("alpha")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != s {
		t.Error("Get returned a different session instance")
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestManager_DuplicateCreateFails(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	if _, err := m.Create(ctx, "alpha"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create(ctx, "alpha"); !errors.Is(err, ErrSessionExists) {
		t.Errorf("duplicate Create = %v, want ErrSessionExists", err)
	}
}

func TestManager_FinalizeRemovesSession(t *testing.T) {
	m, sink := newTestManager()
	ctx := context.Background()

	if _, err := m.Create(ctx, "alpha"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	summary, err := m.Finalize(ctx, "alpha")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if summary.SessionID != "alpha" {
		t.Errorf("summary session = %q, want alpha", summary.SessionID)
	}
	if m.Len() != 0 {
		t.Errorf("Len after finalize = %d, want 0", m.Len())
	}
	if _, err := m.Get("alpha"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after finalize = %v, want ErrSessionNotFound", err)
	}
	if len(sink.Metrics) != 1 {
		t.Errorf("metrics events = %d, want 1", len(sink.Metrics))
	}
}

func TestManager_FinalizeUnknownSession(t *testing.T) {
	m, _ := newTestManager()
	if _, err := m.Finalize(context.Background(), "ghost"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Finalize unknown = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_FinalizeAll(t *testing.T) {
	m, sink := newTestManager()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := m.Create(ctx, id); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	if err := m.FinalizeAll(ctx); err != nil {
		t.Fatalf("FinalizeAll: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len after FinalizeAll = %d, want 0", m.Len())
	}
	if len(sink.Metrics) != 3 {
		t.Errorf("metrics events = %d, want 3", len(sink.Metrics))
	}
}
