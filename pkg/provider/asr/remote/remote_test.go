package remote

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/kestrelaudio/verbatim/pkg/provider/asr"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startBridge runs a test bridge that answers every request with the given
// text and confidence, echoing back the request ID. It records the audio
// payloads it receives.
func startBridge(t *testing.T, text string, confidence float64, audioLens *[]int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()
		for {
			var req request
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}
			typ, audio, err := conn.Read(ctx)
			if err != nil || typ != websocket.MessageBinary {
				return
			}
			if audioLens != nil {
				*audioLens = append(*audioLens, len(audio))
			}
			resp := response{ID: req.ID, Text: text, Confidence: confidence, Language: req.Language}
			if err := wsjson.Write(ctx, conn, resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyEndpoint_ReturnsError(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

func TestTranscribe_RoundTrip(t *testing.T) {
	var lens []int
	srv := startBridge(t, "over the wire", 0.87, &lens)

	p, err := New(wsURL(srv))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	audio := bytes.Repeat([]byte{1, 2}, 16000) // 1 second of PCM
	frag, err := p.Transcribe(context.Background(), asr.Request{Audio: audio, SampleRate: 16000, Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if frag.Text != "over the wire" {
		t.Errorf("Text = %q", frag.Text)
	}
	if frag.Confidence != 0.87 {
		t.Errorf("Confidence = %v, want 0.87", frag.Confidence)
	}
	if frag.Language != "en" {
		t.Errorf("Language = %q, want en", frag.Language)
	}
	if frag.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", frag.Duration)
	}
	if len(lens) != 1 || lens[0] != len(audio) {
		t.Errorf("bridge received %v, want one payload of %d bytes", lens, len(audio))
	}
}

func TestTranscribe_ReusesConnection(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		ctx := r.Context()
		for {
			var req request
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
			_ = wsjson.Write(ctx, conn, response{ID: req.ID, Text: "ok"})
		}
	}))
	defer srv.Close()

	p, err := New(wsURL(srv))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	for i := 0; i < 3; i++ {
		if _, err := p.Transcribe(context.Background(), asr.Request{Audio: []byte{0, 0}, SampleRate: 16000}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if dials.Load() != 1 {
		t.Errorf("dials = %d, want 1 (connection should be reused)", dials.Load())
	}
}

func TestTranscribe_BridgeErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		var req request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
		_ = wsjson.Write(ctx, conn, response{ID: req.ID, Error: "model overloaded"})
	}))
	defer srv.Close()

	p, err := New(wsURL(srv))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	_, err = p.Transcribe(context.Background(), asr.Request{Audio: []byte{0, 0}, SampleRate: 16000})
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("err = %v, want bridge error", err)
	}
}

func TestTranscribe_EmptyAudioSkipsWire(t *testing.T) {
	p, err := New("ws://127.0.0.1:1") // would fail if dialed
	if err != nil {
		t.Fatal(err)
	}
	frag, err := p.Transcribe(context.Background(), asr.Request{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if frag.Text != "" {
		t.Errorf("Text = %q, want empty", frag.Text)
	}
}

func TestTranscribe_AfterCloseFails(t *testing.T) {
	srv := startBridge(t, "x", 0, nil)
	p, err := New(wsURL(srv))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), asr.Request{Audio: []byte{0, 0}, SampleRate: 16000}); err == nil {
		t.Fatal("expected error after Close")
	}
}
