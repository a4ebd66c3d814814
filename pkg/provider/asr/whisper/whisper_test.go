package whisper

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kestrelaudio/verbatim/pkg/provider/asr"
)

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing the provided responseText. It increments *callCount on
// every matched request.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
}

// makeSpeechPCM generates a 440 Hz sine-wave PCM buffer with `samples` 16-bit
// little-endian signed samples.
func makeSpeechPCM(samples int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestTranscribe_ReturnsServerText(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "hello world", &calls)
	defer srv.Close()

	p, err := New(srv.URL, WithLanguage("en"))
	if err != nil {
		t.Fatal(err)
	}

	frag, err := p.Transcribe(context.Background(), asr.Request{
		Audio:      makeSpeechPCM(16000), // 1 second
		SampleRate: 16000,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if frag.Text != "hello world" {
		t.Errorf("Text = %q, want %q", frag.Text, "hello world")
	}
	if frag.Language != "en" {
		t.Errorf("Language = %q, want en", frag.Language)
	}
	if frag.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", frag.Duration)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
}

func TestTranscribe_EmptyAudioSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "should not appear", &calls)
	defer srv.Close()

	p, err := New(srv.URL)
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
	if calls.Load() != 0 {
		t.Errorf("server calls = %d, want 0", calls.Load())
	}
}

func TestTranscribe_RequestLanguageOverridesDefault(t *testing.T) {
	var gotLang atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLang.Store(r.FormValue("language"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithLanguage("en"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Transcribe(context.Background(), asr.Request{
		Audio:      makeSpeechPCM(160),
		SampleRate: 16000,
		Language:   "de",
	}); err != nil {
		t.Fatal(err)
	}
	if got := gotLang.Load(); got != "de" {
		t.Errorf("language field = %v, want de", got)
	}
}

func TestTranscribe_ServerErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Transcribe(context.Background(), asr.Request{Audio: makeSpeechPCM(160), SampleRate: 16000}); err == nil {
		t.Fatal("expected error for HTTP 503, got nil")
	}
}

func TestTranscribe_UploadsValidWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		wav, err := io.ReadAll(file)
		if err != nil || len(wav) < 44 {
			http.Error(w, "short wav", http.StatusBadRequest)
			return
		}
		if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
			http.Error(w, "bad wav header", http.StatusBadRequest)
			return
		}
		if sr := binary.LittleEndian.Uint32(wav[24:28]); sr != 16000 {
			http.Error(w, "bad sample rate", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	frag, err := p.Transcribe(context.Background(), asr.Request{Audio: makeSpeechPCM(1600), SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if frag.Text != "ok" {
		t.Errorf("Text = %q, want ok", frag.Text)
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	srv := newMockServer(t, "slow", nil)
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, asr.Request{Audio: makeSpeechPCM(160), SampleRate: 16000}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
