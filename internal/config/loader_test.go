package config

import (
	"strings"
	"testing"
	"time"
)

const fullYAML = `
server:
  listen_addr: ":8080"
  log_level: info
asr:
  name: whisper
  base_url: http://localhost:9000
  language: en
  sample_rate: 16000
  max_retries: 4
vad:
  sensitivity: 1.2
  min_speech_ms: 128
  min_silence_ms: 400
  voice_tail_ms: 500
  frame_ms: 32
queue:
  capacity: 12
pipeline:
  target_latency_ms: 350
  monitor_interval_ms: 1000
  stages:
    transcribe:
      timeout_ms: 5000
      workers: 1
interim:
  stability_threshold: 0.65
  confirmation_delay_ms: 250
  history_size: 6
hallucination:
  strictness: 1.5
events:
  kafka_brokers: ["localhost:9092"]
  final_topic: transcripts.final
persistence:
  postgres_dsn: postgres://verbatim@localhost/verbatim
correction:
  enabled: false
`

func TestLoadFromReader_FullConfig(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.ASR.Name != "whisper" {
		t.Errorf("asr.name = %q, want whisper", cfg.ASR.Name)
	}
	if got := cfg.VAD.MinSpeech(); got != 128*time.Millisecond {
		t.Errorf("MinSpeech() = %v, want 128ms", got)
	}
	if got := cfg.VAD.VoiceTail(); got != 500*time.Millisecond {
		t.Errorf("VoiceTail() = %v, want 500ms", got)
	}
	if cfg.Queue.Capacity != 12 {
		t.Errorf("queue.capacity = %d, want 12", cfg.Queue.Capacity)
	}
	if got := cfg.Pipeline.TargetLatency(); got != 350*time.Millisecond {
		t.Errorf("TargetLatency() = %v, want 350ms", got)
	}
	st, ok := cfg.Pipeline.Stages["transcribe"]
	if !ok {
		t.Fatal("pipeline.stages missing transcribe entry")
	}
	if st.TimeoutMs != 5000 || st.Workers != 1 {
		t.Errorf("transcribe tuning = %+v, want timeout 5000 / workers 1", st)
	}
	if cfg.Interim.StabilityThreshold != 0.65 {
		t.Errorf("stability_threshold = %v, want 0.65", cfg.Interim.StabilityThreshold)
	}
	if got := cfg.Interim.HistoryDepth(); got != 6 {
		t.Errorf("HistoryDepth() = %d, want 6", got)
	}
	if cfg.Hallucination.Strictness != 1.5 {
		t.Errorf("strictness = %v, want 1.5", cfg.Hallucination.Strictness)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("server:\n  listen_addr: \":8080\"\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.VAD.MinSpeech(); got != 96*time.Millisecond {
		t.Errorf("default MinSpeech() = %v, want 96ms", got)
	}
	if got := cfg.VAD.MinSilence(); got != 320*time.Millisecond {
		t.Errorf("default MinSilence() = %v, want 320ms", got)
	}
	if got := cfg.VAD.VoiceTail(); got != 600*time.Millisecond {
		t.Errorf("default VoiceTail() = %v, want 600ms", got)
	}
	if got := cfg.Pipeline.TargetLatency(); got != 400*time.Millisecond {
		t.Errorf("default TargetLatency() = %v, want 400ms", got)
	}
	if got := cfg.Interim.ConfirmationDelay(); got != 300*time.Millisecond {
		t.Errorf("default ConfirmationDelay() = %v, want 300ms", got)
	}
	if got := cfg.VAD.FrameDuration(); got != 32*time.Millisecond {
		t.Errorf("default FrameDuration() = %v, want 32ms", got)
	}
	if got := cfg.Interim.HistoryDepth(); got != 5 {
		t.Errorf("default HistoryDepth() = %d, want 5", got)
	}
	if got := cfg.Correction.ConfidenceFloor(); got != 0.5 {
		t.Errorf("default ConfidenceFloor() = %v, want 0.5", got)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("bogus_section:\n  x: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\n",
			want: "log_level",
		},
		{
			name: "negative queue capacity",
			yaml: "queue:\n  capacity: -1\n",
			want: "queue.capacity",
		},
		{
			name: "stability threshold out of range",
			yaml: "interim:\n  stability_threshold: 1.5\n",
			want: "stability_threshold",
		},
		{
			name: "whisper requires base_url",
			yaml: "asr:\n  name: whisper\n",
			want: "asr.base_url",
		},
		{
			name: "correction enabled without model",
			yaml: "correction:\n  enabled: true\n  provider: openai\n",
			want: "correction.model",
		},
		{
			name: "unknown pipeline stage",
			yaml: "pipeline:\n  stages:\n    transcription:\n      workers: 2\n",
			want: "pipeline.stages[transcription]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	yaml := "server:\n  log_level: loud\nqueue:\n  capacity: -2\n"
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "log_level") || !strings.Contains(msg, "queue.capacity") {
		t.Errorf("joined error missing one of the failures: %q", msg)
	}
}
