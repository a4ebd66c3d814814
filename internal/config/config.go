// Package config provides the configuration schema and loader for the
// Verbatim real-time transcription server.
package config

import "time"

// LogLevel controls log verbosity for the Verbatim server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Verbatim.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	ASR           ASRConfig           `yaml:"asr"`
	VAD           VADConfig           `yaml:"vad"`
	Queue         QueueConfig         `yaml:"queue"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Interim       InterimConfig       `yaml:"interim"`
	Hallucination HallucinationConfig `yaml:"hallucination"`
	Events        EventsConfig        `yaml:"events"`
	Persistence   PersistenceConfig   `yaml:"persistence"`
	Correction    CorrectionConfig    `yaml:"correction"`
}

// ServerConfig holds network and logging settings for the Verbatim server.
type ServerConfig struct {
	// ListenAddr is the TCP address the health/metrics listener binds to
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ASRConfig selects and configures the speech recognition backend.
type ASRConfig struct {
	// Name selects the backend: "whisper", "whisper-native", "openai", "remote".
	Name string `yaml:"name"`

	// APIKey authenticates against hosted backends (openai, remote).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint. For "whisper" this is
	// the whisper-server base URL; for "remote" the WebSocket URL.
	BaseURL string `yaml:"base_url"`

	// Model selects a backend-specific model (e.g., "gpt-4o-transcribe" or a
	// whisper.cpp GGML model path for "whisper-native").
	Model string `yaml:"model"`

	// Language is an optional BCP-47 recognition hint.
	Language string `yaml:"language"`

	// SampleRate is the PCM sample rate in Hz expected from the audio source.
	// Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// MaxRetries bounds the exponential-backoff retry loop around failed
	// transcription calls. Defaults to 3.
	MaxRetries int `yaml:"max_retries"`
}

// VADConfig tunes the adaptive voice activity detector. The numeric thresholds
// were tuned empirically; treat them as defaults, not guaranteed-optimal
// constants.
type VADConfig struct {
	// Sensitivity scales the adaptive speech threshold. Values above 1.0 make
	// the detector stricter (fewer false positives), below 1.0 more permissive.
	// Defaults to 1.0.
	Sensitivity float64 `yaml:"sensitivity"`

	// MinSpeechMs is how long the fused probability must hold above the
	// on-threshold before the hysteresis machine enters SPEECH. Defaults to 96.
	MinSpeechMs int `yaml:"min_speech_ms"`

	// MinSilenceMs is how long the probability must hold below the
	// off-threshold before SPEECH returns to SILENCE. Defaults to 320.
	MinSilenceMs int `yaml:"min_silence_ms"`

	// VoiceTailMs is the post-speech window during which silence frames are
	// still gated into the queue. Defaults to 600.
	VoiceTailMs int `yaml:"voice_tail_ms"`

	// FrameMs is the expected duration of each audio frame. Defaults to 32.
	FrameMs int `yaml:"frame_ms"`
}

// MinSpeech returns MinSpeechMs as a duration, applying the default.
func (v VADConfig) MinSpeech() time.Duration { return msOrDefault(v.MinSpeechMs, 96) }

// MinSilence returns MinSilenceMs as a duration, applying the default.
func (v VADConfig) MinSilence() time.Duration { return msOrDefault(v.MinSilenceMs, 320) }

// VoiceTail returns VoiceTailMs as a duration, applying the default.
func (v VADConfig) VoiceTail() time.Duration { return msOrDefault(v.VoiceTailMs, 600) }

// FrameDuration returns FrameMs as a duration, applying the default.
func (v VADConfig) FrameDuration() time.Duration { return msOrDefault(v.FrameMs, 32) }

// QueueConfig tunes the per-session backpressure queue.
type QueueConfig struct {
	// Capacity is the fixed queue size. Enqueueing into a full queue evicts
	// the oldest item. Defaults to 8.
	Capacity int `yaml:"capacity"`
}

// PipelineConfig tunes the multi-stage pipeline executor.
type PipelineConfig struct {
	// TargetLatencyMs is the soft end-to-end latency budget. When a chunk
	// exceeds it, the bottleneck stage receives a bounded corrective action.
	// Defaults to 400.
	TargetLatencyMs int `yaml:"target_latency_ms"`

	// Stages overrides per-stage worker counts and timeouts, keyed by stage
	// name. Unknown names are rejected by Validate at wiring time.
	Stages map[string]StageTuning `yaml:"stages"`

	// MonitorIntervalMs is how often the background latency monitor inspects
	// the rolling window. Defaults to 2000.
	MonitorIntervalMs int `yaml:"monitor_interval_ms"`
}

// TargetLatency returns TargetLatencyMs as a duration, applying the default.
func (p PipelineConfig) TargetLatency() time.Duration { return msOrDefault(p.TargetLatencyMs, 400) }

// MonitorInterval returns MonitorIntervalMs as a duration, applying the default.
func (p PipelineConfig) MonitorInterval() time.Duration {
	return msOrDefault(p.MonitorIntervalMs, 2000)
}

// StageTuning overrides the built-in defaults for one pipeline stage.
type StageTuning struct {
	// TimeoutMs is the per-call deadline for the stage. Zero keeps the
	// stage's built-in default.
	TimeoutMs int `yaml:"timeout_ms"`

	// Workers is the stage's worker pool size (1–4 typical). Zero keeps the
	// stage's built-in default.
	Workers int `yaml:"workers"`
}

// InterimConfig tunes the progressive text builder.
type InterimConfig struct {
	// StabilityThreshold is the score above which an interim update is
	// considered stable (0.0–1.0). Defaults to 0.7.
	StabilityThreshold float64 `yaml:"stability_threshold"`

	// ConfirmationDelayMs delays promotion of stable interim text so a rapid
	// correction can still replace it. Defaults to 300.
	ConfirmationDelayMs int `yaml:"confirmation_delay_ms"`

	// HistorySize bounds the retained interim-state history. Defaults to 5.
	HistorySize int `yaml:"history_size"`
}

// ConfirmationDelay returns ConfirmationDelayMs as a duration, applying the default.
func (i InterimConfig) ConfirmationDelay() time.Duration {
	return msOrDefault(i.ConfirmationDelayMs, 300)
}

// HistoryDepth returns HistorySize, applying the default.
func (i InterimConfig) HistoryDepth() int {
	if i.HistorySize <= 0 {
		return 5
	}
	return i.HistorySize
}

// HallucinationConfig tunes the hallucination prevention validator.
type HallucinationConfig struct {
	// Strictness scales all layer thresholds multiplicatively. 1.0 is the
	// tuned default; higher values flag more aggressively.
	Strictness float64 `yaml:"strictness"`
}

// EventsConfig configures the display/session event sink.
type EventsConfig struct {
	// KafkaBrokers lists broker addresses. Empty disables the Kafka sink; the
	// session manager then falls back to a log-only sink.
	KafkaBrokers []string `yaml:"kafka_brokers"`

	// InterimTopic receives interim display updates.
	// Defaults to "transcripts.interim".
	InterimTopic string `yaml:"interim_topic"`

	// FinalTopic receives confirmed segments. Defaults to "transcripts.final".
	FinalTopic string `yaml:"final_topic"`

	// ControlTopic receives session errors and end-of-session metrics.
	// Defaults to "transcripts.control".
	ControlTopic string `yaml:"control_topic"`
}

// PersistenceConfig configures the optional confirmed-segment store.
type PersistenceConfig struct {
	// PostgresDSN enables the PostgreSQL segment store when non-empty.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// CorrectionConfig configures the optional LLM-assisted correction of
// review-flagged final segments.
type CorrectionConfig struct {
	// Enabled switches the correction stage on. Off by default.
	Enabled bool `yaml:"enabled"`

	// Provider is the any-llm provider name (e.g., "openai", "ollama").
	Provider string `yaml:"provider"`

	// Model is the model identifier passed to the provider.
	Model string `yaml:"model"`

	// APIKey authenticates against hosted providers. Empty falls back to the
	// provider's environment variable.
	APIKey string `yaml:"api_key"`

	// MinConfidence is the final-segment confidence below which correction is
	// attempted even without a review flag. Defaults to 0.5.
	MinConfidence float64 `yaml:"min_confidence"`

	// Vocabulary lists the domain terms the corrector may restore. An empty
	// list disables correction even when Enabled is true.
	Vocabulary []string `yaml:"vocabulary"`
}

// ConfidenceFloor returns MinConfidence, applying the default.
func (c CorrectionConfig) ConfidenceFloor() float64 {
	if c.MinConfidence <= 0 {
		return 0.5
	}
	return c.MinConfidence
}

// msOrDefault converts a millisecond count to a duration, substituting def
// (also in milliseconds) when ms is zero or negative.
func msOrDefault(ms, def int) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}
