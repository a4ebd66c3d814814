package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidASRNames lists the recognised ASR backend names. Used by [Validate] to
// warn about likely typos without rejecting third-party registrations.
var ValidASRNames = []string{"whisper", "whisper-native", "openai", "remote", "mock"}

// ValidStageNames lists the pipeline stage names that accept tuning overrides.
var ValidStageNames = []string{"transcribe", "correlate", "validate", "textbuild"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// ASR backend name — warn for unknown names.
	if cfg.ASR.Name != "" && !slices.Contains(ValidASRNames, cfg.ASR.Name) {
		slog.Warn("unknown ASR backend name — may be a typo or third-party backend",
			"name", cfg.ASR.Name,
			"known", ValidASRNames,
		)
	}
	if cfg.ASR.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("asr.sample_rate %d must not be negative", cfg.ASR.SampleRate))
	}
	if cfg.ASR.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("asr.max_retries %d must not be negative", cfg.ASR.MaxRetries))
	}
	switch cfg.ASR.Name {
	case "openai", "remote":
		if cfg.ASR.APIKey == "" {
			slog.Warn("asr.api_key is empty; the backend will fall back to its environment variable",
				"backend", cfg.ASR.Name)
		}
	case "whisper":
		if cfg.ASR.BaseURL == "" {
			errs = append(errs, fmt.Errorf("asr.base_url is required for the %q backend", cfg.ASR.Name))
		}
	case "whisper-native":
		if cfg.ASR.Model == "" {
			errs = append(errs, fmt.Errorf("asr.model (GGML model path) is required for the %q backend", cfg.ASR.Name))
		}
	}

	// VAD
	if cfg.VAD.Sensitivity < 0 {
		errs = append(errs, fmt.Errorf("vad.sensitivity %.2f must not be negative", cfg.VAD.Sensitivity))
	}
	if cfg.VAD.MinSilenceMs > 0 && cfg.VAD.MinSpeechMs > cfg.VAD.MinSilenceMs*4 {
		slog.Warn("vad.min_speech_ms is unusually large relative to vad.min_silence_ms; speech onset may feel sluggish",
			"min_speech_ms", cfg.VAD.MinSpeechMs,
			"min_silence_ms", cfg.VAD.MinSilenceMs,
		)
	}

	// Queue
	if cfg.Queue.Capacity < 0 {
		errs = append(errs, fmt.Errorf("queue.capacity %d must not be negative", cfg.Queue.Capacity))
	}

	// Pipeline
	if cfg.Pipeline.TargetLatencyMs < 0 {
		errs = append(errs, fmt.Errorf("pipeline.target_latency_ms %d must not be negative", cfg.Pipeline.TargetLatencyMs))
	}
	for name, st := range cfg.Pipeline.Stages {
		if !slices.Contains(ValidStageNames, name) {
			errs = append(errs, fmt.Errorf("pipeline.stages[%s] is not a known stage; valid names: %v", name, ValidStageNames))
		}
		if st.Workers < 0 {
			errs = append(errs, fmt.Errorf("pipeline.stages[%s].workers %d must not be negative", name, st.Workers))
		}
		if st.TimeoutMs < 0 {
			errs = append(errs, fmt.Errorf("pipeline.stages[%s].timeout_ms %d must not be negative", name, st.TimeoutMs))
		}
	}

	// Interim
	if t := cfg.Interim.StabilityThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("interim.stability_threshold %.2f is out of range [0, 1]", t))
	}

	// Hallucination
	if cfg.Hallucination.Strictness < 0 {
		errs = append(errs, fmt.Errorf("hallucination.strictness %.2f must not be negative", cfg.Hallucination.Strictness))
	}

	// Events
	if len(cfg.Events.KafkaBrokers) == 0 {
		slog.Warn("events.kafka_brokers is empty; transcription events will only be logged")
	}

	// Correction
	if cfg.Correction.Enabled {
		if cfg.Correction.Provider == "" {
			errs = append(errs, fmt.Errorf("correction.provider is required when correction is enabled"))
		}
		if cfg.Correction.Model == "" {
			errs = append(errs, fmt.Errorf("correction.model is required when correction is enabled"))
		}
	}
	if c := cfg.Correction.MinConfidence; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("correction.min_confidence %.2f is out of range [0, 1]", c))
	}

	return errors.Join(errs...)
}
