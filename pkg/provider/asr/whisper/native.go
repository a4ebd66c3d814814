// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/kestrelaudio/verbatim/pkg/provider/asr"
	"github.com/kestrelaudio/verbatim/pkg/types"
)

// Compile-time assertion that NativeProvider satisfies asr.Provider.
var _ asr.Provider = (*NativeProvider)(nil)

// NativeProvider implements asr.Provider using the whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared across all calls; each call gets a fresh whisper context
// because contexts are not thread-safe while the model is.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de"). Empty lets whisper auto-detect.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe converts the request's PCM audio to float32 samples and runs
// in-process whisper.cpp inference. Empty audio yields an empty fragment.
//
// The bindings do not expose cancellation mid-inference; ctx is checked
// before the call and between segments.
func (p *NativeProvider) Transcribe(ctx context.Context, req asr.Request) (*types.TranscriptFragment, error) {
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	sr := req.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	if len(req.Audio) == 0 {
		return &types.TranscriptFragment{Language: lang}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	samples := pcmToFloat32(req.Audio)

	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			slog.Warn("whisper: failed to set language, using default",
				slog.String("language", lang), slog.Any("error", err))
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts    []string
		probSum  float64
		probSeen int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			probSum += float64(tok.P)
			probSeen++
		}
	}

	var confidence float64
	if probSeen > 0 {
		confidence = probSum / float64(probSeen)
	}

	return &types.TranscriptFragment{
		Text:       strings.Join(parts, " "),
		Confidence: confidence,
		Language:   lang,
		Duration:   time.Duration(len(samples)) * time.Second / time.Duration(sr),
	}, nil
}
