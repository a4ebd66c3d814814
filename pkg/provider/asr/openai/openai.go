// Package openai provides an asr provider backed by the OpenAI audio
// transcription API.
package openai

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/kestrelaudio/verbatim/pkg/provider/asr"
	"github.com/kestrelaudio/verbatim/pkg/types"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

const defaultSampleRate = 16000

// Ensure Provider implements the asr.Provider interface.
var _ asr.Provider = (*Provider)(nil)

// Provider implements asr.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible transcription servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai asr: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Transcribe implements asr.Provider. The PCM payload is wrapped in a WAV
// container because the API accepts files, not raw sample streams. Empty
// audio yields an empty fragment without an API call.
func (p *Provider) Transcribe(ctx context.Context, req asr.Request) (*types.TranscriptFragment, error) {
	sr := req.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	if len(req.Audio) == 0 {
		return &types.TranscriptFragment{Language: req.Language}, nil
	}

	wav := encodeWAV(req.Audio, sr)

	params := oai.AudioTranscriptionNewParams{
		Model: p.model,
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
	}
	if req.Language != "" {
		params.Language = param.NewOpt(req.Language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai asr: transcribe: %w", err)
	}

	return &types.TranscriptFragment{
		Text:     resp.Text,
		Language: req.Language,
		Duration: pcmDuration(len(req.Audio), sr),
	}, nil
}

// encodeWAV wraps raw 16-bit signed little-endian mono PCM in a RIFF/WAV
// container.
func encodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels = 1
		bps      = 16
	)
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}

// pcmDuration returns the real-time duration of a mono 16-bit PCM byte count.
func pcmDuration(byteLen, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(byteLen) * time.Second / time.Duration(sampleRate*2)
}
