// Package remote provides an asr provider that talks to a transcription
// bridge over a WebSocket connection.
//
// The bridge protocol is request/reply: the provider sends a JSON header
// describing the audio, then one binary frame with the raw PCM payload, and
// reads a single JSON reply carrying the transcript. One connection carries
// one request at a time; concurrent Transcribe calls are serialized on the
// provider. The connection is dialed lazily on first use and re-dialed after
// any transport error.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/kestrelaudio/verbatim/pkg/provider/asr"
	"github.com/kestrelaudio/verbatim/pkg/types"
)

const defaultSampleRate = 16000

// Compile-time assertion that Provider implements asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// request is the JSON header sent before each binary audio frame.
type request struct {
	ID         uint64 `json:"id"`
	SampleRate int    `json:"sample_rate"`
	Language   string `json:"language,omitempty"`
	Final      bool   `json:"final,omitempty"`
	AudioBytes int    `json:"audio_bytes"`
}

// response is the JSON reply for one request.
type response struct {
	ID         uint64  `json:"id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithAPIKey sets a bearer token sent in the Authorization header when
// dialing the bridge.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithDialTimeout bounds how long a (re)dial may take. Defaults to 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(p *Provider) { p.dialTimeout = d }
}

// Provider implements asr.Provider over a WebSocket bridge. Safe for
// concurrent use; calls are serialized so the wire carries one request at a
// time.
type Provider struct {
	endpoint    string
	apiKey      string
	dialTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
	closed bool
}

// New creates a Provider for the bridge at endpoint (e.g.,
// "wss://asr.internal/v1/stream"). No connection is established until the
// first Transcribe call.
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("remote: endpoint must not be empty")
	}
	p := &Provider{
		endpoint:    endpoint,
		dialTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe sends one audio buffer to the bridge and waits for its reply.
// Empty audio yields an empty fragment without touching the wire.
func (p *Provider) Transcribe(ctx context.Context, req asr.Request) (*types.TranscriptFragment, error) {
	sr := req.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	if len(req.Audio) == 0 {
		return &types.TranscriptFragment{Language: req.Language}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New("remote: provider is closed")
	}

	conn, err := p.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	p.nextID++
	header := request{
		ID:         p.nextID,
		SampleRate: sr,
		Language:   req.Language,
		Final:      req.IsFinal,
		AudioBytes: len(req.Audio),
	}

	if err := wsjson.Write(ctx, conn, header); err != nil {
		p.dropConn()
		return nil, fmt.Errorf("remote: write request header: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, req.Audio); err != nil {
		p.dropConn()
		return nil, fmt.Errorf("remote: write audio frame: %w", err)
	}

	var resp response
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		p.dropConn()
		return nil, fmt.Errorf("remote: read response: %w", err)
	}
	if resp.ID != header.ID {
		// The bridge answered out of order; the connection state is unknown.
		p.dropConn()
		return nil, fmt.Errorf("remote: response id %d does not match request id %d", resp.ID, header.ID)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("remote: bridge error: %s", resp.Error)
	}

	lang := resp.Language
	if lang == "" {
		lang = req.Language
	}
	return &types.TranscriptFragment{
		Text:       resp.Text,
		Confidence: resp.Confidence,
		Language:   lang,
		Duration:   time.Duration(len(req.Audio)/2) * time.Second / time.Duration(sr),
	}, nil
}

// Close tears down the connection. Subsequent Transcribe calls fail.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.conn != nil {
		err := p.conn.Close(websocket.StatusNormalClosure, "provider closed")
		p.conn = nil
		return err
	}
	return nil
}

// ensureConn dials the bridge if no live connection exists. Must be called
// with p.mu held.
func (p *Provider) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	if p.conn != nil {
		return p.conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if p.apiKey != "" {
		headers := http.Header{}
		headers.Set("Authorization", "Bearer "+p.apiKey)
		opts.HTTPHeader = headers
	}

	conn, _, err := websocket.Dial(dialCtx, p.endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", p.endpoint, err)
	}
	// Audio buffers can be large; the reply is small.
	conn.SetReadLimit(1 << 20)
	p.conn = conn
	return conn, nil
}

// dropConn discards a connection after a transport error so the next call
// re-dials. Must be called with p.mu held.
func (p *Provider) dropConn() {
	if p.conn != nil {
		_ = p.conn.Close(websocket.StatusInternalError, "request failed")
		p.conn = nil
	}
}
