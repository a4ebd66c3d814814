// Package mock provides a test double for the llm package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/kestrelaudio/verbatim/pkg/provider/llm"
)

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Provider is a mock llm.Provider. The zero value returns an empty
// completion for every call. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Responses are returned in order, one per Complete call. When exhausted
	// (or nil), Complete returns Response instead.
	Responses []*llm.CompletionResponse

	// Response is the fallback returned once Responses is exhausted.
	Response *llm.CompletionResponse

	// Err, if non-nil, is returned as the error from every Complete call.
	Err error

	// Requests records every request passed to Complete.
	Requests []llm.CompletionRequest

	cursor int
}

// Complete records the call and returns the next scripted response.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		return nil, p.Err
	}

	var resp *llm.CompletionResponse
	if p.cursor < len(p.Responses) {
		resp = p.Responses[p.cursor]
		p.cursor++
	} else {
		resp = p.Response
	}
	if resp == nil {
		return &llm.CompletionResponse{}, nil
	}
	out := *resp
	return &out, nil
}

// CallCount returns how many times Complete was invoked. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}
