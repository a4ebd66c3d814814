// Package llm defines the minimal language-model surface used by the
// background transcript corrector.
//
// Only blocking completions are needed; the corrector never streams. The
// interface is implemented by the anyllm subpackage (multi-provider, via
// github.com/mozilla-ai/any-llm-go) and by the mock subpackage for tests.
package llm

import "context"

// Message is one turn of a completion conversation.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// CompletionRequest describes one blocking completion call.
type CompletionRequest struct {
	// SystemPrompt, when non-empty, is prepended as a system message.
	SystemPrompt string

	// Messages is the conversation in order, excluding the system prompt.
	Messages []Message

	// Temperature is the sampling temperature. Zero leaves the backend
	// default in place.
	Temperature float64

	// MaxTokens bounds the completion length. Zero leaves it unbounded.
	MaxTokens int
}

// Usage reports token accounting when the backend provides it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the result of one completion call.
type CompletionResponse struct {
	// Content is the model's reply text.
	Content string

	// Usage is zero-valued when the backend does not report token counts.
	Usage Usage
}

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete blocks until the model returns a reply, the context is
	// cancelled, or the backend fails.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
