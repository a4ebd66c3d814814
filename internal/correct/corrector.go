// Package correct implements an optional language-model correction stage for
// confirmed transcript segments.
//
// ASR backends routinely mangle domain vocabulary (product names, jargon,
// proper nouns) into phonetically similar everyday words. The [Corrector]
// sends confirmed segment text to an [llm.Provider] together with the
// session's vocabulary hints and asks for conservative word-level fixes in a
// structured JSON response.
//
// This stage runs exclusively in the background, after a segment is
// confirmed — never on the interim path — so its latency does not affect
// display updates. When the LLM response cannot be parsed, the corrector
// returns the original text unchanged rather than surfacing an error.
// Every change the model makes is verified token by token against its own
// reported corrections list; undeclared rewrites are reverted.
package correct

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kestrelaudio/verbatim/pkg/provider/llm"
)

const defaultTemperature = 0.1

// systemPromptTemplate is the base system prompt. The vocabulary list is
// appended at call time so each request carries the current session hints.
const systemPromptTemplate = `You are a transcript correction assistant for live speech transcription.

Your task: fix words that the speech recognizer misheard as everyday words when the speaker clearly meant one of the known vocabulary terms listed below.

Rules:
- ONLY correct words that appear to be misrecognized versions of the known vocabulary terms.
- Do NOT change ordinary words, grammar, punctuation, or sentence structure.
- Be conservative — if you are not confident a word was misheard, leave it unchanged.
- Preserve the original capitalisation style of the surrounding text where possible.
- Corrected terms must match the canonical spelling from the vocabulary list exactly.

Known vocabulary:
%s

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "corrected_text": "<full corrected transcript>",
  "corrections": [
    {"original": "<original word>", "corrected": "<corrected word>", "confidence": <0.0-1.0>}
  ]
}

If no corrections are needed, return an empty corrections array and corrected_text equal to the input.`

// Correction captures a single word-level substitution produced by the LLM.
type Correction struct {
	// Original is the word as it appeared in the input text.
	Original string

	// Corrected is the replacement vocabulary term.
	Corrected string

	// Confidence is the model's reported confidence for this substitution.
	Confidence float64
}

// llmResponse is the expected JSON structure returned by the LLM.
type llmResponse struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the LLM sampling temperature. Lower values produce
// more deterministic corrections. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) {
		c.temperature = temp
	}
}

// Corrector uses an [llm.Provider] to fix domain-vocabulary recognition
// errors in confirmed segment text. It is safe for concurrent use.
type Corrector struct {
	llm         llm.Provider
	temperature float64
}

// New returns a new [Corrector] backed by the given [llm.Provider].
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{
		llm:         provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct sends text to the LLM with the vocabulary list as context and
// returns the corrected text plus the verified corrections that were
// actually applied.
//
// An empty vocabulary short-circuits: there is nothing the model could fix
// conservatively, so the text is returned unchanged without an LLM call.
//
// When the LLM response is unparseable, Correct returns the original text
// unchanged with a nil corrections slice and a nil error (graceful
// degradation — the session must continue). Context cancellation and
// network errors are returned as non-nil errors.
func (c *Corrector) Correct(ctx context.Context, text string, vocabulary []string) (string, []Correction, error) {
	if len(vocabulary) == 0 || strings.TrimSpace(text) == "" {
		return text, nil, nil
	}

	req := llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(vocabulary),
		Temperature:  c.temperature,
		Messages: []llm.Message{
			{Role: "user", Content: text},
		},
	}

	resp, err := c.llm.Complete(ctx, req)
	if err != nil {
		return text, nil, fmt.Errorf("correct: complete: %w", err)
	}

	corrected, corrections, parseErr := parseResponse(resp.Content, text)
	if parseErr != nil {
		// Unparseable response: return original unchanged, no error.
		return text, nil, nil
	}

	verified, confirmed := verifyCorrectedText(text, corrected, corrections)
	return verified, confirmed, nil
}

// buildSystemPrompt formats the system prompt template with the vocabulary.
func buildSystemPrompt(vocabulary []string) string {
	var sb strings.Builder
	for _, v := range vocabulary {
		sb.WriteString("- ")
		sb.WriteString(v)
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPromptTemplate, sb.String())
}

// parseResponse attempts to unmarshal the LLM output into an [llmResponse].
// It strips markdown code fences before parsing.
func parseResponse(content, originalText string) (string, []Correction, error) {
	cleaned := stripMarkdown(content)

	var r llmResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return "", nil, fmt.Errorf("correct: parse response: %w", err)
	}
	if r.CorrectedText == "" {
		return originalText, nil, nil
	}

	corrections := make([]Correction, 0, len(r.Corrections))
	for _, c := range r.Corrections {
		if c.Original == c.Corrected || c.Original == "" {
			continue
		}
		corrections = append(corrections, Correction{
			Original:   c.Original,
			Corrected:  c.Corrected,
			Confidence: c.Confidence,
		})
	}
	return r.CorrectedText, corrections, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
