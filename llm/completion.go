package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyCompletion is returned by generators that produced no text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Default generation parameters.
const (
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7
)

// CompletionRequest represents a single prompt round-trip to a language model.
type CompletionRequest struct {
	// Prompt is the full prompt text, including any rendered conversation context.
	Prompt string

	// MaxTokens limits the number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness in the output (0.0 to 1.0).
	Temperature float64

	// Purpose names the story element being generated ("hooks", "arc", ...).
	// Generators may use it for routing or accounting; it never changes the prompt.
	Purpose string
}

// CompletionOption is a functional option for configuring CompletionRequest.
type CompletionOption func(*CompletionRequest)

// WithTemperature sets the temperature for the completion request.
func WithTemperature(t float64) CompletionOption {
	return func(r *CompletionRequest) {
		r.Temperature = t
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(n int) CompletionOption {
	return func(r *CompletionRequest) {
		r.MaxTokens = n
	}
}

// WithPurpose tags the request with the story element being generated.
func WithPurpose(p string) CompletionOption {
	return func(r *CompletionRequest) {
		r.Purpose = p
	}
}

// NewCompletionRequest creates a CompletionRequest with defaults applied
// before the given options.
func NewCompletionRequest(prompt string, opts ...CompletionOption) CompletionRequest {
	req := CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// Generator produces text for a prompt. Implementations make one network
// round-trip per call and must honour ctx cancellation.
type Generator interface {
	Generate(ctx context.Context, req CompletionRequest) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req CompletionRequest) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}

// Retriever returns passages relevant to a query, concatenated into one
// string. An empty result means nothing relevant was found.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// RetrieverFunc adapts a function to the Retriever interface.
type RetrieverFunc func(ctx context.Context, query string) (string, error)

// Retrieve calls f.
func (f RetrieverFunc) Retrieve(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}

// Clean trims surrounding whitespace and the quote marks models like to wrap
// short answers in.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
