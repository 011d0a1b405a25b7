// Package llmtest provides scripted collaborator fakes for engine and
// service tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ford-at-home/storygen/llm"
)

// script is the queue of outcomes for one purpose. The last entry repeats.
type script struct {
	texts []string
	errs  []error
}

// ScriptedGenerator returns canned text per request purpose and records
// every call for later assertions.
type ScriptedGenerator struct {
	mu       sync.Mutex
	scripts  map[string]*script
	calls    []llm.CompletionRequest
	fallback string
	strict   bool
}

// Option configures a ScriptedGenerator.
type Option func(*ScriptedGenerator)

// WithFallback sets the text returned when no script matches a purpose.
func WithFallback(text string) Option {
	return func(g *ScriptedGenerator) {
		g.fallback = text
	}
}

// WithStrictMode makes unmatched purposes return an error.
func WithStrictMode() Option {
	return func(g *ScriptedGenerator) {
		g.strict = true
	}
}

// NewScriptedGenerator creates an empty generator.
func NewScriptedGenerator(opts ...Option) *ScriptedGenerator {
	g := &ScriptedGenerator{
		scripts:  make(map[string]*script),
		fallback: "generated text",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// On queues a successful response for purpose.
func (g *ScriptedGenerator) On(purpose, text string) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.scriptFor(purpose)
	s.texts = append(s.texts, text)
	s.errs = append(s.errs, nil)
	return g
}

// FailOn queues a failure for purpose.
func (g *ScriptedGenerator) FailOn(purpose string, err error) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.scriptFor(purpose)
	s.texts = append(s.texts, "")
	s.errs = append(s.errs, err)
	return g
}

func (g *ScriptedGenerator) scriptFor(purpose string) *script {
	s, ok := g.scripts[purpose]
	if !ok {
		s = &script{}
		g.scripts[purpose] = s
	}
	return s
}

// Generate implements llm.Generator.
func (g *ScriptedGenerator) Generate(ctx context.Context, req llm.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, req)

	s, ok := g.scripts[req.Purpose]
	if !ok || len(s.texts) == 0 {
		if g.strict {
			return "", fmt.Errorf("llmtest: no script for purpose %q", req.Purpose)
		}
		return g.fallback, nil
	}

	text, err := s.texts[0], s.errs[0]
	if len(s.texts) > 1 {
		s.texts = s.texts[1:]
		s.errs = s.errs[1:]
	}
	return text, err
}

// Calls returns a copy of all recorded requests.
func (g *ScriptedGenerator) Calls() []llm.CompletionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]llm.CompletionRequest(nil), g.calls...)
}

// CallsFor returns how many requests were made for purpose.
func (g *ScriptedGenerator) CallsFor(purpose string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for _, c := range g.calls {
		if c.Purpose == purpose {
			n++
		}
	}
	return n
}

// StaticRetriever returns a fixed passage or error and counts queries.
type StaticRetriever struct {
	mu      sync.Mutex
	Text    string
	Err     error
	queries []string
}

// Retrieve implements llm.Retriever.
func (r *StaticRetriever) Retrieve(ctx context.Context, query string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queries = append(r.queries, query)
	if r.Err != nil {
		return "", r.Err
	}
	return r.Text, nil
}

// Queries returns the queries received so far.
func (r *StaticRetriever) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}
