package llm

import (
	"context"
	"sort"
	"sync"
	"time"
)

// CallStats aggregates generator calls for one purpose.
type CallStats struct {
	Calls    int
	Failures int
	Latency  time.Duration
}

// Add returns the sum of two CallStats.
func (s CallStats) Add(other CallStats) CallStats {
	return CallStats{
		Calls:    s.Calls + other.Calls,
		Failures: s.Failures + other.Failures,
		Latency:  s.Latency + other.Latency,
	}
}

// CallTracker records generator calls per purpose. It is safe for
// concurrent use.
type CallTracker struct {
	mu       sync.RWMutex
	purposes map[string]CallStats
	total    CallStats
}

// NewCallTracker creates an empty tracker.
func NewCallTracker() *CallTracker {
	return &CallTracker{
		purposes: make(map[string]CallStats),
	}
}

// Record adds one call outcome for purpose.
func (t *CallTracker) Record(purpose string, latency time.Duration, err error) {
	s := CallStats{Calls: 1, Latency: latency}
	if err != nil {
		s.Failures = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.purposes[purpose] = t.purposes[purpose].Add(s)
	t.total = t.total.Add(s)
}

// Total returns the aggregate across all purposes.
func (t *CallTracker) Total() CallStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// ByPurpose returns the stats for purpose, or zero stats if it was never used.
func (t *CallTracker) ByPurpose(purpose string) CallStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.purposes[purpose]
}

// Purposes returns the tracked purposes in sorted order.
func (t *CallTracker) Purposes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.purposes))
	for p := range t.purposes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Reset clears all recorded calls.
func (t *CallTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.purposes = make(map[string]CallStats)
	t.total = CallStats{}
}

// Tracked wraps g so every call is recorded in t.
func Tracked(g Generator, t *CallTracker) Generator {
	return GeneratorFunc(func(ctx context.Context, req CompletionRequest) (string, error) {
		start := time.Now()
		text, err := g.Generate(ctx, req)
		t.Record(req.Purpose, time.Since(start), err)
		return text, err
	})
}
