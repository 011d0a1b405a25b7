package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallTrackerRecord(t *testing.T) {
	tracker := NewCallTracker()

	tracker.Record("hooks", 0, nil)
	tracker.Record("hooks", 0, errors.New("timeout"))
	tracker.Record("arc", 0, nil)

	assert.Equal(t, 2, tracker.ByPurpose("hooks").Calls)
	assert.Equal(t, 1, tracker.ByPurpose("hooks").Failures)
	assert.Equal(t, 3, tracker.Total().Calls)
	assert.Equal(t, []string{"arc", "hooks"}, tracker.Purposes())
	assert.Zero(t, tracker.ByPurpose("quote").Calls)

	tracker.Reset()
	assert.Zero(t, tracker.Total().Calls)
	assert.Empty(t, tracker.Purposes())
}

func TestTrackedGenerator(t *testing.T) {
	tracker := NewCallTracker()
	failing := errors.New("model overloaded")

	g := Tracked(GeneratorFunc(func(ctx context.Context, req CompletionRequest) (string, error) {
		if req.Purpose == "final_story" {
			return "", failing
		}
		return "ok", nil
	}), tracker)

	text, err := g.Generate(context.Background(), NewCompletionRequest("p", WithPurpose("hooks")))
	require.NoError(t, err)
	assert.Equal(t, "ok", text)

	_, err = g.Generate(context.Background(), NewCompletionRequest("p", WithPurpose("final_story")))
	assert.ErrorIs(t, err, failing)

	assert.Equal(t, 1, tracker.ByPurpose("hooks").Calls)
	assert.Equal(t, 1, tracker.ByPurpose("final_story").Failures)
}

func TestCallTrackerConcurrent(t *testing.T) {
	tracker := NewCallTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Record("hooks", 0, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, tracker.ByPurpose("hooks").Calls)
}
