package session

import (
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func TestNewSession(t *testing.T) {
	s := New("owner-1", testNow)

	require.NotEmpty(t, s.ID)
	assert.Equal(t, "owner-1", s.OwnerID)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, StageKickoff, s.Stage)
	assert.Equal(t, 0, s.Turns.Len())
	assert.Equal(t, testNow, s.LastActivityAt)

	other := New("", testNow)
	assert.NotEqual(t, s.ID, other.ID)
}

func TestTurnLogAppend(t *testing.T) {
	var log TurnLog

	for i := 1; i <= 5; i++ {
		n := log.Append(StageKickoff, "in", "out", []string{"ctx"}, testNow)
		assert.Equal(t, i, n)
		assert.Equal(t, i, log.Len())
	}

	turn, ok := log.At(3)
	require.True(t, ok)
	assert.Equal(t, 3, turn.Number)

	_, ok = log.At(0)
	assert.False(t, ok)
	_, ok = log.At(6)
	assert.False(t, ok)

	after := log.After(3)
	require.Len(t, after, 2)
	assert.Equal(t, 4, after[0].Number)
	assert.Nil(t, log.After(5))
}

func TestTurnLogCopiesAreIndependent(t *testing.T) {
	var log TurnLog
	tags := []string{"a"}
	log.Append(StageKickoff, "x", "", tags, testNow)
	tags[0] = "mutated"

	turns := log.Turns()
	assert.Equal(t, []string{"a"}, turns[0].ContextTags)

	turns[0].UserInput = "changed"
	first, _ := log.At(1)
	assert.Equal(t, "x", first.UserInput)
}

func TestContextWindow(t *testing.T) {
	var log TurnLog
	log.Append(StageKickoff, "idea", "", nil, testNow)
	log.Append(StageDepthAnalysis, "", "tell me more", nil, testNow)
	log.Append(StageFollowUp, "more detail", "thanks", nil, testNow)

	t.Run("last two turns", func(t *testing.T) {
		got := slices.Collect(log.ContextWindow(2))
		assert.Equal(t, []string{"assistant: tell me more", "user: more detail", "assistant: thanks"}, got)
	})

	t.Run("window larger than log", func(t *testing.T) {
		got := slices.Collect(log.ContextWindow(10))
		assert.Len(t, got, 4)
		assert.Equal(t, "user: idea", got[0])
	})

	t.Run("zero window", func(t *testing.T) {
		assert.Empty(t, slices.Collect(log.ContextWindow(0)))
	})

	t.Run("restartable", func(t *testing.T) {
		seq := log.ContextWindow(3)
		assert.Equal(t, slices.Collect(seq), slices.Collect(seq))
	})

	t.Run("early stop", func(t *testing.T) {
		var got []string
		for line := range log.ContextWindow(3) {
			got = append(got, line)
			break
		}
		assert.Equal(t, []string{"user: idea"}, got)
	})

	t.Run("snapshot unaffected by later appends", func(t *testing.T) {
		seq := log.ContextWindow(1)
		before := slices.Collect(seq)
		log.Append(StageFollowUp, "late", "", nil, testNow)
		assert.Equal(t, before, slices.Collect(seq))
	})

	t.Run("text form", func(t *testing.T) {
		assert.Equal(t, "user: late", log.ContextText(1))
	})
}

func TestContextWindowConcurrentReads(t *testing.T) {
	var log TurnLog
	for i := 0; i < 20; i++ {
		log.Append(StageKickoff, "u", "a", nil, testNow)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, slices.Collect(log.ContextWindow(5)), 10)
		}()
	}
	wg.Wait()
}

func TestTurnLogJSONRenumbers(t *testing.T) {
	data := []byte(`[{"turn":7,"stage":"kickoff","timestamp":"2026-10-15T09:00:00Z"},{"turn":7,"stage":"follow_up","timestamp":"2026-10-15T09:00:00Z"}]`)

	var log TurnLog
	require.NoError(t, json.Unmarshal(data, &log))

	turns := log.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, 1, turns[0].Number)
	assert.Equal(t, 2, turns[1].Number)

	var empty TurnLog
	out, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(out))
}

func TestStageGraph(t *testing.T) {
	// every stage is reachable from kickoff and final_story is the only sink
	seen := map[Stage]bool{StageKickoff: true}
	queue := []Stage{StageKickoff}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range cur.Next() {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
			assert.Greater(t, next.Progress(), cur.Progress(), "%s -> %s", cur, next)
		}
	}
	for _, st := range Stages {
		assert.True(t, seen[st], "stage %s unreachable", st)
		if st != StageFinalStory {
			assert.NotEmpty(t, st.Next(), "stage %s has no successor", st)
		}
	}
	assert.Empty(t, StageFinalStory.Next())

	_, err := ParseStage("nope")
	assert.Error(t, err)
	st, err := ParseStage("hook_generation")
	require.NoError(t, err)
	assert.Equal(t, StageHookGeneration, st)
}

func TestAdvance(t *testing.T) {
	s := New("", testNow)

	require.NoError(t, s.Advance(StageDepthAnalysis))
	require.NoError(t, s.Advance(StageDepthAnalysis))
	assert.Error(t, s.Advance(StageHookGeneration), "skipping personal_anecdote must fail")
	require.NoError(t, s.Advance(StagePersonalAnecdote))
	assert.Equal(t, StagePersonalAnecdote, s.Stage)
	assert.Error(t, s.Advance(StageKickoff))
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusAbandoned, true},
		{StatusActive, StatusExpired, true},
		{StatusCompleted, StatusActive, false},
		{StatusExpired, StatusCompleted, false},
		{StatusAbandoned, StatusExpired, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			s := New("", testNow)
			s.Status = tt.from
			err := s.SetStatus(tt.to, testNow)
			if tt.ok {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, s.Status)
			} else {
				assert.Error(t, err)
				assert.Equal(t, tt.from, s.Status)
			}
		})
	}
}

func TestExpireIfIdle(t *testing.T) {
	s := New("", testNow)

	assert.False(t, s.ExpireIfIdle(testNow.Add(29*time.Minute), 30*time.Minute))
	assert.Equal(t, StatusActive, s.Status)

	assert.True(t, s.ExpireIfIdle(testNow.Add(31*time.Minute), 30*time.Minute))
	assert.Equal(t, StatusExpired, s.Status)

	assert.False(t, s.ExpireIfIdle(testNow.Add(time.Hour), 30*time.Minute), "terminal sessions stay put")

	done := New("", testNow)
	done.Status = StatusCompleted
	assert.False(t, done.ExpireIfIdle(testNow.Add(24*time.Hour), 30*time.Minute))
	assert.Equal(t, StatusCompleted, done.Status)
}

func TestCloneIsDeep(t *testing.T) {
	s := populated()
	c := s.Clone()

	c.Slots.AvailableHooks[0] = "changed"
	*c.Slots.DepthScore = 1
	c.Binding.UserAgent = "other"
	c.AppendTurn("extra", "", nil, testNow)

	assert.Equal(t, "hook a", s.Slots.AvailableHooks[0])
	assert.Equal(t, 4.2, *s.Slots.DepthScore)
	assert.Equal(t, "ua", s.Binding.UserAgent)
	assert.Equal(t, 2, s.Turns.Len())
}

func TestExportImportRoundTrip(t *testing.T) {
	s := populated()
	s.Version = 4

	data, err := Export(s, testNow)
	require.NoError(t, err)

	got, err := Import(data)
	require.NoError(t, err)

	assert.Equal(t, s.Stage, got.Stage)
	assert.Equal(t, s.Status, got.Status)
	assert.Equal(t, s.Turns.Len(), got.Turns.Len())
	assert.Equal(t, int64(0), got.Version)
	if diff := cmp.Diff(s.Slots, got.Slots); diff != "" {
		t.Errorf("slots mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(s.Turns.Turns(), got.Turns.Turns()); diff != "" {
		t.Errorf("turns mismatch (-want +got):\n%s", diff)
	}
}

func TestImportRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"garbage", `not json`},
		{"wrong format", `{"format":99,"session":{"session_id":"a","status":"active","stage":"kickoff"}}`},
		{"no session", `{"format":1}`},
		{"bad stage", `{"format":1,"session":{"session_id":"a","status":"active","stage":"nowhere"}}`},
		{"bad status", `{"format":1,"session":{"session_id":"a","status":"zombie","stage":"kickoff"}}`},
		{"two hooks", `{"format":1,"session":{"session_id":"a","status":"active","stage":"hook_generation","slots":{"available_hooks":["a","b"]}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Import([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestSummaryHasNoContent(t *testing.T) {
	s := populated()
	sum := Summarize(s)

	assert.Equal(t, 2, sum.TurnCount)
	assert.True(t, sum.Elements.CoreIdea)
	assert.True(t, sum.Elements.Hooks)
	assert.False(t, sum.Elements.SelectedCTA)

	data, err := json.Marshal(sum)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "returning to Richmond")
	assert.NotContains(t, string(data), "hook a")
}

func TestMissingForFinal(t *testing.T) {
	var slots Slots
	assert.Equal(t, []string{"core_idea", "personal_anecdote", "selected_hook", "selected_cta"}, slots.MissingForFinal())

	s := populated()
	s.Slots.SelectedCTA = "Subscribe"
	assert.Empty(t, s.Slots.MissingForFinal())
}

func populated() *Session {
	s := New("owner", testNow)
	score := 4.2
	s.Slots.CoreIdea = "Tech workers are returning to Richmond from coastal cities"
	s.Slots.DepthScore = &score
	s.Slots.DepthAnalysis = json.RawMessage(`{"score":4.2}`)
	s.Slots.PersonalAnecdote = "I moved back in 2021."
	s.Slots.AvailableHooks = []string{"hook a", "hook b", "hook c"}
	s.Slots.SelectedHook = "hook b"
	s.Binding = &Binding{RemoteAddr: "10.0.0.1", UserAgent: "ua", BoundAt: testNow}
	s.AppendTurn(s.Slots.CoreIdea, "", []string{"richmond"}, testNow)
	_ = s.Advance(StageDepthAnalysis)
	s.AppendTurn("", "Tell me about you", nil, testNow)
	return s
}
