package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchRule(t *testing.T) {
	tests := []struct {
		name      string
		expr      string
		score     float64
		words     int
		want      bool
		wantError bool
	}{
		{name: "default deep", expr: "", score: 3.5, want: true},
		{name: "default shallow", expr: "", score: 3.4, want: false},
		{name: "word count", expr: "word_count >= 20 || score >= threshold", score: 1, words: 25, want: true},
		{name: "syntax error", expr: "score >=", wantError: true},
		{name: "not bool", expr: "score + 1.0", wantError: true},
		{name: "unknown variable", expr: "mood == 'happy'", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := NewBranchRule(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			got, err := rule.Deep(tt.score, DefaultDepthThreshold, tt.words)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.DepthThreshold = 6
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.BranchRule = "threshold"
	assert.Error(t, cfg.Validate())
}

func TestHeuristicScore(t *testing.T) {
	h := DefaultHeuristic()
	long := "I came back to Richmond after ten years in Seattle because my mother got sick and " +
		"I found the neighborhood had changed in ways I did not expect at all"

	tests := []struct {
		name string
		idea string
		want float64
	}{
		{name: "short and impersonal", idea: "coffee shops are opening", want: 1.0},
		{name: "medium length", idea: "the new bus line connects the east end to downtown jobs now", want: 2.0},
		{name: "locale only", idea: "tech workers are returning to Richmond from coastal cities", want: 2.0},
		{name: "first person contraction", idea: "I've been painting murals", want: 2.0},
		{name: "everything", idea: long, want: 5.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, HeuristicScore(h, tt.idea), 0.001)
		})
	}
}

func TestHeuristicScoreIsCapped(t *testing.T) {
	h := DefaultHeuristic()
	h.Base = 4
	assert.Equal(t, MaxDepthScore, HeuristicScore(h, "I love Richmond "+strings.Repeat("very ", 30)))
}

func TestParseModelDepth(t *testing.T) {
	md, err := parseModelDepth("Here you go:\n```json\n{\"score\": 4.2, \"analysis\": \"Specific.\", \"follow_up_question\": \"Who?\"}\n```")
	require.NoError(t, err)
	assert.InDelta(t, 4.2, *md.Score, 0.001)
	assert.Equal(t, "Who?", md.FollowUpQuestion)

	_, err = parseModelDepth("I think it's a 4.")
	assert.Error(t, err)

	_, err = parseModelDepth(`{"analysis": "no score"}`)
	assert.Error(t, err)
}

func TestParseCandidates(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "well formed",
			text: "HOOK 1: First\nHOOK 2: Second\nHOOK 3: Third",
			want: []string{"First", "Second", "Third"},
		},
		{
			name: "markdown and punctuation",
			text: "Sure!\n\n**Hook 1:** \"First\"\n- hook #2) Second\n  HOOK 3 - Third\n",
			want: []string{"First", "Second", "Third"},
		},
		{
			name: "out of order keeps numeric order",
			text: "HOOK 3: Third\nHOOK 1: First\nHOOK 2: Second",
			want: []string{"First", "Second", "Third"},
		},
		{
			name: "duplicates keep first",
			text: "HOOK 1: First\nHOOK 1: Again\nHOOK 2: Second",
			want: []string{"First", "Second", DefaultHooks[2]},
		},
		{
			name: "more than three",
			text: "HOOK 1: a\nHOOK 2: b\nHOOK 3: c\nHOOK 4: d",
			want: []string{"a", "b", "c"},
		},
		{
			name: "unparseable",
			text: "I could not think of anything.",
			want: DefaultHooks[:],
		},
		{
			name: "empty",
			text: "",
			want: DefaultHooks[:],
		},
		{
			name: "other label ignored",
			text: "CTA 1: Subscribe",
			want: DefaultHooks[:],
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCandidates(tt.text, LabelHook, DefaultHooks)
			assert.Len(t, got, 3)
			assert.Equal(t, tt.want, got)
		})
	}
}
