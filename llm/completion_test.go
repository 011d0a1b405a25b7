package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompletionRequest(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		req := NewCompletionRequest("hello")
		assert.Equal(t, "hello", req.Prompt)
		assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
		assert.Equal(t, DefaultTemperature, req.Temperature)
		assert.Empty(t, req.Purpose)
	})

	t.Run("options override defaults", func(t *testing.T) {
		req := NewCompletionRequest("hello",
			WithMaxTokens(64),
			WithTemperature(0.2),
			WithPurpose("hooks"),
		)
		assert.Equal(t, 64, req.MaxTokens)
		assert.Equal(t, 0.2, req.Temperature)
		assert.Equal(t, "hooks", req.Purpose)
	})
}

func TestFuncAdapters(t *testing.T) {
	var gen Generator = GeneratorFunc(func(ctx context.Context, req CompletionRequest) (string, error) {
		return "echo: " + req.Prompt, nil
	})
	out, err := gen.Generate(context.Background(), NewCompletionRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, "echo: x", out)

	var ret Retriever = RetrieverFunc(func(ctx context.Context, q string) (string, error) {
		return "passages for " + q, nil
	})
	out, err = ret.Retrieve(context.Background(), "richmond")
	require.NoError(t, err)
	assert.Equal(t, "passages for richmond", out)
}

func TestClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  plain  ", "plain"},
		{`"quoted"`, "quoted"},
		{`'single'`, "single"},
		{`"unbalanced`, `"unbalanced`},
		{`""`, ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clean(tt.in), "Clean(%q)", tt.in)
	}
}
