package engine

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// BranchRule decides, after depth scoring, whether an idea is deep enough to
// skip the clarifying FOLLOW_UP stage. It is a CEL expression over:
//
//	score       double  depth score in [0, 5]
//	threshold   double  configured depth threshold
//	word_count  int     words in the core idea
//
// The default rule is "score >= threshold".
type BranchRule struct {
	expr string
	prg  cel.Program
}

// NewBranchRule compiles expr. The expression must evaluate to a bool.
func NewBranchRule(expr string) (*BranchRule, error) {
	if expr == "" {
		expr = DefaultBranchRule
	}

	env, err := cel.NewEnv(
		cel.Variable("score", cel.DoubleType),
		cel.Variable("threshold", cel.DoubleType),
		cel.Variable("word_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create branch rule environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid branch rule %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("branch rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build branch rule %q: %w", expr, err)
	}

	return &BranchRule{expr: expr, prg: prg}, nil
}

// String returns the source expression.
func (r *BranchRule) String() string {
	return r.expr
}

// Deep reports whether the idea should go straight to PERSONAL_ANECDOTE.
func (r *BranchRule) Deep(score, threshold float64, wordCount int) (bool, error) {
	out, _, err := r.prg.Eval(map[string]any{
		"score":      score,
		"threshold":  threshold,
		"word_count": int64(wordCount),
	})
	if err != nil {
		return false, fmt.Errorf("branch rule %q failed: %w", r.expr, err)
	}
	deep, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("branch rule %q returned %T", r.expr, out.Value())
	}
	return deep, nil
}
