package engine

import (
	"fmt"
	"time"
)

// Defaults for Config.
const (
	DefaultDepthThreshold = 3.5
	DefaultBranchRule     = "score >= threshold"
	DefaultContextTurns   = 6
	DefaultCallTimeout    = 30 * time.Second
	DefaultMaxInputLength = 5000
	MinIdeaLength         = 10
	MaxDepthScore         = 5.0

	// RetrievalSentinel stands in for retrieved context when the retriever
	// fails or finds nothing.
	RetrievalSentinel = "No additional local context is available for this story."
)

// Heuristic holds the point values of the fallback depth scorer. The values
// carry no meaning beyond reproducing the established scoring.
type Heuristic struct {
	Base            float64  `yaml:"base"`
	MediumWordCount int      `yaml:"medium_word_count"`
	LongWordCount   int      `yaml:"long_word_count"`
	WordCountPoints float64  `yaml:"word_count_points"`
	FirstPerson     float64  `yaml:"first_person_points"`
	Locale          float64  `yaml:"locale_points"`
	LocaleKeywords  []string `yaml:"locale_keywords"`
}

// DefaultHeuristic returns the stock heuristic weights.
func DefaultHeuristic() Heuristic {
	return Heuristic{
		Base:            1.0,
		MediumWordCount: 10,
		LongWordCount:   25,
		WordCountPoints: 1.0,
		FirstPerson:     1.0,
		Locale:          1.0,
		LocaleKeywords: []string{
			"richmond", "rva", "virginia", "james river", "carytown",
			"church hill", "the fan", "scott's addition", "shockoe", "jackson ward",
		},
	}
}

// Config tunes the engine. Start from DefaultConfig: DepthThreshold and
// Temperature are taken as given, so zero is a real setting for both. Other
// zero fields are replaced by defaults.
type Config struct {
	DepthThreshold float64       `yaml:"depth_threshold"`
	BranchRule     string        `yaml:"branch_rule"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
	ContextTurns   int           `yaml:"context_turns"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	MaxInputLength int           `yaml:"max_input_length"`
	Heuristic      Heuristic     `yaml:"heuristic"`
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() Config {
	return Config{
		DepthThreshold: DefaultDepthThreshold,
		BranchRule:     DefaultBranchRule,
		MaxTokens:      1024,
		Temperature:    0.7,
		ContextTurns:   DefaultContextTurns,
		CallTimeout:    DefaultCallTimeout,
		MaxInputLength: DefaultMaxInputLength,
		Heuristic:      DefaultHeuristic(),
	}
}

// withDefaults fills zero fields from DefaultConfig, except DepthThreshold
// and Temperature where zero is meaningful.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BranchRule == "" {
		c.BranchRule = d.BranchRule
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.ContextTurns <= 0 {
		c.ContextTurns = d.ContextTurns
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.MaxInputLength <= 0 {
		c.MaxInputLength = d.MaxInputLength
	}
	if c.Heuristic.Base == 0 && len(c.Heuristic.LocaleKeywords) == 0 {
		c.Heuristic = d.Heuristic
	}
	return c
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.DepthThreshold < 0 || c.DepthThreshold > MaxDepthScore {
		return fmt.Errorf("depth_threshold must be within [0, %.0f], got %v", MaxDepthScore, c.DepthThreshold)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0, 2], got %v", c.Temperature)
	}
	if _, err := NewBranchRule(c.BranchRule); err != nil {
		return err
	}
	return nil
}
