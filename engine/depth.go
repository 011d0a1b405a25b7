package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/ford-at-home/storygen/llm"
)

// Depth score sources recorded in the depth analysis slot.
const (
	SourceModel     = "model"
	SourceHeuristic = "heuristic"
)

var firstPersonWords = map[string]struct{}{
	"i": {}, "me": {}, "my": {}, "mine": {}, "myself": {},
	"we": {}, "us": {}, "our": {}, "ours": {},
	"i'm": {}, "i've": {}, "i'd": {}, "i'll": {}, "we're": {}, "we've": {},
}

// DepthResult is the outcome of scoring an idea.
type DepthResult struct {
	Score            float64 `json:"score"`
	Analysis         string  `json:"analysis,omitempty"`
	FollowUpQuestion string  `json:"follow_up_question,omitempty"`
	Source           string  `json:"source"`
	WordCount        int     `json:"word_count"`
}

// modelDepth is the JSON object the analysis prompt asks for.
type modelDepth struct {
	Score            *float64 `json:"score"`
	Analysis         string   `json:"analysis"`
	FollowUpQuestion string   `json:"follow_up_question"`
}

// words splits text into lowercase words, keeping apostrophes.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '’'
	})
}

// WordCount returns the number of words in text.
func WordCount(text string) int {
	return len(words(text))
}

// HeuristicScore scores an idea without any collaborator: a base value plus
// points for length, first-person voice and locale keywords, capped at
// MaxDepthScore.
func HeuristicScore(h Heuristic, idea string) float64 {
	ws := words(idea)
	score := h.Base

	if len(ws) >= h.MediumWordCount {
		score += h.WordCountPoints
	}
	if h.LongWordCount > 0 && len(ws) >= h.LongWordCount {
		score += h.WordCountPoints
	}

	for _, w := range ws {
		w = strings.ReplaceAll(w, "’", "'")
		if _, ok := firstPersonWords[w]; ok {
			score += h.FirstPerson
			break
		}
	}

	lower := strings.ToLower(idea)
	for _, kw := range h.LocaleKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			score += h.Locale
			break
		}
	}

	return clampScore(score)
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > MaxDepthScore {
		return MaxDepthScore
	}
	return s
}

// parseModelDepth extracts the JSON object from a model answer. Models often
// wrap it in prose or code fences, so the outermost braces are used.
func parseModelDepth(text string) (modelDepth, error) {
	var out modelDepth

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return out, fmt.Errorf("no JSON object in depth analysis")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return out, fmt.Errorf("failed to decode depth analysis: %w", err)
	}
	if out.Score == nil {
		return out, fmt.Errorf("depth analysis has no score")
	}
	return out, nil
}

// scoreDepth asks the generator for an analysis and falls back to the
// heuristic on any failure. It never returns an error.
func (e *Engine) scoreDepth(ctx context.Context, idea string) DepthResult {
	res := DepthResult{WordCount: WordCount(idea)}

	text, err := e.generate(ctx, PurposeDepth, depthPrompt(idea))
	if err == nil {
		var md modelDepth
		md, err = parseModelDepth(text)
		if err == nil {
			res.Score = clampScore(*md.Score)
			res.Analysis = md.Analysis
			res.FollowUpQuestion = llm.Clean(md.FollowUpQuestion)
			res.Source = SourceModel
			return res
		}
	}

	e.logger.Warn("depth analysis unavailable, using heuristic", "error", err)
	res.Score = HeuristicScore(e.cfg.Heuristic, idea)
	res.Source = SourceHeuristic
	return res
}
