package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ford-at-home/storygen/llm"
	"github.com/ford-at-home/storygen/session"
)

// Candidate labels used in generation prompts and parsing.
const (
	LabelHook = "HOOK"
	LabelCTA  = "CTA"
)

// DefaultHooks pad hook lists when generation yields fewer than three.
var DefaultHooks = [session.CandidateCount]string{
	"What if the most important story in Richmond is the one happening on your own street?",
	"Everyone has a reason they stayed, or a reason they came back. This is one of them.",
	"Here is something about this city most people walk right past.",
}

// DefaultCTAs pad CTA lists when generation yields fewer than three.
var DefaultCTAs = [session.CandidateCount]string{
	"Share your own story in the comments.",
	"Subscribe for more stories from Richmond.",
	"Pass this along to someone who needs to hear it.",
}

var (
	hookPattern = compileLabel(LabelHook)
	ctaPattern  = compileLabel(LabelCTA)
)

func compileLabel(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^[^\w\n]*` + regexp.QuoteMeta(label) + `\s*#?(\d+)[^\w\n]*?[:.)\-]\s*(.*\S)\s*$`)
}

func labelPattern(label string) *regexp.Regexp {
	switch label {
	case LabelHook:
		return hookPattern
	case LabelCTA:
		return ctaPattern
	default:
		return compileLabel(label)
	}
}

// ParseCandidates extracts "LABEL N: text" lines from generated text. The
// result always has exactly session.CandidateCount entries: the first
// occurrence of each number is kept in numeric order, and missing entries
// are filled from defaults in position order.
func ParseCandidates(text, label string, defaults [session.CandidateCount]string) []string {
	type found struct {
		n    int
		text string
	}

	seen := make(map[int]bool)
	var items []found
	for _, m := range labelPattern(label).FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		body := llm.Clean(strings.Trim(m[2], "*_ "))
		if body == "" {
			continue
		}
		seen[n] = true
		items = append(items, found{n: n, text: body})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].n < items[j].n })

	out := make([]string, 0, session.CandidateCount)
	for _, it := range items {
		if len(out) == session.CandidateCount {
			break
		}
		out = append(out, it.text)
	}
	for i := len(out); i < session.CandidateCount; i++ {
		out = append(out, defaults[i])
	}
	return out
}

// candidateLines renders options as "LABEL N: text" for prompts.
func candidateLines(label string, options []string) string {
	var b strings.Builder
	for i, o := range options {
		fmt.Fprintf(&b, "%s %d: %s\n", label, i+1, o)
	}
	return b.String()
}
