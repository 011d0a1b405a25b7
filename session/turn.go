package session

import (
	"encoding/json"
	"iter"
	"strings"
	"time"
)

// Turn is one recorded exchange. Turns are immutable once appended.
type Turn struct {
	Number      int       `json:"turn"`
	Stage       Stage     `json:"stage"`
	UserInput   string    `json:"user_input,omitempty"`
	Response    string    `json:"response,omitempty"`
	ContextTags []string  `json:"context_tags,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// TurnLog is an append-only ordered sequence of turns. The zero value is an
// empty log ready for use.
type TurnLog struct {
	turns []Turn
}

// Append records a new turn and returns its ordinal (len+1).
func (l *TurnLog) Append(stage Stage, userInput, response string, contextTags []string, at time.Time) int {
	n := len(l.turns) + 1
	l.turns = append(l.turns, Turn{
		Number:      n,
		Stage:       stage,
		UserInput:   userInput,
		Response:    response,
		ContextTags: append([]string(nil), contextTags...),
		Timestamp:   at,
	})
	return n
}

// Len returns the number of recorded turns.
func (l *TurnLog) Len() int {
	return len(l.turns)
}

// At returns the turn with the given 1-based ordinal.
func (l *TurnLog) At(ordinal int) (Turn, bool) {
	if ordinal < 1 || ordinal > len(l.turns) {
		return Turn{}, false
	}
	return l.turns[ordinal-1], true
}

// Turns returns a copy of all turns in order.
func (l *TurnLog) Turns() []Turn {
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// After returns a copy of the turns whose ordinal is greater than ordinal.
func (l *TurnLog) After(ordinal int) []Turn {
	if ordinal < 0 {
		ordinal = 0
	}
	if ordinal >= len(l.turns) {
		return nil
	}
	out := make([]Turn, len(l.turns)-ordinal)
	copy(out, l.turns[ordinal:])
	return out
}

// ContextWindow yields the last n turns rendered as alternating
// "user: ..." / "assistant: ..." lines. The sequence is lazy and can be
// ranged over any number of times; it reads a snapshot taken at call time,
// so later appends do not affect it.
func (l *TurnLog) ContextWindow(n int) iter.Seq[string] {
	start := len(l.turns) - n
	if start < 0 || n <= 0 {
		start = 0
	}
	window := l.turns[start:len(l.turns):len(l.turns)]
	if n <= 0 {
		window = nil
	}

	return func(yield func(string) bool) {
		for _, t := range window {
			if t.UserInput != "" {
				if !yield("user: " + t.UserInput) {
					return
				}
			}
			if t.Response != "" {
				if !yield("assistant: " + t.Response) {
					return
				}
			}
		}
	}
}

// ContextText joins ContextWindow(n) with newlines.
func (l *TurnLog) ContextText(n int) string {
	var b strings.Builder
	for line := range l.ContextWindow(n) {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

func (l TurnLog) clone() TurnLog {
	out := TurnLog{turns: make([]Turn, len(l.turns))}
	for i, t := range l.turns {
		t.ContextTags = append([]string(nil), t.ContextTags...)
		out.turns[i] = t
	}
	return out
}

// MarshalJSON encodes the log as a JSON array of turns.
func (l TurnLog) MarshalJSON() ([]byte, error) {
	if l.turns == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.turns)
}

// UnmarshalJSON decodes a JSON array of turns, renumbering them by position
// so ordinals always match insertion order.
func (l *TurnLog) UnmarshalJSON(data []byte) error {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return err
	}
	for i := range turns {
		turns[i].Number = i + 1
	}
	l.turns = turns
	return nil
}
