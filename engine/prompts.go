package engine

import (
	"fmt"
	"strings"

	"github.com/ford-at-home/storygen/session"
)

// Request purposes passed to the generator.
const (
	PurposeDepth = "depth"
	PurposeHooks = "hooks"
	PurposeArc   = "arc"
	PurposeQuote = "quote"
	PurposeCTAs  = "ctas"
	PurposeFinal = "final_story"
)

// Fixed questions asked by the engine itself.
const (
	AnecdoteQuestion = "That's a story worth telling. Can you share a personal moment or experience that connects you to it?"
	FollowUpQuestion = "Tell me more. What made this stand out to you, and who does it affect most?"
)

const persona = "You are a storytelling coach helping someone shape a short, personal story about life in Richmond, Virginia."

func depthPrompt(idea string) string {
	return fmt.Sprintf(`%s

Rate how much story potential this idea already has on a scale from 0 to 5,
where 5 means it is specific, personal and rooted in a place.

Idea: %s

Answer with a single JSON object and nothing else:
{"score": <number 0-5>, "analysis": "<one or two sentences>", "follow_up_question": "<one clarifying question>"}`,
		persona, idea)
}

func hooksPrompt(s *session.Session, retrieved, history string) string {
	return fmt.Sprintf(`%s

Core idea: %s
Personal anecdote: %s

Local context:
%s

Conversation so far:
%s

Write three distinct opening hooks for this story, one per line, labelled exactly:
%s 1: ...
%s 2: ...
%s 3: ...`,
		persona, s.Slots.CoreIdea, s.Slots.PersonalAnecdote, retrieved, history, LabelHook, LabelHook, LabelHook)
}

func arcPrompt(s *session.Session, history string) string {
	return fmt.Sprintf(`%s

Core idea: %s
Personal anecdote: %s
Opening hook: %s

Conversation so far:
%s

Outline the narrative arc of this story in one short paragraph: the setup,
the turning point and what changed.`,
		persona, s.Slots.CoreIdea, s.Slots.PersonalAnecdote, s.Slots.SelectedHook, history)
}

func quotePrompt(s *session.Session) string {
	return fmt.Sprintf(`%s

Narrative arc: %s
Personal anecdote: %s

Write one short, memorable line the storyteller could say in their own voice
to anchor this story. Return only the line.`,
		persona, s.Slots.NarrativeArc, s.Slots.PersonalAnecdote)
}

func ctasPrompt(s *session.Session) string {
	return fmt.Sprintf(`%s

Core idea: %s
Narrative arc: %s

Write three different closing calls to action for this story, one per line, labelled exactly:
%s 1: ...
%s 2: ...
%s 3: ...`,
		persona, s.Slots.CoreIdea, s.Slots.NarrativeArc, LabelCTA, LabelCTA, LabelCTA)
}

func finalPrompt(s *session.Session, history string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nWrite the finished story, 150 to 250 words, first person, ready to record.\n\n", persona)
	fmt.Fprintf(&b, "Open with this hook: %s\n", s.Slots.SelectedHook)
	fmt.Fprintf(&b, "Core idea: %s\n", s.Slots.CoreIdea)
	fmt.Fprintf(&b, "Personal anecdote: %s\n", s.Slots.PersonalAnecdote)
	if s.Slots.NarrativeArc != "" {
		fmt.Fprintf(&b, "Narrative arc: %s\n", s.Slots.NarrativeArc)
	}
	if s.Slots.Quote != "" {
		fmt.Fprintf(&b, "Work in this line: %s\n", s.Slots.Quote)
	}
	fmt.Fprintf(&b, "Close with this call to action: %s\n", s.Slots.SelectedCTA)
	if history != "" {
		fmt.Fprintf(&b, "\nConversation so far:\n%s\n", history)
	}
	return b.String()
}
