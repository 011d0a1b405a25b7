package engine

import "github.com/ford-at-home/storygen/session"

// Kind tells the caller what the response expects next.
type Kind string

const (
	KindQuestion      Kind = "question"
	KindSelection     Kind = "selection"
	KindReadyForFinal Kind = "ready_for_final"
	KindInstruction   Kind = "instruction"
)

// Next-action hints.
const (
	ActionAnswer     = "answer"
	ActionSelectHook = "select_hook"
	ActionSelectCTA  = "select_cta"
	ActionFinalize   = "finalize"
	ActionDone       = "done"
)

// Response is the envelope returned by every transition.
type Response struct {
	Message    string        `json:"message"`
	Kind       Kind          `json:"kind"`
	Options    []string      `json:"options,omitempty"`
	Progress   float64       `json:"progress"`
	NextAction string        `json:"next_action"`
	Stage      session.Stage `json:"stage"`
}

func respond(s *session.Session, kind Kind, msg, next string, options []string) Response {
	var opts []string
	if len(options) > 0 {
		opts = append([]string(nil), options...)
	}
	return Response{
		Message:    msg,
		Kind:       kind,
		Options:    opts,
		Progress:   s.Progress(),
		NextAction: next,
		Stage:      s.Stage,
	}
}
