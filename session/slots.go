package session

import "encoding/json"

// CandidateCount is the number of hook and CTA candidates a session offers.
const CandidateCount = 3

// Slots holds the story elements accumulated across turns. Only the stage
// transition engine writes them; fields are set once and then stay stable,
// except the candidate lists.
type Slots struct {
	CoreIdea         string          `json:"core_idea,omitempty"`
	DepthScore       *float64        `json:"depth_score,omitempty"`
	DepthAnalysis    json.RawMessage `json:"depth_analysis,omitempty"`
	PersonalAnecdote string          `json:"personal_anecdote,omitempty"`
	AvailableHooks   []string        `json:"available_hooks,omitempty"`
	SelectedHook     string          `json:"selected_hook,omitempty"`
	NarrativeArc     string          `json:"narrative_arc,omitempty"`
	Quote            string          `json:"quote,omitempty"`
	AvailableCTAs    []string        `json:"available_ctas,omitempty"`
	SelectedCTA      string          `json:"selected_cta,omitempty"`
	FinalText        string          `json:"final_text,omitempty"`
}

// Presence reports which slots are populated without exposing their content.
type Presence struct {
	CoreIdea         bool `json:"core_idea"`
	DepthScore       bool `json:"depth_score"`
	PersonalAnecdote bool `json:"personal_anecdote"`
	Hooks            bool `json:"hooks"`
	SelectedHook     bool `json:"selected_hook"`
	NarrativeArc     bool `json:"narrative_arc"`
	Quote            bool `json:"quote"`
	CTAs             bool `json:"ctas"`
	SelectedCTA      bool `json:"selected_cta"`
	FinalText        bool `json:"final_text"`
}

// Presence returns the populated-slot flags.
func (s *Slots) Presence() Presence {
	return Presence{
		CoreIdea:         s.CoreIdea != "",
		DepthScore:       s.DepthScore != nil,
		PersonalAnecdote: s.PersonalAnecdote != "",
		Hooks:            len(s.AvailableHooks) > 0,
		SelectedHook:     s.SelectedHook != "",
		NarrativeArc:     s.NarrativeArc != "",
		Quote:            s.Quote != "",
		CTAs:             len(s.AvailableCTAs) > 0,
		SelectedCTA:      s.SelectedCTA != "",
		FinalText:        s.FinalText != "",
	}
}

// MissingForFinal lists the slots that must be populated before the final
// story can be assembled, in a stable order.
func (s *Slots) MissingForFinal() []string {
	var missing []string
	if s.CoreIdea == "" {
		missing = append(missing, "core_idea")
	}
	if s.PersonalAnecdote == "" {
		missing = append(missing, "personal_anecdote")
	}
	if s.SelectedHook == "" {
		missing = append(missing, "selected_hook")
	}
	if s.SelectedCTA == "" {
		missing = append(missing, "selected_cta")
	}
	return missing
}

func (s Slots) clone() Slots {
	out := s
	if s.DepthScore != nil {
		v := *s.DepthScore
		out.DepthScore = &v
	}
	if s.DepthAnalysis != nil {
		out.DepthAnalysis = append(json.RawMessage(nil), s.DepthAnalysis...)
	}
	if s.AvailableHooks != nil {
		out.AvailableHooks = append([]string(nil), s.AvailableHooks...)
	}
	if s.AvailableCTAs != nil {
		out.AvailableCTAs = append([]string(nil), s.AvailableCTAs...)
	}
	return out
}
