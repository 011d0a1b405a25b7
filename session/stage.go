package session

import "fmt"

// Stage is a named step in the fixed conversation state machine.
type Stage string

const (
	StageKickoff          Stage = "kickoff"
	StageDepthAnalysis    Stage = "depth_analysis"
	StageFollowUp         Stage = "follow_up"
	StagePersonalAnecdote Stage = "personal_anecdote"
	StageHookGeneration   Stage = "hook_generation"
	StageArcDevelopment   Stage = "arc_development"
	StageQuoteIntegration Stage = "quote_integration"
	StageCTAGeneration    Stage = "cta_generation"
	StageFinalStory       Stage = "final_story"
)

// Stages lists every stage in conversation order.
var Stages = []Stage{
	StageKickoff,
	StageDepthAnalysis,
	StageFollowUp,
	StagePersonalAnecdote,
	StageHookGeneration,
	StageArcDevelopment,
	StageQuoteIntegration,
	StageCTAGeneration,
	StageFinalStory,
}

// transitions is the directed stage graph. DEPTH_ANALYSIS is the only
// branching node: low-depth ideas detour through FOLLOW_UP.
var transitions = map[Stage][]Stage{
	StageKickoff:          {StageDepthAnalysis},
	StageDepthAnalysis:    {StageFollowUp, StagePersonalAnecdote},
	StageFollowUp:         {StagePersonalAnecdote},
	StagePersonalAnecdote: {StageHookGeneration},
	StageHookGeneration:   {StageArcDevelopment},
	StageArcDevelopment:   {StageQuoteIntegration},
	StageQuoteIntegration: {StageCTAGeneration},
	StageCTAGeneration:    {StageFinalStory},
	StageFinalStory:       nil,
}

// progress maps each stage to the fraction of the conversation completed on
// entering it. Values increase along every path through the graph.
var progress = map[Stage]float64{
	StageKickoff:          0.0,
	StageDepthAnalysis:    0.1,
	StageFollowUp:         0.2,
	StagePersonalAnecdote: 0.3,
	StageHookGeneration:   0.45,
	StageArcDevelopment:   0.6,
	StageQuoteIntegration: 0.7,
	StageCTAGeneration:    0.8,
	StageFinalStory:       0.9,
}

// String implements fmt.Stringer.
func (s Stage) String() string {
	return string(s)
}

// IsValid reports whether s is one of the nine defined stages.
func (s Stage) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// Progress returns the completion fraction associated with s.
func (s Stage) Progress() float64 {
	return progress[s]
}

// Next returns the stages reachable from s in one step.
func (s Stage) Next() []Stage {
	return append([]Stage(nil), transitions[s]...)
}

// CanTransition reports whether to is directly reachable from s.
func (s Stage) CanTransition(to Stage) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStage converts a string into a Stage.
func ParseStage(v string) (Stage, error) {
	s := Stage(v)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown stage %q", v)
	}
	return s, nil
}
