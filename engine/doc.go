// Package engine implements the stage transition engine that walks a story
// session from the first idea to a finished story.
//
// Each exported method is one transition over a *session.Session:
//
//	Start       KICKOFF -> DEPTH_ANALYSIS -> FOLLOW_UP | PERSONAL_ANECDOTE
//	Continue    free-text input at the current stage
//	SelectHook  HOOK_GENERATION -> ARC_DEVELOPMENT -> QUOTE_INTEGRATION -> CTA_GENERATION
//	SelectCTA   CTA_GENERATION -> FINAL_STORY
//	Finalize    FINAL_STORY, status COMPLETED
//
// Depth scoring asks the generator for a JSON verdict and falls back to a
// deterministic heuristic. The branch after scoring is a CEL expression
// (BranchRule), "score >= threshold" by default.
//
// Hook and CTA candidates are parsed from "HOOK 1: ..." style lines and are
// always exactly three; missing entries are padded from DefaultHooks and
// DefaultCTAs.
//
// A failed generation call fails the transition with a collaborator error.
// Slot changes made before the failing call are kept. A failed retrieval is
// replaced by RetrievalSentinel and the transition continues.
package engine
