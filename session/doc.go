// Package session defines the conversation session data model: the Session
// aggregate, its nine-stage graph, the append-only turn log and the story
// element slots collected along the way.
//
// The package is pure data plus invariant checks. It performs no I/O; the
// store package persists sessions and the engine package mutates them.
//
// # Stages
//
// A session starts at KICKOFF and moves along a fixed directed graph:
//
//	kickoff -> depth_analysis -> (follow_up ->) personal_anecdote
//	        -> hook_generation -> arc_development -> quote_integration
//	        -> cta_generation -> final_story
//
// Session.Advance rejects any move that is not an edge of this graph.
//
// # Turn log
//
// Turns are numbered by insertion order and never removed or reordered.
// ContextWindow renders the tail of the log for prompt building:
//
//	for line := range s.Turns.ContextWindow(6) {
//	    fmt.Println(line) // "user: ..." or "assistant: ..."
//	}
//
// # Concurrency
//
// A Session value is not safe for concurrent mutation. Stores return clones,
// and Version lets the store detect two writers racing on the same id.
package session
