package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType is the value of the entity_type index column for sessions.
const EntityType = "story_session"

// Counters track collaborator calls made on behalf of a session.
// Both only ever increase.
type Counters struct {
	Generations int `json:"generation_calls"`
	Retrievals  int `json:"retrieval_calls"`
}

// Binding ties a session to the client that created it.
type Binding struct {
	RemoteAddr  string    `json:"remote_addr"`
	UserAgent   string    `json:"user_agent"`
	AddrChanges int       `json:"addr_changes"`
	BoundAt     time.Time `json:"bound_at"`
}

// Session is the aggregate persisted by the store: identity, lifecycle,
// the turn log and the accumulated slots.
//
// Version is the optimistic concurrency counter. It is the version the copy
// was read at; a successful save increments it.
type Session struct {
	ID             string    `json:"session_id"`
	OwnerID        string    `json:"owner_id,omitempty"`
	Status         Status    `json:"status"`
	Stage          Stage     `json:"stage"`
	Turns          TurnLog   `json:"turn_log"`
	Slots          Slots     `json:"slots"`
	Counters       Counters  `json:"counters"`
	Binding        *Binding  `json:"binding,omitempty"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// New creates an ACTIVE session at KICKOFF with a fresh time-ordered id.
func New(ownerID string, now time.Time) *Session {
	return &Session{
		ID:             uuid.Must(uuid.NewV7()).String(),
		OwnerID:        ownerID,
		Status:         StatusActive,
		Stage:          StageKickoff,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
}

// Touch refreshes the mutation timestamps.
func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now
	s.LastActivityAt = now
}

// AppendTurn appends a turn at the current stage and returns its ordinal.
func (s *Session) AppendTurn(userInput, response string, contextTags []string, now time.Time) int {
	n := s.Turns.Append(s.Stage, userInput, response, contextTags, now)
	s.Touch(now)
	return n
}

// Advance moves the session to the next stage. Moving to the current stage
// is a no-op; any other move must follow the stage graph.
func (s *Session) Advance(to Stage) error {
	if s.Stage == to {
		return nil
	}
	if !s.Stage.CanTransition(to) {
		return fmt.Errorf("cannot move from stage %s to %s", s.Stage, to)
	}
	s.Stage = to
	return nil
}

// SetStatus moves the session to a terminal status.
func (s *Session) SetStatus(to Status, now time.Time) error {
	if s.Status == to {
		return nil
	}
	if !s.Status.CanTransition(to) {
		return fmt.Errorf("cannot move from status %s to %s", s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = now
	return nil
}

// IdleFor returns how long the session has been inactive at now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}

// ExpireIfIdle marks an ACTIVE session EXPIRED when it has been idle longer
// than timeout. It reports whether the status changed. A non-positive
// timeout disables the check.
func (s *Session) ExpireIfIdle(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 || s.Status != StatusActive {
		return false
	}
	if s.IdleFor(now) <= timeout {
		return false
	}
	s.Status = StatusExpired
	return true
}

// Clone returns a deep copy. Stores hand out clones so callers never alias
// cached state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Turns = s.Turns.clone()
	out.Slots = s.Slots.clone()
	if s.Binding != nil {
		b := *s.Binding
		out.Binding = &b
	}
	return &out
}

// Progress returns the completion fraction for the session.
func (s *Session) Progress() float64 {
	if s.Status == StatusCompleted {
		return 1.0
	}
	return s.Stage.Progress()
}
