package session

import "fmt"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
	StatusExpired   Status = "expired"
)

// Statuses lists every status.
var Statuses = []Status{StatusActive, StatusCompleted, StatusAbandoned, StatusExpired}

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusAbandoned, StatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s admits no further transitions.
func (s Status) IsTerminal() bool {
	return s != StatusActive
}

// CanTransition reports whether a session in status s may move to to.
// Only ACTIVE sessions transition, and only to a terminal status.
func (s Status) CanTransition(to Status) bool {
	return s == StatusActive && to.IsValid() && to != StatusActive
}

// ParseStatus converts a string into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown status %q", v)
	}
	return s, nil
}
