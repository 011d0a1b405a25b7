package session

import "time"

// Summary is a content-free view of a session: lifecycle, stage, turn count
// and which slots are populated.
type Summary struct {
	SessionID      string    `json:"session_id"`
	Status         Status    `json:"status"`
	Stage          Stage     `json:"stage"`
	TurnCount      int       `json:"turn_count"`
	Progress       float64   `json:"progress"`
	Elements       Presence  `json:"elements"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Summarize builds the Summary for s.
func Summarize(s *Session) Summary {
	return Summary{
		SessionID:      s.ID,
		Status:         s.Status,
		Stage:          s.Stage,
		TurnCount:      s.Turns.Len(),
		Progress:       s.Progress(),
		Elements:       s.Slots.Presence(),
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
	}
}
