package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotFormat is the current export format version.
const SnapshotFormat = 1

// Snapshot is the portable export form of a session.
type Snapshot struct {
	Format     int       `json:"format"`
	ExportedAt time.Time `json:"exported_at"`
	Session    *Session  `json:"session"`
}

// Export serializes s into a snapshot document.
func Export(s *Session, now time.Time) ([]byte, error) {
	snap := Snapshot{
		Format:     SnapshotFormat,
		ExportedAt: now,
		Session:    s,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// Import parses a snapshot document and validates the session it carries.
// The returned session has Version 0 so it can be saved as a new record.
func Import(data []byte) (*Session, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if snap.Format != SnapshotFormat {
		return nil, fmt.Errorf("unsupported snapshot format %d", snap.Format)
	}
	if snap.Session == nil {
		return nil, fmt.Errorf("snapshot has no session")
	}
	if err := Validate(snap.Session); err != nil {
		return nil, err
	}
	s := snap.Session
	s.Version = 0
	return s, nil
}

// Validate checks the structural invariants of a session decoded from an
// untrusted source.
func Validate(s *Session) error {
	if s.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("invalid status %q", s.Status)
	}
	if !s.Stage.IsValid() {
		return fmt.Errorf("invalid stage %q", s.Stage)
	}
	if n := len(s.Slots.AvailableHooks); n != 0 && n != CandidateCount {
		return fmt.Errorf("expected %d hooks, got %d", CandidateCount, n)
	}
	if n := len(s.Slots.AvailableCTAs); n != 0 && n != CandidateCount {
		return fmt.Errorf("expected %d CTAs, got %d", CandidateCount, n)
	}
	for _, t := range s.Turns.turns {
		if !t.Stage.IsValid() {
			return fmt.Errorf("turn %d has invalid stage %q", t.Number, t.Stage)
		}
	}
	return nil
}
