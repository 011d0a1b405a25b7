package store

import (
	"context"
	"sync"
	"time"

	"github.com/ford-at-home/storygen/session"
	"github.com/ford-at-home/storygen/storyerr"
)

// DefaultL1TTL is how long the process-local tier keeps an entry.
const DefaultL1TTL = 5 * time.Minute

type memoryEntry struct {
	session  *session.Session
	storedAt time.Time
}

// MemoryTier is the process-local L1 tier. Entries age out on access; there
// is no background timer. It stores and returns clones.
type MemoryTier struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryTier creates an L1 tier. A non-positive ttl means DefaultL1TTL.
func NewMemoryTier(ttl time.Duration, now func() time.Time) *MemoryTier {
	if ttl <= 0 {
		ttl = DefaultL1TTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryTier{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     now,
	}
}

// Name implements Tier.
func (m *MemoryTier) Name() string { return "l1" }

// Get implements Tier.
func (m *MemoryTier) Get(_ context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrTierMiss
	}
	if m.now().Sub(e.storedAt) > m.ttl {
		m.mu.Lock()
		if cur, ok := m.entries[id]; ok && cur.storedAt.Equal(e.storedAt) {
			delete(m.entries, id)
		}
		m.mu.Unlock()
		return nil, ErrTierMiss
	}
	return e.session.Clone(), nil
}

// Set implements Tier. It rejects a session older than the cached copy;
// rewriting the same version is allowed so a failed save can be retried.
func (m *MemoryTier) Set(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.entries[s.ID]; ok && m.now().Sub(cur.storedAt) <= m.ttl {
		if cur.session.Version > s.Version {
			return storyerr.ErrVersionConflict
		}
	}
	m.entries[s.ID] = memoryEntry{session: s.Clone(), storedAt: m.now()}
	return nil
}

// Delete implements Tier.
func (m *MemoryTier) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Len returns the number of entries, including ones that have aged out but
// were not accessed since.
func (m *MemoryTier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
