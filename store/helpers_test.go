package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ford-at-home/storygen/session"
)

var testNow = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

// clock is a manually advanced time source shared by a store and its tiers.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: testNow} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newSession(owner string, now time.Time) *session.Session {
	s := session.New(owner, now)
	s.Slots.CoreIdea = "A bakery in Church Hill that only opens at midnight"
	s.AppendTurn("A bakery in Church Hill that only opens at midnight", "How deep does this go?", nil, now)
	return s
}

func newSQLite(t *testing.T, c *clock) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(SQLiteOptions{
		Path: filepath.Join(t.TempDir(), "sessions.db"),
		Now:  c.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

var errInjected = errors.New("injected failure")

// faultyTier is an in-memory tier whose operations can be made to fail.
type faultyTier struct {
	name string
	mem  *MemoryTier

	failGet atomic.Bool
	failSet atomic.Bool
	gets    atomic.Int32
	sets    atomic.Int32
}

func newFaultyTier(name string, c *clock) *faultyTier {
	return &faultyTier{name: name, mem: NewMemoryTier(time.Hour, c.Now)}
}

func (f *faultyTier) Name() string { return f.name }

func (f *faultyTier) Get(ctx context.Context, id string) (*session.Session, error) {
	f.gets.Add(1)
	if f.failGet.Load() {
		return nil, errInjected
	}
	return f.mem.Get(ctx, id)
}

func (f *faultyTier) Set(ctx context.Context, s *session.Session) error {
	f.sets.Add(1)
	if f.failSet.Load() {
		return errInjected
	}
	return f.mem.Set(ctx, s)
}

func (f *faultyTier) Delete(ctx context.Context, id string) error {
	return f.mem.Delete(ctx, id)
}

// faultyRepo wraps a repository to inject durable write failures and count
// reads.
type faultyRepo struct {
	Repository
	failSet atomic.Bool
	gets    atomic.Int32
	block   chan struct{}
}

func (r *faultyRepo) Get(ctx context.Context, id string) (*session.Session, error) {
	r.gets.Add(1)
	if r.block != nil {
		<-r.block
	}
	return r.Repository.Get(ctx, id)
}

func (r *faultyRepo) Set(ctx context.Context, s *session.Session) error {
	if r.failSet.Load() {
		return errInjected
	}
	return r.Repository.Set(ctx, s)
}
