package secure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ford-at-home/storygen/store"
)

// minRevocationTTL keeps a revocation alive at least as long as a warm L2
// copy could outlive the durable record.
const minRevocationTTL = store.DefaultL2TTL

// RevocationList records revoked session ids. Entries expire once the
// session could no longer resolve anyway.
type RevocationList interface {
	Revoke(ctx context.Context, id string, ttl time.Duration) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// RedisRevocationList keeps revocations as "<prefix>revoked:<id>" keys with
// an expiry, so every process sharing the Redis instance sees them.
type RedisRevocationList struct {
	client *redis.Client
	prefix string
}

// NewRedisRevocationList creates a revocation list on client using
// store.DefaultKeyPrefix.
func NewRedisRevocationList(client *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{client: client, prefix: store.DefaultKeyPrefix}
}

func (r *RedisRevocationList) key(id string) string {
	return r.prefix + "revoked:" + id
}

// Revoke implements RevocationList.
func (r *RedisRevocationList) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(id), time.Now().UTC().Format(time.RFC3339), clampTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("failed to record revocation: %w", err)
	}
	return nil
}

// IsRevoked implements RevocationList.
func (r *RedisRevocationList) IsRevoked(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return n > 0, nil
}

// MemoryRevocationList is a process-local RevocationList for single-node
// deployments and tests.
type MemoryRevocationList struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocationList creates an empty list. A nil now means time.Now.
func NewMemoryRevocationList(now func() time.Time) *MemoryRevocationList {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevocationList{entries: make(map[string]time.Time), now: now}
}

// Revoke implements RevocationList.
func (m *MemoryRevocationList) Revoke(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = m.now().Add(clampTTL(ttl))
	return nil
}

// IsRevoked implements RevocationList.
func (m *MemoryRevocationList) IsRevoked(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.entries[id]
	if !ok {
		return false, nil
	}
	if !m.now().Before(until) {
		delete(m.entries, id)
		return false, nil
	}
	return true, nil
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < minRevocationTTL {
		return minRevocationTTL
	}
	return ttl
}
