package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ford-at-home/storygen/storyerr"
)

func TestMemoryTier_AgesOutOnAccess(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	tier := NewMemoryTier(5*time.Minute, c.Now)

	s := newSession("owner-1", c.Now())
	s.Version = 1
	require.NoError(t, tier.Set(ctx, s))

	c.Advance(5 * time.Minute)
	got, err := tier.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	c.Advance(time.Second)
	_, err = tier.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrTierMiss)
	assert.Equal(t, 0, tier.Len())
}

func TestMemoryTier_Versions(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	tier := NewMemoryTier(0, c.Now)

	s := newSession("owner-1", c.Now())
	s.Version = 2
	require.NoError(t, tier.Set(ctx, s))

	t.Run("same version rewrites", func(t *testing.T) {
		again := s.Clone()
		again.Slots.Quote = "retry"
		require.NoError(t, tier.Set(ctx, again))

		got, err := tier.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, "retry", got.Slots.Quote)
	})

	t.Run("older version conflicts", func(t *testing.T) {
		stale := s.Clone()
		stale.Version = 1
		assert.ErrorIs(t, tier.Set(ctx, stale), storyerr.ErrVersionConflict)
	})

	t.Run("aged out entry does not block", func(t *testing.T) {
		c.Advance(DefaultL1TTL + time.Second)
		stale := s.Clone()
		stale.Version = 1
		assert.NoError(t, tier.Set(ctx, stale))
	})
}

func TestMemoryTier_ReturnsClones(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	tier := NewMemoryTier(0, c.Now)

	s := newSession("owner-1", c.Now())
	require.NoError(t, tier.Set(ctx, s))
	s.Slots.CoreIdea = "mutated after set"

	got, err := tier.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated after set", got.Slots.CoreIdea)

	got.AppendTurn("x", "y", nil, c.Now())
	again, err := tier.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Turns.Len())

	require.NoError(t, tier.Delete(ctx, s.ID))
	_, err = tier.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrTierMiss)
}
