package store

import (
	"context"
	"time"

	"github.com/ford-at-home/storygen/session"
	"github.com/ford-at-home/storygen/storyerr"
)

// ErrTierMiss is returned by Tier.Get when the session is absent or aged out.
var ErrTierMiss = storyerr.ErrTierMiss

// Tier is one level of the session hierarchy.
//
// Get returns ErrTierMiss when the id is absent. Set receives the session at
// its new version (the version it will have once the save succeeds); tiers
// that track versions return storyerr.ErrVersionConflict when they already
// hold a newer one. Implementations must not retain or hand out the caller's
// pointer.
type Tier interface {
	Name() string
	Get(ctx context.Context, id string) (*session.Session, error)
	Set(ctx context.Context, s *session.Session) error
	Delete(ctx context.Context, id string) error
}

// Policy decides what a tier failure means for the operation.
type Policy int

const (
	// PolicyMasked logs the failure and falls through to the next tier.
	PolicyMasked Policy = iota

	// PolicyRequired fails the operation.
	PolicyRequired
)

// String returns the policy name.
func (p Policy) String() string {
	if p == PolicyRequired {
		return "required"
	}
	return "masked"
}

type layer struct {
	tier   Tier
	policy Policy
}

// Repository is the durable tier. On top of the Tier contract it serves the
// index queries and turn range reads that bypass the caches.
type Repository interface {
	Tier

	// ListByStatus returns sessions with the given status, oldest first.
	// A non-positive limit means no limit.
	ListByStatus(ctx context.Context, status session.Status, limit int) ([]*session.Session, error)

	// ListByOwner returns every session created by ownerID, oldest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*session.Session, error)

	// Turns returns up to limit turns with ordinal greater than after, in
	// order. A non-positive limit means no limit.
	Turns(ctx context.Context, id string, after, limit int) ([]session.Turn, error)

	// Purge deletes records whose durability window ended before now and
	// returns how many were removed.
	Purge(ctx context.Context, now time.Time) (int, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	Close() error
}
