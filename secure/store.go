package secure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ford-at-home/storygen/session"
	"github.com/ford-at-home/storygen/store"
	"github.com/ford-at-home/storygen/storyerr"
)

// DefaultMaxSessionsPerOwner caps concurrently ACTIVE sessions per owner.
const DefaultMaxSessionsPerOwner = 5

// Store wraps a tiered store with client binding, a per-owner session cap
// and a revocation list. Encryption at rest is configured on the tiers with
// Codec; the wrapper only sees plaintext sessions.
//
// The revocation list is consulted before every read and write. A revoked
// id reads as not found even while L1 or L2 still hold it.
type Store struct {
	inner          *store.Store
	revoked        RevocationList
	maxPerOwner    int
	maxAddrChanges int
	retention      time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSessionsPerOwner sets the per-owner cap. Zero disables it.
func WithMaxSessionsPerOwner(n int) Option {
	return func(s *Store) {
		s.maxPerOwner = n
	}
}

// WithMaxAddrChanges sets how many address changes a session tolerates.
func WithMaxAddrChanges(n int) Option {
	return func(s *Store) {
		s.maxAddrChanges = n
	}
}

// WithRetention sets the durability window used to size revocation entries.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger. A nil logger means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New wraps inner.
func New(inner *store.Store, revoked RevocationList, opts ...Option) *Store {
	s := &Store{
		inner:          inner,
		revoked:        revoked,
		maxPerOwner:    DefaultMaxSessionsPerOwner,
		maxAddrChanges: DefaultMaxAddrChanges,
		retention:      store.DefaultRetention,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "secure")
	return s
}

// Inner returns the wrapped store.
func (s *Store) Inner() *store.Store {
	return s.inner
}

func (s *Store) checkRevoked(ctx context.Context, op, id string) error {
	revoked, err := s.revoked.IsRevoked(ctx, id)
	if err != nil {
		return storyerr.Storage(op, err)
	}
	if revoked {
		return storyerr.Revoked(op, id)
	}
	return nil
}

// Get returns the session after checking the revocation list and, when ctx
// carries a client fingerprint, the session binding. An address change is
// saved before returning; a user agent change or too many address changes
// revoke the session.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	const op = "SecureStore.Get"
	if err := s.checkRevoked(ctx, op, id); err != nil {
		return nil, err
	}

	sess, err := s.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	fp, ok := ClientFrom(ctx)
	if !ok {
		return sess, nil
	}

	switch Check(sess, fp, s.maxAddrChanges) {
	case VerdictAddrChanged:
		s.logger.InfoContext(ctx, "client address changed",
			"session_id", id,
			"addr_changes", sess.Binding.AddrChanges,
		)
		if err := s.inner.Save(ctx, sess); err != nil {
			return nil, err
		}
		return sess, nil
	case VerdictRevoke:
		if err := s.revoke(ctx, sess, "fingerprint mismatch"); err != nil {
			return nil, err
		}
		return nil, storyerr.Permission(op, fmt.Errorf("%w: %w", storyerr.ErrFingerprintMismatch, storyerr.ErrSessionRevoked)).
			WithContext(map[string]any{"session_id": id})
	default:
		return sess, nil
	}
}

// Save writes sess. A session that was never saved is bound to the client
// in ctx and counted against its owner's cap first; if the owner is at the
// cap, their oldest ACTIVE session is abandoned and revoked.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	const op = "SecureStore.Save"
	if sess == nil {
		return storyerr.Validation(op, "session is required")
	}
	if err := s.checkRevoked(ctx, op, sess.ID); err != nil {
		return err
	}

	if sess.Version == 0 {
		if fp, ok := ClientFrom(ctx); ok && sess.Binding == nil {
			Bind(sess, fp, s.now())
		}
		if sess.OwnerID != "" && sess.Status == session.StatusActive {
			if err := s.enforceCap(ctx, sess); err != nil {
				return err
			}
		}
	}

	return s.inner.Save(ctx, sess)
}

func (s *Store) enforceCap(ctx context.Context, incoming *session.Session) error {
	if s.maxPerOwner <= 0 {
		return nil
	}

	owned, err := s.inner.ListByOwner(ctx, incoming.OwnerID)
	if err != nil {
		return err
	}

	active := make([]*session.Session, 0, len(owned))
	for _, o := range owned {
		if o.ID == incoming.ID || o.Status != session.StatusActive {
			continue
		}
		if revoked, err := s.revoked.IsRevoked(ctx, o.ID); err != nil {
			return storyerr.Storage("SecureStore.Save", err)
		} else if revoked {
			continue
		}
		active = append(active, o)
	}
	slices.SortStableFunc(active, func(a, b *session.Session) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	for len(active) >= s.maxPerOwner {
		oldest := active[0]
		active = active[1:]
		if err := s.evict(ctx, oldest); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) evict(ctx context.Context, sess *session.Session) error {
	if err := sess.SetStatus(session.StatusAbandoned, s.now()); err != nil {
		return storyerr.StateConflict("SecureStore.Save", err)
	}
	if err := s.inner.Save(ctx, sess); err != nil {
		// The revocation below still makes the session unreachable.
		s.logger.WarnContext(ctx, "failed to abandon evicted session", "session_id", sess.ID, "error", err)
	}
	return s.revoke(ctx, sess, "owner session cap")
}

func (s *Store) revoke(ctx context.Context, sess *session.Session, reason string) error {
	ttl := sess.LastActivityAt.Add(s.retention).Sub(s.now())
	if err := s.revoked.Revoke(ctx, sess.ID, ttl); err != nil {
		return storyerr.Storage("SecureStore.Revoke", err)
	}

	attrs := []any{"session_id", sess.ID, "owner_id", sess.OwnerID, "reason", reason}
	if sess.Binding != nil {
		attrs = append(attrs, "client", Fingerprint{UserAgent: sess.Binding.UserAgent}.Hash())
	}
	s.logger.WarnContext(ctx, "session revoked", attrs...)
	return nil
}

// Revoke adds id to the revocation list for the rest of its durability
// window. Revoking an unknown id still records it.
func (s *Store) Revoke(ctx context.Context, id string) error {
	sess, err := s.inner.Get(ctx, id)
	if errors.Is(err, storyerr.ErrSessionNotFound) {
		sess = &session.Session{ID: id, LastActivityAt: s.now()}
	} else if err != nil {
		return err
	}
	return s.revoke(ctx, sess, "administrative")
}

// Delete removes the session from every tier. Revocations are kept.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.inner.Delete(ctx, id)
}

// ListActive returns up to limit ACTIVE sessions that are not revoked.
func (s *Store) ListActive(ctx context.Context, limit int) ([]*session.Session, error) {
	found, err := s.inner.ListActive(ctx, 0)
	if err != nil {
		return nil, err
	}
	return s.filterRevoked(ctx, "SecureStore.ListActive", found, limit)
}

// ListByOwner returns the owner's sessions that are not revoked.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*session.Session, error) {
	found, err := s.inner.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.filterRevoked(ctx, "SecureStore.ListByOwner", found, 0)
}

func (s *Store) filterRevoked(ctx context.Context, op string, found []*session.Session, limit int) ([]*session.Session, error) {
	out := make([]*session.Session, 0, len(found))
	for _, sess := range found {
		if limit > 0 && len(out) == limit {
			break
		}
		revoked, err := s.revoked.IsRevoked(ctx, sess.ID)
		if err != nil {
			return nil, storyerr.Storage(op, err)
		}
		if !revoked {
			out = append(out, sess)
		}
	}
	return out, nil
}

// Turns returns turns of a session that is not revoked.
func (s *Store) Turns(ctx context.Context, id string, after, limit int) ([]session.Turn, error) {
	if err := s.checkRevoked(ctx, "SecureStore.Turns", id); err != nil {
		return nil, err
	}
	return s.inner.Turns(ctx, id, after, limit)
}
