package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ford-at-home/storygen/session"
	"github.com/ford-at-home/storygen/storyerr"
)

const instrumentationName = "github.com/ford-at-home/storygen/store"

// DefaultInactivityTimeout is how long an ACTIVE session may sit idle before
// a read reports it EXPIRED.
const DefaultInactivityTimeout = 30 * time.Minute

// Store is the tiered session store: a process-local L1, any number of
// shared cache tiers, and a durable Repository.
//
// Reads are cache-aside. Writes go through every tier in order; the
// repository decides the outcome and masked tiers only log failures.
type Store struct {
	l1         *MemoryTier
	caches     []layer
	repo       Repository
	inactivity time.Duration
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer
	hits       metric.Int64Counter
	misses     metric.Int64Counter
	group      singleflight.Group

	l1TTL time.Duration
	meter metric.Meter
}

// Option configures a Store.
type Option func(*Store)

// WithCache appends a shared cache tier whose failures are logged and
// tolerated.
func WithCache(t Tier) Option {
	return WithCachePolicy(t, PolicyMasked)
}

// WithCachePolicy appends a cache tier with an explicit failure policy.
func WithCachePolicy(t Tier, p Policy) Option {
	return func(s *Store) {
		s.caches = append(s.caches, layer{tier: t, policy: p})
	}
}

// WithL1TTL sets the process-local entry lifetime.
func WithL1TTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.l1TTL = ttl
	}
}

// WithInactivityTimeout sets the idle time after which reads report an
// ACTIVE session as EXPIRED. Zero disables the check.
func WithInactivityTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.inactivity = d
	}
}

// WithClock overrides time.Now for every tier the store creates.
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

// WithTracer sets the tracer for store spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) {
		s.tracer = tracer
	}
}

// WithMeter sets the meter for tier hit and miss counters.
func WithMeter(meter metric.Meter) Option {
	return func(s *Store) {
		s.meter = meter
	}
}

// New creates a Store over repo.
func New(repo Repository, opts ...Option) *Store {
	s := &Store{
		repo:       repo,
		inactivity: DefaultInactivityTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "store")
	if s.tracer == nil {
		s.tracer = otel.Tracer(instrumentationName)
	}
	if s.meter == nil {
		s.meter = otel.Meter(instrumentationName)
	}
	s.l1 = NewMemoryTier(s.l1TTL, s.now)

	var err error
	if s.hits, err = s.meter.Int64Counter("storygen.store.tier.hits",
		metric.WithDescription("Session reads served by a tier")); err != nil {
		s.logger.Warn("failed to create hit counter", "error", err)
	}
	if s.misses, err = s.meter.Int64Counter("storygen.store.tier.misses",
		metric.WithDescription("Session reads a tier could not serve")); err != nil {
		s.logger.Warn("failed to create miss counter", "error", err)
	}

	return s
}

// Repository returns the durable tier.
func (s *Store) Repository() Repository {
	return s.repo
}

// Tiers returns every tier in read order, durable tier last.
func (s *Store) Tiers() []Tier {
	out := []Tier{s.l1}
	for _, c := range s.caches {
		out = append(out, c.tier)
	}
	return append(out, s.repo)
}

func (s *Store) count(ctx context.Context, c metric.Int64Counter, tier string) {
	if c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
	}
}

func (s *Store) startSpan(ctx context.Context, op, id string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("session.id", id)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Get returns the session with the given id. A session idle past the
// inactivity timeout comes back EXPIRED; the new status is written back on a
// best-effort basis. Unknown ids return a not-found error.
func (s *Store) Get(ctx context.Context, id string) (sess *session.Session, err error) {
	const op = "Store.Get"
	ctx, span := s.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()

	if id == "" {
		return nil, storyerr.Validation(op, "session id is required")
	}

	sess, err = s.l1.Get(ctx, id)
	if err == nil {
		s.count(ctx, s.hits, s.l1.Name())
	} else {
		s.count(ctx, s.misses, s.l1.Name())
		v, err, _ := s.group.Do(id, func() (any, error) {
			return s.load(ctx, op, id)
		})
		if err != nil {
			return nil, err
		}
		sess = v.(*session.Session).Clone()
	}

	return s.checkExpiry(ctx, sess), nil
}

// load reads below L1 and backfills every tier above the one that hit.
func (s *Store) load(ctx context.Context, op, id string) (*session.Session, error) {
	for i, c := range s.caches {
		found, err := c.tier.Get(ctx, id)
		if err == nil {
			s.count(ctx, s.hits, c.tier.Name())
			s.backfill(ctx, found, s.caches[:i])
			return found, nil
		}
		s.count(ctx, s.misses, c.tier.Name())
		if !errors.Is(err, ErrTierMiss) {
			if c.policy == PolicyRequired {
				return nil, storyerr.Storage(op, err)
			}
			s.logger.Warn("cache read failed", "tier", c.tier.Name(), "session_id", id, "error", err)
		}
	}

	found, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrTierMiss) {
		s.count(ctx, s.misses, s.repo.Name())
		return nil, storyerr.NotFound(op, id)
	}
	if err != nil {
		return nil, storyerr.Storage(op, err)
	}
	s.count(ctx, s.hits, s.repo.Name())
	s.backfill(ctx, found, s.caches)
	return found, nil
}

func (s *Store) backfill(ctx context.Context, sess *session.Session, caches []layer) {
	for _, c := range caches {
		if err := c.tier.Set(ctx, sess); err != nil {
			s.logger.Warn("cache backfill failed", "tier", c.tier.Name(), "session_id", sess.ID, "error", err)
		}
	}
	if err := s.l1.Set(ctx, sess); err != nil && !errors.Is(err, storyerr.ErrVersionConflict) {
		s.logger.Warn("cache backfill failed", "tier", s.l1.Name(), "session_id", sess.ID, "error", err)
	}
}

func (s *Store) checkExpiry(ctx context.Context, sess *session.Session) *session.Session {
	if !sess.ExpireIfIdle(s.now(), s.inactivity) {
		return sess
	}

	s.logger.Info("session expired on read", "session_id", sess.ID, "idle", sess.IdleFor(s.now()))

	expired := sess.Clone()
	if err := s.Save(ctx, expired); err != nil {
		s.logger.Warn("failed to persist expiry", "session_id", sess.ID, "error", err)
		return sess
	}
	return expired
}

// Save writes sess through every tier. sess.Version must be the version it
// was read at; on success it is incremented in place. A stale copy fails
// with storyerr.ErrVersionConflict and the cached copies are dropped so the
// next read sees the durable one.
//
// Once L1 accepts the write, it keeps it even if the durable write fails
// for a reason other than a conflict.
func (s *Store) Save(ctx context.Context, sess *session.Session) (err error) {
	const op = "Store.Save"
	if sess == nil || sess.ID == "" {
		return storyerr.Validation(op, "session with an id is required")
	}

	ctx, span := s.startSpan(ctx, op, sess.ID)
	defer func() { endSpan(span, err) }()

	next := sess.Clone()
	next.Version = sess.Version + 1

	if err := s.l1.Set(ctx, next); err != nil {
		return storyerr.StateConflict(op, err).WithContext(map[string]any{"session_id": sess.ID})
	}

	for _, c := range s.caches {
		if err := c.tier.Set(ctx, next); err != nil {
			if c.policy == PolicyRequired {
				return storyerr.Storage(op, err)
			}
			s.logger.Warn("cache write failed", "tier", c.tier.Name(), "session_id", sess.ID, "error", err)
		}
	}

	if err := s.repo.Set(ctx, next); err != nil {
		if errors.Is(err, storyerr.ErrVersionConflict) {
			s.invalidate(ctx, sess.ID)
			return storyerr.StateConflict(op, err).WithContext(map[string]any{"session_id": sess.ID})
		}
		s.logger.Error("durable write failed", "session_id", sess.ID, "error", err)
		return storyerr.Storage(op, err)
	}

	sess.Version = next.Version
	return nil
}

// invalidate drops cached copies of id from every cache tier.
func (s *Store) invalidate(ctx context.Context, id string) {
	_ = s.l1.Delete(ctx, id)
	for _, c := range s.caches {
		if err := c.tier.Delete(ctx, id); err != nil {
			s.logger.Warn("cache invalidation failed", "tier", c.tier.Name(), "session_id", id, "error", err)
		}
	}
}

// Delete removes the session from every tier. Deleting an unknown id is not
// an error.
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	const op = "Store.Delete"
	ctx, span := s.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()

	s.invalidate(ctx, id)
	if err := s.repo.Delete(ctx, id); err != nil {
		return storyerr.Storage(op, err)
	}
	return nil
}

// ListActive returns up to limit ACTIVE sessions, oldest first, straight
// from the durable tier. Sessions already idle past the inactivity timeout
// are left out. Results warm the caches.
func (s *Store) ListActive(ctx context.Context, limit int) (out []*session.Session, err error) {
	const op = "Store.ListActive"
	ctx, span := s.tracer.Start(ctx, op)
	defer func() { endSpan(span, err) }()

	// Idle sessions are filtered after the query, so the limit is applied here.
	found, err := s.repo.ListByStatus(ctx, session.StatusActive, 0)
	if err != nil {
		return nil, storyerr.Storage(op, err)
	}

	now := s.now()
	out = make([]*session.Session, 0, len(found))
	for _, sess := range found {
		if limit > 0 && len(out) == limit {
			break
		}
		if s.inactivity > 0 && sess.IdleFor(now) > s.inactivity {
			continue
		}
		s.backfill(ctx, sess, s.caches)
		out = append(out, sess)
	}
	return out, nil
}

// ListByOwner returns every session created by ownerID, oldest first.
// Idle sessions are reported EXPIRED without being written back.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) (out []*session.Session, err error) {
	const op = "Store.ListByOwner"
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("owner.id", ownerID)))
	defer func() { endSpan(span, err) }()

	found, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, storyerr.Storage(op, err)
	}
	for _, sess := range found {
		s.backfill(ctx, sess, s.caches)
		sess.ExpireIfIdle(s.now(), s.inactivity)
	}
	return found, nil
}

// Turns returns up to limit turns of session id with ordinal greater than
// after, read from the durable tier's turn records.
func (s *Store) Turns(ctx context.Context, id string, after, limit int) ([]session.Turn, error) {
	const op = "Store.Turns"
	turns, err := s.repo.Turns(ctx, id, after, limit)
	if err != nil {
		return nil, storyerr.Storage(op, err)
	}
	return turns, nil
}

// ExpireIdle marks every ACTIVE session idle longer than timeout as EXPIRED
// and returns how many it changed. Sessions that were saved concurrently are
// skipped.
func (s *Store) ExpireIdle(ctx context.Context, timeout time.Duration) (int, error) {
	const op = "Store.ExpireIdle"
	found, err := s.repo.ListByStatus(ctx, session.StatusActive, 0)
	if err != nil {
		return 0, storyerr.Storage(op, err)
	}

	now := s.now()
	expired := 0
	for _, sess := range found {
		if !sess.ExpireIfIdle(now, timeout) {
			continue
		}
		if err := s.Save(ctx, sess); err != nil {
			if errors.Is(err, storyerr.ErrVersionConflict) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// Purge removes durable records past their durability window.
func (s *Store) Purge(ctx context.Context) (int, error) {
	n, err := s.repo.Purge(ctx, s.now())
	if err != nil {
		return 0, storyerr.Storage("Store.Purge", err)
	}
	return n, nil
}

// Close closes the durable tier.
func (s *Store) Close() error {
	return s.repo.Close()
}
