package storygen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ford-at-home/storygen/engine"
	"github.com/ford-at-home/storygen/llm"
	"github.com/ford-at-home/storygen/session"
	"github.com/ford-at-home/storygen/storyerr"
)

const instrumentationName = "github.com/ford-at-home/storygen"

// SessionStore is the persistence contract the service needs. Both
// store.Store and secure.Store satisfy it.
type SessionStore interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
	Delete(ctx context.Context, id string) error
	ListActive(ctx context.Context, limit int) ([]*session.Session, error)
	Turns(ctx context.Context, id string, after, limit int) ([]session.Turn, error)
}

// Reply is what every conversational operation returns.
type Reply struct {
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`
	FinalText string         `json:"final_text,omitempty"`
	engine.Response
}

// Service runs story sessions: every operation loads the session, applies
// one engine transition and writes the session back before replying.
//
// Concurrent operations on the same session are detected, not serialized:
// the losing save fails with ErrVersionConflict and can be retried.
type Service struct {
	engine *engine.Engine
	store  SessionStore
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// New creates a Service. The generator and store are required; a nil
// retriever makes every retrieval fall back to the sentinel context.
func New(generator llm.Generator, retriever llm.Retriever, st SessionStore, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, storyerr.Validation("storygen.New", "session store is required")
	}

	cfg := serviceConfig{
		engine: engine.DefaultConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(instrumentationName)
	}
	if cfg.tracker != nil && generator != nil {
		generator = llm.Tracked(generator, cfg.tracker)
	}

	eng, err := engine.New(generator, retriever,
		engine.WithConfig(cfg.engine),
		engine.WithLogger(cfg.logger),
		engine.WithTracer(cfg.tracer),
		engine.WithClock(cfg.now),
		engine.WithCheckpoint(st.Save),
	)
	if err != nil {
		return nil, err
	}

	return &Service{
		engine: eng,
		store:  st,
		logger: cfg.logger.With("component", "service"),
		tracer: cfg.tracer,
		now:    cfg.now,
	}, nil
}

// Engine returns the transition engine.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

func (s *Service) startSpan(ctx context.Context, op, id string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("session.id", id)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func reply(sess *session.Session, resp engine.Response) Reply {
	return Reply{
		SessionID: sess.ID,
		Status:    sess.Status,
		FinalText: sess.Slots.FinalText,
		Response:  resp,
	}
}

// Start creates a session for ownerID from the first idea and saves it.
// Nothing is saved when the idea is rejected.
func (s *Service) Start(ctx context.Context, ownerID, idea string) (r Reply, err error) {
	const op = "Service.Start"
	ctx, span := s.tracer.Start(ctx, op)
	defer func() { endSpan(span, err) }()

	sess := session.New(ownerID, s.now())
	span.SetAttributes(attribute.String("session.id", sess.ID))

	resp, err := s.engine.Start(ctx, sess, idea)
	if err != nil {
		return Reply{}, err
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return Reply{}, err
	}

	s.logger.InfoContext(ctx, "session started", "session_id", sess.ID, "stage", sess.Stage)
	return reply(sess, resp), nil
}

// transition loads a session, applies fn and saves the result. A failed
// transition is not saved; checkpoints fn already wrote stay written.
func (s *Service) transition(ctx context.Context, op, id string, fn func(context.Context, *session.Session) (engine.Response, error)) (r Reply, err error) {
	ctx, span := s.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Reply{}, err
	}

	from := sess.Stage
	resp, err := fn(ctx, sess)
	if err != nil {
		s.logger.WarnContext(ctx, "transition failed",
			"op", op,
			"session_id", id,
			"stage", sess.Stage,
			"kind", storyerr.KindOf(err),
		)
		return Reply{}, err
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return Reply{}, err
	}

	s.logger.DebugContext(ctx, "transition applied",
		"op", op,
		"session_id", id,
		"from", from,
		"to", sess.Stage,
		"turns", sess.Turns.Len(),
	)
	return reply(sess, resp), nil
}

// Continue submits free-text input at the session's current stage.
func (s *Service) Continue(ctx context.Context, id, input string) (Reply, error) {
	return s.transition(ctx, "Service.Continue", id, func(ctx context.Context, sess *session.Session) (engine.Response, error) {
		return s.engine.Continue(ctx, sess, input)
	})
}

// SelectHook picks one of the three hook candidates and runs the arc,
// quote and CTA steps. The reply is at CTA_GENERATION and carries the three
// CTA candidates. After a failed step, Continue retries the chain.
func (s *Service) SelectHook(ctx context.Context, id string, index int) (Reply, error) {
	return s.transition(ctx, "Service.SelectHook", id, func(ctx context.Context, sess *session.Session) (engine.Response, error) {
		return s.engine.SelectHook(ctx, sess, index)
	})
}

// SelectCTA picks one of the three call-to-action candidates.
func (s *Service) SelectCTA(ctx context.Context, id string, index int) (Reply, error) {
	return s.transition(ctx, "Service.SelectCTA", id, func(ctx context.Context, sess *session.Session) (engine.Response, error) {
		return s.engine.SelectCTA(ctx, sess, index)
	})
}

// Finalize assembles the final story and completes the session.
func (s *Service) Finalize(ctx context.Context, id string) (Reply, error) {
	return s.transition(ctx, "Service.Finalize", id, func(ctx context.Context, sess *session.Session) (engine.Response, error) {
		return s.engine.Finalize(ctx, sess)
	})
}

// Summary returns the content-free view of a session.
func (s *Service) Summary(ctx context.Context, id string) (session.Summary, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return session.Summary{}, err
	}
	return session.Summarize(sess), nil
}

// Session returns the full session, slot content included.
func (s *Service) Session(ctx context.Context, id string) (*session.Session, error) {
	return s.store.Get(ctx, id)
}

// Turns returns up to limit turns with ordinal greater than after.
func (s *Service) Turns(ctx context.Context, id string, after, limit int) ([]session.Turn, error) {
	return s.store.Turns(ctx, id, after, limit)
}

// Export serializes a session as a snapshot document.
func (s *Service) Export(ctx context.Context, id string) ([]byte, error) {
	const op = "Service.Export"
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := session.Export(sess, s.now())
	if err != nil {
		return nil, storyerr.New(op, storyerr.KindInternal, err)
	}
	return data, nil
}

// Import saves the session carried by a snapshot document as a new record.
// Importing over an existing session id is a version conflict.
func (s *Service) Import(ctx context.Context, data []byte) (session.Summary, error) {
	const op = "Service.Import"
	sess, err := session.Import(data)
	if err != nil {
		return session.Summary{}, storyerr.Validation(op, "%v", err)
	}
	if err := s.store.Save(ctx, sess); err != nil {
		if errors.Is(err, storyerr.ErrVersionConflict) {
			return session.Summary{}, storyerr.StateConflict(op,
				fmt.Errorf("session %s already exists: %w", sess.ID, storyerr.ErrVersionConflict))
		}
		return session.Summary{}, err
	}

	s.logger.InfoContext(ctx, "session imported", "session_id", sess.ID, "stage", sess.Stage)
	return session.Summarize(sess), nil
}

// ListActive returns summaries of up to limit ACTIVE sessions, oldest first.
func (s *Service) ListActive(ctx context.Context, limit int) ([]session.Summary, error) {
	found, err := s.store.ListActive(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]session.Summary, 0, len(found))
	for _, sess := range found {
		out = append(out, session.Summarize(sess))
	}
	return out, nil
}

// Abandon moves an ACTIVE session to ABANDONED.
func (s *Service) Abandon(ctx context.Context, id string) (session.Summary, error) {
	const op = "Service.Abandon"
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return session.Summary{}, err
	}
	if err := sess.SetStatus(session.StatusAbandoned, s.now()); err != nil {
		return session.Summary{}, storyerr.StateConflict(op, err).WithContext(map[string]any{"session_id": id})
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return session.Summary{}, err
	}

	s.logger.InfoContext(ctx, "session abandoned", "session_id", id)
	return session.Summarize(sess), nil
}

// Delete removes a session from every tier.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return storyerr.Validation("Service.Delete", "session id is required")
	}
	return s.store.Delete(ctx, id)
}
