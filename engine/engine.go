package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ford-at-home/storygen/llm"
	"github.com/ford-at-home/storygen/session"
	"github.com/ford-at-home/storygen/storyerr"
)

const instrumentationName = "github.com/ford-at-home/storygen/engine"

// Checkpoint persists a session in the middle of a multi-step transition.
// Save-style functions that bump Session.Version in place fit directly.
type Checkpoint func(ctx context.Context, s *session.Session) error

// Engine drives sessions through the stage graph. It holds no per-session
// state; every method mutates the session it is given and returns the
// response envelope for the caller. Callers persist the session afterwards.
//
// Engine is safe for concurrent use across different sessions. Concurrent
// calls on the same *session.Session are not.
type Engine struct {
	generator  llm.Generator
	retriever  llm.Retriever
	cfg        Config
	rule       *BranchRule
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	checkpoint Checkpoint
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the engine configuration. Build cfg from
// DefaultConfig; see Config for which zero fields take defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithLogger sets the logger. A nil logger means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracer sets the tracer used for transition spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithCheckpoint registers a function called after each intermediate step of
// the hook-selection chain.
func WithCheckpoint(cp Checkpoint) Option {
	return func(e *Engine) {
		e.checkpoint = cp
	}
}

// New creates an Engine. The generator is required; a nil retriever makes
// every retrieval fall back to RetrievalSentinel.
func New(generator llm.Generator, retriever llm.Retriever, opts ...Option) (*Engine, error) {
	if generator == nil {
		return nil, errors.New("engine: generator is required")
	}

	e := &Engine{
		generator: generator,
		retriever: retriever,
		cfg:       DefaultConfig(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.cfg = e.cfg.withDefaults()
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	rule, err := NewBranchRule(e.cfg.BranchRule)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.rule = rule

	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "engine")
	if e.tracer == nil {
		e.tracer = otel.Tracer(instrumentationName)
	}

	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Start handles the first user contact: it records the idea, scores its
// depth and branches to FOLLOW_UP or PERSONAL_ANECDOTE.
func (e *Engine) Start(ctx context.Context, s *session.Session, idea string) (resp Response, err error) {
	const op = "Engine.Start"
	ctx, span := e.startSpan(ctx, op, s)
	defer func() { endSpan(span, err) }()

	if err := checkActive(op, s); err != nil {
		return Response{}, err
	}
	if s.Stage != session.StageKickoff {
		return Response{}, storyerr.StateConflict(op, fmt.Errorf("session already started (stage %s)", s.Stage))
	}
	return e.kickoff(ctx, op, s, idea)
}

func (e *Engine) kickoff(ctx context.Context, op string, s *session.Session, idea string) (Response, error) {
	idea = strings.TrimSpace(idea)
	if utf8.RuneCountInString(idea) <= MinIdeaLength {
		return Response{}, storyerr.Validation(op, "idea must be longer than %d characters", MinIdeaLength)
	}
	if err := e.checkLength(op, idea); err != nil {
		return Response{}, err
	}

	s.Slots.CoreIdea = idea
	if err := s.Advance(session.StageDepthAnalysis); err != nil {
		return Response{}, storyerr.StateConflict(op, err)
	}
	return e.branch(ctx, s, session.StageKickoff, idea), nil
}

// branch scores the core idea and moves DEPTH_ANALYSIS to its successor.
// The exchange is recorded as one turn at the stage the input arrived in.
func (e *Engine) branch(ctx context.Context, s *session.Session, receivedAt session.Stage, input string) Response {
	s.Counters.Generations++
	res := e.scoreDepth(ctx, s.Slots.CoreIdea)

	score := res.Score
	s.Slots.DepthScore = &score
	if raw, err := json.Marshal(res); err == nil {
		s.Slots.DepthAnalysis = raw
	}

	deep, err := e.rule.Deep(res.Score, e.cfg.DepthThreshold, res.WordCount)
	if err != nil {
		e.logger.Warn("branch rule failed, comparing against threshold", "session_id", s.ID, "error", err)
		deep = res.Score >= e.cfg.DepthThreshold
	}

	next, question := session.StageFollowUp, FollowUpQuestion
	if res.FollowUpQuestion != "" {
		question = res.FollowUpQuestion
	}
	if deep {
		next, question = session.StagePersonalAnecdote, AnecdoteQuestion
	}

	s.Turns.Append(receivedAt, input, question, []string{"depth:" + res.Source}, e.now())
	s.Touch(e.now())
	e.advance(s, next)

	e.logger.Debug("depth scored",
		"session_id", s.ID,
		"score", res.Score,
		"source", res.Source,
		"next_stage", next,
	)

	return respond(s, KindQuestion, question, ActionAnswer, nil)
}

// Continue handles free-text input for an ACTIVE session at its current
// stage. When the hook chain stopped partway, it retries the unfinished
// steps.
func (e *Engine) Continue(ctx context.Context, s *session.Session, input string) (resp Response, err error) {
	const op = "Engine.Continue"
	ctx, span := e.startSpan(ctx, op, s)
	defer func() { endSpan(span, err) }()

	if err := checkActive(op, s); err != nil {
		return Response{}, err
	}

	if s.Stage == session.StageKickoff {
		return e.kickoff(ctx, op, s, input)
	}

	input = strings.TrimSpace(input)
	if input == "" && needsInput(s.Stage) {
		return Response{}, storyerr.Validation(op, "input is required at stage %s", s.Stage)
	}
	if err := e.checkLength(op, input); err != nil {
		return Response{}, err
	}

	switch s.Stage {
	case session.StageDepthAnalysis:
		s.Slots.CoreIdea = joinText(s.Slots.CoreIdea, input)
		return e.branch(ctx, s, session.StageDepthAnalysis, input), nil

	case session.StageFollowUp:
		s.Slots.CoreIdea = joinText(s.Slots.CoreIdea, input)
		s.AppendTurn(input, AnecdoteQuestion, []string{"follow_up"}, e.now())
		e.advance(s, session.StagePersonalAnecdote)
		return respond(s, KindQuestion, AnecdoteQuestion, ActionAnswer, nil), nil

	case session.StagePersonalAnecdote:
		return e.generateHooks(ctx, op, s, input)

	case session.StageHookGeneration:
		return respond(s, KindInstruction,
			"Pick one of the three hooks to continue.", ActionSelectHook, s.Slots.AvailableHooks), nil

	case session.StageArcDevelopment, session.StageQuoteIntegration:
		if input != "" {
			s.AppendTurn(input, "", []string{"resume"}, e.now())
		}
		return e.runChain(ctx, op, s)

	case session.StageCTAGeneration:
		if len(s.Slots.AvailableCTAs) == 0 {
			return e.runChain(ctx, op, s)
		}
		return respond(s, KindInstruction,
			"Pick one of the three calls to action to continue.", ActionSelectCTA, s.Slots.AvailableCTAs), nil

	case session.StageFinalStory:
		return respond(s, KindReadyForFinal,
			"Everything is in place. Finalize to assemble your story.", ActionFinalize, nil), nil
	}

	return Response{}, storyerr.New(op, storyerr.KindInternal, fmt.Errorf("unknown stage %q", s.Stage))
}

func needsInput(stage session.Stage) bool {
	switch stage {
	case session.StageDepthAnalysis, session.StageFollowUp, session.StagePersonalAnecdote:
		return true
	}
	return false
}

// generateHooks records the anecdote, retrieves local context and produces
// exactly three hook candidates. Slot changes made before a failed
// generation are kept.
func (e *Engine) generateHooks(ctx context.Context, op string, s *session.Session, anecdote string) (Response, error) {
	s.Slots.PersonalAnecdote = anecdote
	s.Touch(e.now())

	retrieved, tag := e.retrieve(ctx, s)
	history := s.Turns.ContextText(e.cfg.ContextTurns)

	s.Counters.Generations++
	text, err := e.generate(ctx, PurposeHooks, hooksPrompt(s, retrieved, history))
	if err != nil {
		return Response{}, e.collaboratorError(op, s, PurposeHooks, err)
	}

	hooks := ParseCandidates(text, LabelHook, DefaultHooks)
	s.Slots.AvailableHooks = hooks
	s.AppendTurn(anecdote, candidateLines(LabelHook, hooks), []string{tag, "hooks"}, e.now())
	e.advance(s, session.StageHookGeneration)

	return respond(s, KindSelection, "Here are three ways to open your story. Pick one.", ActionSelectHook, hooks), nil
}

func (e *Engine) retrieve(ctx context.Context, s *session.Session) (string, string) {
	if e.retriever == nil {
		return RetrievalSentinel, "retrieval:fallback"
	}

	s.Counters.Retrievals++
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "Engine.retrieve")
	defer span.End()

	text, err := e.retriever.Retrieve(ctx, joinText(s.Slots.CoreIdea, s.Slots.PersonalAnecdote))
	if err != nil {
		span.RecordError(err)
		e.logger.Warn("context retrieval failed, using sentinel", "session_id", s.ID, "error", err)
		return RetrievalSentinel, "retrieval:fallback"
	}
	if strings.TrimSpace(text) == "" {
		return RetrievalSentinel, "retrieval:fallback"
	}
	return text, "retrieval"
}

// SelectHook records the chosen hook and runs the arc, quote and CTA chain,
// leaving the session at CTA_GENERATION with three CTA candidates. The
// response reports CTA_GENERATION, not ARC_DEVELOPMENT. If a step of the
// chain fails, Continue resumes it.
func (e *Engine) SelectHook(ctx context.Context, s *session.Session, index int) (resp Response, err error) {
	const op = "Engine.SelectHook"
	ctx, span := e.startSpan(ctx, op, s)
	defer func() { endSpan(span, err) }()

	if err := checkActive(op, s); err != nil {
		return Response{}, err
	}
	if len(s.Slots.AvailableHooks) == 0 {
		return Response{}, storyerr.NoCandidates(op, "hook")
	}
	if err := checkIndex(op, index, len(s.Slots.AvailableHooks)); err != nil {
		return Response{}, err
	}
	if s.Stage != session.StageHookGeneration {
		return Response{}, storyerr.StateConflict(op, fmt.Errorf("cannot select a hook at stage %s", s.Stage))
	}

	hook := s.Slots.AvailableHooks[index]
	s.Slots.SelectedHook = hook
	s.AppendTurn(fmt.Sprintf("select hook %d", index+1), hook, []string{"selection:hook"}, e.now())
	e.advance(s, session.StageArcDevelopment)

	return e.runChain(ctx, op, s)
}

// runChain generates whatever of arc, quote and CTAs is still missing,
// advancing one stage per step and checkpointing between steps.
func (e *Engine) runChain(ctx context.Context, op string, s *session.Session) (Response, error) {
	if s.Stage == session.StageArcDevelopment {
		if s.Slots.NarrativeArc == "" {
			s.Counters.Generations++
			arc, err := e.generateText(ctx, PurposeArc, arcPrompt(s, s.Turns.ContextText(e.cfg.ContextTurns)))
			if err != nil {
				return Response{}, e.collaboratorError(op, s, PurposeArc, err)
			}
			s.Slots.NarrativeArc = arc
			s.AppendTurn("", arc, []string{"arc"}, e.now())
		}
		e.advance(s, session.StageQuoteIntegration)
		if err := e.saveCheckpoint(ctx, op, s); err != nil {
			return Response{}, err
		}
	}

	if s.Stage == session.StageQuoteIntegration {
		if s.Slots.Quote == "" {
			s.Counters.Generations++
			quote, err := e.generateText(ctx, PurposeQuote, quotePrompt(s))
			if err != nil {
				return Response{}, e.collaboratorError(op, s, PurposeQuote, err)
			}
			s.Slots.Quote = quote
			s.AppendTurn("", quote, []string{"quote"}, e.now())
		}
		e.advance(s, session.StageCTAGeneration)
		if err := e.saveCheckpoint(ctx, op, s); err != nil {
			return Response{}, err
		}
	}

	if s.Stage != session.StageCTAGeneration {
		return Response{}, storyerr.StateConflict(op, fmt.Errorf("cannot develop the story at stage %s", s.Stage))
	}

	s.Counters.Generations++
	text, err := e.generate(ctx, PurposeCTAs, ctasPrompt(s))
	if err != nil {
		return Response{}, e.collaboratorError(op, s, PurposeCTAs, err)
	}
	ctas := ParseCandidates(text, LabelCTA, DefaultCTAs)
	s.Slots.AvailableCTAs = ctas
	s.AppendTurn("", candidateLines(LabelCTA, ctas), []string{"ctas"}, e.now())

	return respond(s, KindSelection, "Here are three ways to close your story. Pick one.", ActionSelectCTA, ctas), nil
}

func (e *Engine) saveCheckpoint(ctx context.Context, op string, s *session.Session) error {
	if e.checkpoint == nil {
		return nil
	}
	if err := e.checkpoint(ctx, s); err != nil {
		var se *storyerr.Error
		if errors.As(err, &se) {
			return err
		}
		return storyerr.Storage(op, err)
	}
	return nil
}

// SelectCTA records the chosen CTA and moves the session to FINAL_STORY.
func (e *Engine) SelectCTA(ctx context.Context, s *session.Session, index int) (resp Response, err error) {
	const op = "Engine.SelectCTA"
	_, span := e.startSpan(ctx, op, s)
	defer func() { endSpan(span, err) }()

	if err := checkActive(op, s); err != nil {
		return Response{}, err
	}
	if len(s.Slots.AvailableCTAs) == 0 {
		return Response{}, storyerr.NoCandidates(op, "CTA")
	}
	if err := checkIndex(op, index, len(s.Slots.AvailableCTAs)); err != nil {
		return Response{}, err
	}
	if s.Stage != session.StageCTAGeneration {
		return Response{}, storyerr.StateConflict(op, fmt.Errorf("cannot select a CTA at stage %s", s.Stage))
	}

	cta := s.Slots.AvailableCTAs[index]
	s.Slots.SelectedCTA = cta
	s.AppendTurn(fmt.Sprintf("select cta %d", index+1), cta, []string{"selection:cta"}, e.now())
	e.advance(s, session.StageFinalStory)

	return respond(s, KindReadyForFinal,
		"Everything is in place. Finalize to assemble your story.", ActionFinalize, nil), nil
}

// Finalize assembles the final story and completes the session.
func (e *Engine) Finalize(ctx context.Context, s *session.Session) (resp Response, err error) {
	const op = "Engine.Finalize"
	ctx, span := e.startSpan(ctx, op, s)
	defer func() { endSpan(span, err) }()

	if err := checkActive(op, s); err != nil {
		return Response{}, err
	}
	if missing := s.Slots.MissingForFinal(); len(missing) > 0 {
		return Response{}, storyerr.StateConflict(op,
			fmt.Errorf("cannot finalize, missing: %s", strings.Join(missing, ", ")))
	}
	if s.Stage != session.StageFinalStory {
		return Response{}, storyerr.StateConflict(op, fmt.Errorf("cannot finalize at stage %s", s.Stage))
	}

	s.Counters.Generations++
	text, err := e.generateText(ctx, PurposeFinal, finalPrompt(s, s.Turns.ContextText(e.cfg.ContextTurns)))
	if err != nil {
		return Response{}, e.collaboratorError(op, s, PurposeFinal, err)
	}

	s.Slots.FinalText = text
	s.AppendTurn("", text, []string{"final"}, e.now())
	if err := s.SetStatus(session.StatusCompleted, e.now()); err != nil {
		return Response{}, storyerr.StateConflict(op, err)
	}

	e.logger.Info("session completed", "session_id", s.ID, "turns", s.Turns.Len(), "final_length", len(text))

	return respond(s, KindInstruction, text, ActionDone, nil), nil
}

// generate makes one bounded generation call and returns the raw text.
func (e *Engine) generate(ctx context.Context, purpose, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "Engine.generate", trace.WithAttributes(
		attribute.String("llm.purpose", purpose),
	))
	defer span.End()

	req := llm.NewCompletionRequest(prompt,
		llm.WithMaxTokens(e.cfg.MaxTokens),
		llm.WithTemperature(e.cfg.Temperature),
		llm.WithPurpose(purpose),
	)

	text, err := e.generator.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

// generateText is generate for free-text elements, where empty output is
// an error.
func (e *Engine) generateText(ctx context.Context, purpose, prompt string) (string, error) {
	text, err := e.generate(ctx, purpose, prompt)
	if err != nil {
		return "", err
	}
	text = llm.Clean(text)
	if text == "" {
		return "", llm.ErrEmptyCompletion
	}
	return text, nil
}

func (e *Engine) collaboratorError(op string, s *session.Session, purpose string, err error) error {
	e.logger.Warn("generation failed",
		"session_id", s.ID,
		"stage", s.Stage,
		"purpose", purpose,
		"error", err,
	)
	return storyerr.Collaborator(op, err).WithContext(map[string]any{
		"session_id": s.ID,
		"purpose":    purpose,
	})
}

// advance moves s along an edge the engine itself chose. Those edges are
// always in the graph, so a failure is a programming error.
func (e *Engine) advance(s *session.Session, to session.Stage) {
	from := s.Stage
	if err := s.Advance(to); err != nil {
		panic(fmt.Sprintf("engine: %v", err))
	}
	if from != to {
		e.logger.Debug("stage transition", "session_id", s.ID, "from", from, "to", to)
	}
}

func (e *Engine) checkLength(op, input string) error {
	if n := utf8.RuneCountInString(input); n > e.cfg.MaxInputLength {
		return storyerr.Validation(op, "input must be at most %d characters, got %d", e.cfg.MaxInputLength, n)
	}
	return nil
}

func (e *Engine) startSpan(ctx context.Context, op string, s *session.Session) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("session.stage", string(s.Stage)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// checkActive gates every transition on an ACTIVE session. Expired sessions
// read as unknown ones.
func checkActive(op string, s *session.Session) error {
	switch s.Status {
	case session.StatusActive:
		return nil
	case session.StatusExpired:
		return storyerr.NotFound(op, s.ID)
	default:
		return storyerr.StateConflict(op, fmt.Errorf("session is %s", s.Status))
	}
}

func checkIndex(op string, index, n int) error {
	if index < 0 || index >= n {
		return storyerr.Validation(op, "selection index must be between 0 and %d, got %d", n-1, index)
	}
	return nil
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n\n" + b
}
