package storygen

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ford-at-home/storygen/engine"
	"github.com/ford-at-home/storygen/llm"
)

// Option configures a Service.
type Option func(*serviceConfig)

type serviceConfig struct {
	engine  engine.Config
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
	tracker *llm.CallTracker
}

// WithEngineConfig sets the transition engine configuration (depth
// threshold, branch rule, generation parameters).
func WithEngineConfig(cfg engine.Config) Option {
	return func(c *serviceConfig) {
		c.engine = cfg
	}
}

// WithLogger sets a custom logger for the service and its engine.
// If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) {
		c.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer for service and engine spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *serviceConfig) {
		c.tracer = tracer
	}
}

// WithClock overrides time.Now for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *serviceConfig) {
		c.now = now
	}
}

// WithCallTracker records every generation call in t.
func WithCallTracker(t *llm.CallTracker) Option {
	return func(c *serviceConfig) {
		c.tracker = t
	}
}
