// Package logger configures the process-wide slog handler.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Config selects the handler. Empty fields fall back to LOG_LEVEL,
// LOG_FORMAT and LOG_FILE, then to info-level text on stderr.
type Config struct {
	Level  string
	Format string
	File   string
}

// Init builds a logger from cfg, installs it as the slog default and returns
// it with the level variable so the level can be changed at runtime. The
// returned closer releases the log file, if any.
func Init(cfg Config) (*slog.Logger, *slog.LevelVar, io.Closer) {
	if cfg.Level == "" {
		cfg.Level = os.Getenv("LOG_LEVEL")
	}
	if cfg.Format == "" {
		cfg.Format = os.Getenv("LOG_FORMAT")
	}
	if cfg.File == "" {
		cfg.File = os.Getenv("LOG_FILE")
	}

	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Level))

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			slog.Error("failed to create log directory, using stderr only", "file", cfg.File, "error", err)
		} else if f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err != nil {
			slog.Error("failed to open log file, using stderr only", "file", cfg.File, "error", err)
		} else {
			w, closer = f, f
		}
	}

	logger := slog.New(NewHandler(w, cfg.Format, level))
	slog.SetDefault(logger)
	return logger, level, closer
}

// NewHandler returns a JSON handler for format "json" and a text handler
// otherwise.
func NewHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps debug, warn and error to their levels; anything else is
// info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewRequestLogger returns the default logger with a fresh time-ordered
// request_id.
func NewRequestLogger() *slog.Logger {
	return slog.With("request_id", uuid.Must(uuid.NewV7()).String())
}

type ctxKey struct{}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored by WithLogger, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
