package storygen

import (
	"io"
	"log/slog"

	"github.com/ford-at-home/storygen/storyerr"
)

// Sentinel errors re-exported for callers that only import this package.
// Every error returned by Service is a *storyerr.Error wrapping one of these
// or a collaborator/storage cause; use errors.Is to test for them.
var (
	ErrSessionNotFound     = storyerr.ErrSessionNotFound
	ErrVersionConflict     = storyerr.ErrVersionConflict
	ErrNoCandidates        = storyerr.ErrNoCandidates
	ErrInvalidInput        = storyerr.ErrInvalidInput
	ErrSessionRevoked      = storyerr.ErrSessionRevoked
	ErrFingerprintMismatch = storyerr.ErrFingerprintMismatch
)

// CloseWithLog attempts to close the provided resource and logs any error
// at warning level. It is meant for defer statements.
//
// The name parameter describes the resource being closed (e.g., "store",
// "redis client"). If logger is nil, slog.Default() is used.
//
//	defer storygen.CloseWithLog(repo, logger, "session repository")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
