package storyerr

import (
	"context"
	"errors"
)

// IsRetryable reports whether the caller may retry the same operation
// unchanged. Collaborator failures and version conflicts are retryable;
// validation, not-found and permission failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVersionConflict) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return KindOf(err) == KindCollaborator
}

// PublicMessage returns a message safe to show to the end user. It keeps
// enough detail to correct course ("no CTA candidates available to select
// from") but never exposes storage keys or backend names.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}

	switch e.Kind {
	case KindValidation, KindStateConflict:
		if e.Err != nil {
			return e.Err.Error()
		}
		return string(e.Kind)
	case KindNotFound:
		return ErrSessionNotFound.Error()
	case KindCollaborator:
		return "content generation is temporarily unavailable, please retry"
	case KindStorage:
		return "session storage unavailable"
	case KindPermission:
		return "session is no longer valid for this client"
	default:
		return "internal error"
	}
}
