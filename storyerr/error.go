// Package storyerr defines the error taxonomy shared by the session model,
// the stage transition engine and the tiered session store.
//
// Every failure surfaced by the core is an *Error carrying the operation that
// failed, a Kind that tells the caller how to react, and the underlying cause.
// Errors support errors.Is and errors.As, so callers can match either on a
// sentinel (ErrSessionNotFound) or on a kind:
//
//	if errors.Is(err, &storyerr.Error{Kind: storyerr.KindNotFound}) {
//	    // unknown or expired session id
//	}
package storyerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions.
var (
	// ErrSessionNotFound indicates the session id is unknown, expired or revoked.
	ErrSessionNotFound = errors.New("session not found")

	// ErrVersionConflict indicates the session was saved by another writer
	// after this copy was read.
	ErrVersionConflict = errors.New("session was modified concurrently")

	// ErrNoCandidates indicates a selection was attempted before candidates
	// were generated.
	ErrNoCandidates = errors.New("no candidates available to select from")

	// ErrInvalidInput indicates missing or malformed caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionRevoked indicates the session id is on the revocation list.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrFingerprintMismatch indicates the client fingerprint no longer
	// matches the one bound at creation.
	ErrFingerprintMismatch = errors.New("client fingerprint mismatch")

	// ErrTierMiss is returned by cache tiers when a key is absent or aged out.
	ErrTierMiss = errors.New("tier miss")
)

// Kind categorizes an error by who is at fault and whether retrying helps.
type Kind string

const (
	// KindValidation is bad or missing caller input. Not retried.
	KindValidation Kind = "validation"

	// KindNotFound is an unknown, expired or revoked session id.
	KindNotFound Kind = "not_found"

	// KindStateConflict is an action attempted in the wrong stage or status,
	// or a save of a stale session copy.
	KindStateConflict Kind = "state_conflict"

	// KindCollaborator is a failed generation or retrieval call. Retryable.
	KindCollaborator Kind = "collaborator"

	// KindStorage is a durable tier failure. Fatal for the operation.
	KindStorage Kind = "storage"

	// KindPermission is a fingerprint or revocation rejection.
	KindPermission Kind = "permission"

	// KindInternal is anything else.
	KindInternal Kind = "internal"
)

// Error wraps an underlying error with the operation that failed and its Kind.
type Error struct {
	// Op is the operation that failed (e.g. "Engine.SelectHook", "Store.Save").
	Op string

	// Kind categorizes the error.
	Kind Kind

	// Err is the underlying cause.
	Err error

	// Context carries debugging details such as the session id or stage.
	// It is never included in PublicMessage.
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("storygen: %s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("storygen: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("storygen: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind (and Op, when the target sets one),
// otherwise it defers to the wrapped error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// WithContext returns a copy of the error with the given context merged in.
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	merged := make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	newErr.Context = merged
	return &newErr
}

// New creates an *Error of the given kind.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Validation creates a KindValidation error.
func Validation(op string, format string, args ...any) *Error {
	return &Error{Op: op, Kind: KindValidation, Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)}
}

// NotFound creates a KindNotFound error for a session id.
func NotFound(op, sessionID string) *Error {
	return &Error{
		Op:      op,
		Kind:    KindNotFound,
		Err:     ErrSessionNotFound,
		Context: map[string]any{"session_id": sessionID},
	}
}

// Revoked creates a KindNotFound error for a session on the revocation
// list. It matches both ErrSessionNotFound and ErrSessionRevoked.
func Revoked(op, sessionID string) *Error {
	return &Error{
		Op:      op,
		Kind:    KindNotFound,
		Err:     fmt.Errorf("%w: %w", ErrSessionNotFound, ErrSessionRevoked),
		Context: map[string]any{"session_id": sessionID},
	}
}

// StateConflict creates a KindStateConflict error.
func StateConflict(op string, err error) *Error {
	return &Error{Op: op, Kind: KindStateConflict, Err: err}
}

// Collaborator creates a KindCollaborator error.
func Collaborator(op string, err error) *Error {
	return &Error{Op: op, Kind: KindCollaborator, Err: err}
}

// Storage creates a KindStorage error.
func Storage(op string, err error) *Error {
	return &Error{Op: op, Kind: KindStorage, Err: err}
}

// Permission creates a KindPermission error.
func Permission(op string, err error) *Error {
	return &Error{Op: op, Kind: KindPermission, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// candidatesError names the story element whose candidates are missing.
type candidatesError struct {
	element string
}

func (e candidatesError) Error() string {
	return "no " + e.element + " candidates available to select from"
}

func (e candidatesError) Is(target error) bool {
	return target == ErrNoCandidates
}

// NoCandidates creates a KindStateConflict error for a selection attempted
// before any candidates of element ("hook", "CTA") exist.
func NoCandidates(op, element string) *Error {
	return &Error{Op: op, Kind: KindStateConflict, Err: candidatesError{element: element}}
}
