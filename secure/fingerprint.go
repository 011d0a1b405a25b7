package secure

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ford-at-home/storygen/session"
)

// DefaultMaxAddrChanges is how many address changes a session tolerates
// before it is revoked.
const DefaultMaxAddrChanges = 3

// Fingerprint identifies the client behind a request.
type Fingerprint struct {
	RemoteAddr string
	UserAgent  string
}

// IsZero reports whether no client information is present.
func (f Fingerprint) IsZero() bool {
	return f.RemoteAddr == "" && f.UserAgent == ""
}

// Hash returns a "v1:<hex>" digest of the user agent, suitable for logs.
func (f Fingerprint) Hash() string {
	sum := sha256.Sum256([]byte(f.UserAgent))
	return "v1:" + hex.EncodeToString(sum[:16])
}

type clientKey struct{}

// WithClient returns a context carrying the caller's fingerprint.
func WithClient(ctx context.Context, fp Fingerprint) context.Context {
	return context.WithValue(ctx, clientKey{}, fp)
}

// ClientFrom returns the fingerprint carried by ctx, if any.
func ClientFrom(ctx context.Context) (Fingerprint, bool) {
	fp, ok := ctx.Value(clientKey{}).(Fingerprint)
	return fp, ok && !fp.IsZero()
}

// Verdict is the outcome of checking a request against a session binding.
type Verdict int

const (
	// VerdictMatch means the client is the one the session was bound to.
	VerdictMatch Verdict = iota

	// VerdictAddrChanged means the address moved within tolerance. The
	// binding was updated and must be saved.
	VerdictAddrChanged

	// VerdictRevoke means the session must be revoked.
	VerdictRevoke
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictMatch:
		return "match"
	case VerdictAddrChanged:
		return "addr_changed"
	case VerdictRevoke:
		return "revoke"
	default:
		return "unknown"
	}
}

// Bind records fp as the session's client.
func Bind(s *session.Session, fp Fingerprint, now time.Time) {
	s.Binding = &session.Binding{
		RemoteAddr: fp.RemoteAddr,
		UserAgent:  fp.UserAgent,
		BoundAt:    now,
	}
}

// Check compares fp with the session binding and updates the binding in
// place. A user agent change revokes immediately. An address change is
// counted, and revokes once the count exceeds maxAddrChanges.
func Check(s *session.Session, fp Fingerprint, maxAddrChanges int) Verdict {
	b := s.Binding
	if b == nil {
		return VerdictMatch
	}
	if fp.UserAgent != b.UserAgent {
		return VerdictRevoke
	}
	if fp.RemoteAddr == b.RemoteAddr {
		return VerdictMatch
	}

	b.AddrChanges++
	b.RemoteAddr = fp.RemoteAddr
	if b.AddrChanges > maxAddrChanges {
		return VerdictRevoke
	}
	return VerdictAddrChanged
}
