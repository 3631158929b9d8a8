// Package trojan implements the connection dispatch and framing engine of
// an encrypted forwarding proxy speaking the Trojan wire protocol: inbound
// SOCKS5/HTTP-CONNECT parsing, a multi-transport outbound layer (TCP+TLS,
// QUIC, WebSocket-over-TLS), the server-side handshake authenticator and
// fallback splicer, and the bidirectional relay that ties them together.
package trojan

import (
	"errors"
	"fmt"
)

// Kind classifies the errors a connection task can observe. None of these
// ever propagate out of a connection task (see cmd/trojan and acceptor);
// they are recovered locally and either logged or turned into a
// protocol-appropriate reply to the peer.
type Kind int

const (
	// KindIncomplete means a resumable parser needs more bytes. Never
	// surfaced to a caller outside the parser itself.
	KindIncomplete Kind = iota
	// KindInvalid means a protocol violation: bad version byte, unknown
	// address type, unsupported command. Client-side this becomes a
	// SOCKS5/HTTP error reply; server-side it routes to the fallback.
	KindInvalid
	// KindIO is a transport-level read/write failure, local to one
	// direction of a relay.
	KindIO
	// KindAuth is server-only: the presented credential did not match
	// any accepted hash. Never surfaced to the peer directly.
	KindAuth
	// KindTimeout is a bounded wait (TLS accept, auth window) expiring.
	KindTimeout
	// KindShutdown means the operation observed the shutdown broadcast.
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindIncomplete:
		return "incomplete"
	case KindInvalid:
		return "invalid"
	case KindIO:
		return "io"
	case KindAuth:
		return "auth"
	case KindTimeout:
		return "timeout"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Error is the single error type used across the engine. Missing is only
// meaningful when Kind is KindIncomplete: it carries the minimum number of
// additional bytes a resumable parser needs before it can make progress,
// so callers can await exactly that much more input instead of guessing.
type Error struct {
	Kind    Kind
	Missing int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("trojan: %s: %v", e.Kind, e.Err)
	}
	if e.Kind == KindIncomplete {
		return fmt.Sprintf("trojan: incomplete, need %d more byte(s)", e.Missing)
	}
	return fmt.Sprintf("trojan: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Incomplete builds a KindIncomplete error requiring n additional bytes.
func Incomplete(n int) error {
	if n < 1 {
		n = 1
	}
	return &Error{Kind: KindIncomplete, Missing: n}
}

// Invalid wraps err (which may be nil) as a KindInvalid error.
func Invalid(err error) error {
	return &Error{Kind: KindInvalid, Err: err}
}

// Invalidf builds a KindInvalid error from a format string.
func Invalidf(format string, args ...any) error {
	return &Error{Kind: KindInvalid, Err: fmt.Errorf(format, args...)}
}

// IO wraps a transport error as KindIO.
func IO(err error) error {
	return &Error{Kind: KindIO, Err: err}
}

// Timeout builds a KindTimeout error.
func Timeout(err error) error {
	return &Error{Kind: KindTimeout, Err: err}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}
