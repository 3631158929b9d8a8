// Package server implements the handshake authenticator and fallback
// splicer of spec.md §4.5: after a connection's outer transport has been
// accepted (TLS accept, optionally preceded by a WebSocket server
// handshake — see package acceptor), the first bytes of the plaintext
// stream decide whether this is a genuine Trojan client or a probe that
// must be spliced indistinguishably to a cover origin.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/relayforge/trojan"
	"github.com/relayforge/trojan/relay"
	"github.com/relayforge/trojan/transport"
)

// DefaultAuthTimeout bounds how long the authenticator waits for a
// complete handshake; when it expires the connection is closed silently,
// without a fallback splice (spec.md §4.5).
const DefaultAuthTimeout = 5 * time.Second

// ErrFallbackHandled is returned by Authenticate when the connection was
// not a valid Trojan handshake: the authenticator has already spliced (or
// drained) the connection to completion, and the caller has nothing
// further to do with it.
var ErrFallbackHandled = errors.New("server: connection handled by fallback")

// MetricsSink receives the authenticator's two observable outcomes. It is
// a small interface (rather than a direct *metrics.Registry field) so this
// package never needs to import package metrics; cmd/trojan adapts its
// Registry to this shape at wiring time.
type MetricsSink interface {
	HandshakeFailure(reason string)
	FallbackConn()
}

// Authenticator holds the server's accepted credentials and fallback
// target. One Authenticator is shared read-only across every connection.
type Authenticator struct {
	Credentials  trojan.CredentialSet
	FallbackAddr string // empty means "drain and close, no splice"
	AuthTimeout  time.Duration

	// Metrics is optional; nil disables instrumentation entirely.
	Metrics MetricsSink
}

// NewAuthenticator builds an Authenticator with spec.md's default 5-second
// auth timeout.
func NewAuthenticator(creds trojan.CredentialSet, fallbackAddr string) *Authenticator {
	return &Authenticator{Credentials: creds, FallbackAddr: fallbackAddr, AuthTimeout: DefaultAuthTimeout}
}

func (a *Authenticator) timeout() time.Duration {
	if a.AuthTimeout <= 0 {
		return DefaultAuthTimeout
	}
	return a.AuthTimeout
}

// Authenticate consumes the plaintext stream on conn and either returns a
// parsed ConnectionRequest for a matching client, or fully handles the
// connection itself as a fallback splice and returns ErrFallbackHandled.
// Any other error means conn is no longer usable (shutdown fired, or the
// auth timeout expired) and the caller should simply drop it; a read that
// fails before the handshake completes is handled as a fallback.
func (a *Authenticator) Authenticate(ctx *trojan.Context, conn *transport.Conn) (*trojan.ConnectionRequest, error) {
	deadline := time.NewTimer(a.timeout())
	defer deadline.Stop()

	buf := make([]byte, 0, 512)
	tmp := make([]byte, 4096)

	for {
		req, perr := a.tryParse(buf)
		if perr == nil {
			return req, nil
		}
		if kind, ok := trojan.KindOf(perr); !ok || kind != trojan.KindIncomplete {
			a.recordFailure(perr)
			return nil, a.fallback(ctx, conn, buf)
		}

		n, rerr := readChunk(ctx, conn, tmp, deadline.C)
		if rerr != nil {
			// EOF or any other read failure before the handshake completed
			// is treated the same as a mismatch: the client never proved
			// itself, so whatever prefix arrived gets spliced (or drained)
			// exactly like a bad credential would (spec.md §4.5 point 4).
			// Timeout and shutdown are both special: a timed-out auth
			// window closes silently per spec.md §7 rather than starting a
			// fallback splice on a conn readChunk has already torn down
			// (spec.md §4.5/§8.4's indistinguishability invariant only
			// covers live splicing, not a connection that's already dead),
			// and there is no point starting a splice the process is about
			// to tear down anyway.
			if kind, ok := trojan.KindOf(rerr); ok && (kind == trojan.KindShutdown || kind == trojan.KindTimeout) {
				return nil, rerr
			}
			a.recordFailure(rerr)
			return nil, a.fallback(ctx, conn, buf)
		}
		buf = append(buf, tmp[:n]...)
	}
}

// tryParse attempts to decode a full handshake out of buf: the 56-byte hex
// credential, its CRLF, the cmd|atyp|addr|port tuple (spec.md §4.1), and
// the CRLF that follows it. Anything left over after that is PreRead.
func (a *Authenticator) tryParse(buf []byte) (*trojan.ConnectionRequest, error) {
	const headerLen = trojan.CredentialHexLen + 2
	if len(buf) < headerLen {
		return nil, trojan.Incomplete(headerLen - len(buf))
	}
	if !a.Credentials.Contains(string(buf[:trojan.CredentialHexLen])) {
		return nil, &trojan.Error{Kind: trojan.KindAuth, Err: errors.New("server: credential mismatch")}
	}
	if buf[trojan.CredentialHexLen] != '\r' || buf[trojan.CredentialHexLen+1] != '\n' {
		return nil, trojan.Invalid(errors.New("server: missing CRLF after credential"))
	}

	cmd, addr, n, err := trojan.ParseHandshakeAddress(buf[headerLen:])
	if err != nil {
		if kind, ok := trojan.KindOf(err); ok && kind == trojan.KindIncomplete {
			return nil, err
		}
		return nil, trojan.Invalid(err)
	}
	rest := headerLen + n
	if len(buf) < rest+2 {
		return nil, trojan.Incomplete(rest + 2 - len(buf))
	}
	if buf[rest] != '\r' || buf[rest+1] != '\n' {
		return nil, trojan.Invalid(errors.New("server: missing CRLF after address"))
	}
	if cmd != trojan.CmdConnect {
		return nil, trojan.Invalid(errors.New("server: unsupported command"))
	}

	preRead := append([]byte(nil), buf[rest+2:]...)
	return &trojan.ConnectionRequest{Kind: trojan.ConnTCP, Target: addr, PreRead: preRead}, nil
}

// recordFailure classifies why the handshake didn't parse and reports it
// to Metrics, if configured. Kind is the coarsest useful label: a finer
// one (e.g. which byte mismatched) would risk becoming a timing/content
// oracle, the exact thing spec.md §4.5 point 4 says never to expose.
func (a *Authenticator) recordFailure(err error) {
	if a.Metrics == nil {
		return
	}
	kind, ok := trojan.KindOf(err)
	if !ok {
		kind = trojan.KindIO
	}
	a.Metrics.HandshakeFailure(kind.String())
}

// fallback spans spec.md §4.5 point 4: splice the already-read prefix plus
// the remaining stream to the configured cover origin, indistinguishably
// from a direct probe of that origin. It always consumes conn completely.
func (a *Authenticator) fallback(ctx *trojan.Context, conn *transport.Conn, prefix []byte) error {
	if a.Metrics != nil {
		a.Metrics.FallbackConn()
	}
	if a.FallbackAddr == "" {
		_, _ = io.Copy(io.Discard, conn)
		_ = conn.Close()
		return ErrFallbackHandled
	}

	upstream, err := net.DialTimeout("tcp", a.FallbackAddr, 5*time.Second)
	if err != nil {
		_ = conn.Close()
		return ErrFallbackHandled
	}
	if len(prefix) > 0 {
		if _, err := upstream.Write(prefix); err != nil {
			_ = upstream.Close()
			_ = conn.Close()
			return ErrFallbackHandled
		}
	}
	_ = relay.Run(ctx, conn, relay.WrapNetConn(upstream), relay.DefaultIdleWindow)
	return ErrFallbackHandled
}

// readChunk performs one Read on conn, bounded by deadline and the
// shutdown broadcast. transport.Conn has no uniform SetReadDeadline across
// its TCP/QUIC/WebSocket variants, so the bound is enforced by racing the
// blocking read against the timer and closing conn to unblock it if the
// timer wins.
func readChunk(ctx *trojan.Context, conn *transport.Conn, tmp []byte, deadline <-chan time.Time) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := conn.Read(tmp)
		ch <- result{n, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return r.n, trojan.IO(r.err)
		}
		return r.n, nil
	case <-deadline:
		_ = conn.Close()
		<-ch
		return 0, trojan.Timeout(context.DeadlineExceeded)
	case <-ctx.Done():
		_ = conn.Close()
		<-ch
		return 0, &trojan.Error{Kind: trojan.KindShutdown}
	}
}
