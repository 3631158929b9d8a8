// Package acceptor implements spec.md §4.8: one accept loop per enabled
// listener, each running concurrently with an observation of the shutdown
// broadcast, spawning a per-connection task (carrying its own sub-context)
// on every successful accept, and backing off on repeated accept failures.
package acceptor

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/relayforge/trojan"
	"github.com/relayforge/trojan/transport"
)

// pollInterval bounds how long a blocking Accept is allowed to run before
// the loop rechecks the shutdown broadcast.
const pollInterval = time.Second

// maxBackoff bounds the exponential backoff applied to repeated accept
// failures — spec.md §4.8's "EMFILE-class errors trigger an exponential
// backoff bounded at 1s" generalized to any repeated accept failure.
const maxBackoff = time.Second

const minBackoff = 10 * time.Millisecond

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// newWarnLimiter paces "accept failed" log lines to at most once per
// second per loop, the same golang.org/x/time/rate construction the
// teacher uses to throttle its own per-connection work (listeners.go's
// QUIC source-address verification limiter) — a sustained run of
// accept failures during the backoff window would otherwise log once per
// retry.
func newWarnLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Second), 1)
}

func warnAccept(ctx *trojan.Context, limiter *rate.Limiter, msg string, err error) {
	if limiter.Allow() {
		ctx.Log.Warn(msg, zap.Error(err))
	}
}

// TCPHandler processes one plain TCP connection (the client's SOCKS5 and
// HTTP-CONNECT listeners never terminate TLS themselves).
type TCPHandler func(ctx *trojan.Context, conn net.Conn)

// TransportHandler processes one already-tagged transport.Conn (the
// server's QUIC listener, where there is no WebSocket-upgrade decision to
// make first).
type TransportHandler func(ctx *trojan.Context, conn *transport.Conn)

// TLSHandler processes one freshly TLS-accepted connection before it has
// been tagged as a transport.Conn. The server's WebSocket variant
// (spec.md §4.5) needs to see the raw *tls.Conn first, to decide whether a
// WebSocket server handshake comes before the rest of the authenticator —
// tagging happens in the handler, not the accept loop.
type TLSHandler func(ctx *trojan.Context, conn *tls.Conn)

// PlainTCPLoop runs an accept loop over a plain net.Listener — the
// client-side SOCKS5 and HTTP-CONNECT listeners — until the shutdown
// broadcast fires.
func PlainTCPLoop(ctx *trojan.Context, ln net.Listener, handle TCPHandler) error {
	backoff := minBackoff
	warnLimiter := newWarnLimiter()
	for {
		if ctx.ShuttingDown() {
			return nil
		}
		if dl, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
			_ = dl.SetDeadline(time.Now().Add(pollInterval))
		}
		conn, err := ln.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.ShuttingDown() {
				return nil
			}
			warnAccept(ctx, warnLimiter, "accept failed", err)
			time.Sleep(backoff)
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff
		connCtx := ctx.WithConnection(trojan.NewConnID())
		go handle(connCtx, conn)
	}
}

// TCPTLSLoop runs an accept loop over a TLS listener (spec.md §4.4's
// TcpTls/LiteTls server variants, and the WebSocket variant of spec.md
// §4.5, all start from the same accepted *tls.Conn). Tagging the
// connection as transport.Conn is left to handle, since the WebSocket
// variant needs to perform its own server handshake on the raw
// connection first, before any transport tag is chosen.
func TCPTLSLoop(ctx *trojan.Context, ln net.Listener, handle TLSHandler) error {
	backoff := minBackoff
	warnLimiter := newWarnLimiter()
	for {
		if ctx.ShuttingDown() {
			return nil
		}
		if dl, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
			_ = dl.SetDeadline(time.Now().Add(pollInterval))
		}
		raw, err := ln.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.ShuttingDown() {
				return nil
			}
			warnAccept(ctx, warnLimiter, "tls accept failed", err)
			time.Sleep(backoff)
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff
		tlsConn, ok := raw.(*tls.Conn)
		if !ok {
			_ = raw.Close()
			continue
		}
		connCtx := ctx.WithConnection(trojan.NewConnID())
		go handle(connCtx, tlsConn)
	}
}

// QUICLoop runs an accept loop over a QUIC listener. Each accepted
// connection's first bidirectional stream arrives already wrapped as a
// transport.Conn, unlike TCPTLSLoop, which hands its handler the raw
// *tls.Conn.
func QUICLoop(ctx *trojan.Context, ln *transport.QUICListener, handle TransportHandler) error {
	backoff := minBackoff
	warnLimiter := newWarnLimiter()
	for {
		if ctx.ShuttingDown() {
			return nil
		}
		acceptCtx, cancel := context.WithTimeout(ctx, pollInterval)
		conn, err := ln.Accept(acceptCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.ShuttingDown() {
				return nil
			}
			warnAccept(ctx, warnLimiter, "quic accept failed", err)
			time.Sleep(backoff)
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff
		connCtx := ctx.WithConnection(trojan.NewConnID())
		go handle(connCtx, conn)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// RunAll runs every loop concurrently via golang.org/x/sync/errgroup and
// waits for all of them to return — which they do once the shutdown
// broadcast fires, since every loop above checks ctx.ShuttingDown() before
// and after each Accept.
func RunAll(loops ...func() error) error {
	var g errgroup.Group
	for _, loop := range loops {
		loop := loop
		g.Go(loop)
	}
	return g.Wait()
}
