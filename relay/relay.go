// Package relay implements the bidirectional copy engine of spec.md §4.6:
// two byte streams are copied concurrently in both directions, with
// half-close propagation on EOF, shutdown-broadcast observation with a
// grace period, and an idle-connection timeout for streams that never
// transfer any bytes.
package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relayforge/trojan"
)

// BufferSize is the per-direction copy buffer, at least the 8 KiB
// spec.md §4.6 asks for.
const BufferSize = 16 * 1024

// ShutdownGrace is how long an in-flight relay is given to half-close
// cleanly after the shutdown broadcast fires before being hard-closed
// (spec.md §4.6, §8 invariant 6).
const ShutdownGrace = 2 * time.Second

// DefaultIdleWindow is how long a connection that has moved zero bytes in
// either direction after the handshake is kept open before being dropped
// (spec.md §4.6).
const DefaultIdleWindow = 60 * time.Second

// Stream is what relay.Run needs from each side: a reader, a writer, a
// half-close, and a full close. *transport.Conn satisfies this directly; a
// plain net.Conn has no CloseWrite and is adapted with WrapNetConn.
type Stream interface {
	io.Reader
	io.Writer
	CloseWrite() error
	Close() error
}

// Option configures optional instrumentation on Run; the zero value of
// every option is a no-op, so existing call sites that pass none are
// unaffected.
type Option func(*options)

type options struct {
	onBytes func(direction string, n int)
}

// WithByteCounter reports n bytes successfully written in the given
// direction ("a_to_b" or "b_to_a") after every Write, wired by callers
// that want byte-volume metrics (see metrics.Registry.AddBytes).
func WithByteCounter(fn func(direction string, n int)) Option {
	return func(o *options) { o.onBytes = fn }
}

// Run copies bytes between a (the inbound/client side) and b (the
// outbound/origin side) until both directions have reached EOF, the
// shutdown broadcast fires, or a write error aborts the relay. idleWindow
// <= 0 uses DefaultIdleWindow.
func Run(ctx *trojan.Context, a, b Stream, idleWindow time.Duration, opts ...Option) error {
	if idleWindow <= 0 {
		idleWindow = DefaultIdleWindow
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var transferred atomic.Bool
	idleTimer := time.NewTimer(idleWindow)
	defer idleTimer.Stop()

	done := make(chan struct{})
	var once sync.Once
	closeAll := func() {
		once.Do(func() {
			_ = a.Close()
			_ = b.Close()
			close(done)
		})
	}

	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex
	recordErr := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	copyDir := func(dst, src Stream, direction string) {
		defer wg.Done()
		buf := make([]byte, BufferSize)
		for {
			n, rerr := src.Read(buf)
			if n > 0 {
				transferred.Store(true)
				if _, werr := dst.Write(buf[:n]); werr != nil {
					recordErr(trojan.IO(werr))
					closeAll()
					return
				}
				if o.onBytes != nil {
					o.onBytes(direction, n)
				}
			}
			if rerr != nil {
				if !errors.Is(rerr, io.EOF) {
					recordErr(trojan.IO(rerr))
				}
				_ = dst.CloseWrite()
				return
			}
		}
	}

	wg.Add(2)
	go copyDir(b, a, "a_to_b")
	go copyDir(a, b, "b_to_a")

	go func() {
		wg.Wait()
		closeAll()
	}()

	for {
		select {
		case <-done:
			return firstErr
		case <-idleTimer.C:
			if !transferred.Load() {
				closeAll()
				<-done
				return trojan.Timeout(context.DeadlineExceeded)
			}
		case <-ctx.Done():
			grace := time.NewTimer(ShutdownGrace)
			select {
			case <-done:
				grace.Stop()
				return firstErr
			case <-grace.C:
				// Snapshot the error before closeAll, so read errors caused
				// by the hard close itself are not reported instead of the
				// shutdown.
				errMu.Lock()
				err := firstErr
				errMu.Unlock()
				closeAll()
				<-done
				if err != nil {
					return err
				}
				return &trojan.Error{Kind: trojan.KindShutdown}
			}
		}
	}
}

// netConnStream adapts a net.Conn to Stream, reaching for the concrete
// type's own CloseWrite (e.g. *net.TCPConn) when present and otherwise
// falling back to a full Close — used for plain outbound dials, which have
// no half-close contract of their own the way transport.Conn does.
type netConnStream struct{ net.Conn }

func (s netConnStream) CloseWrite() error {
	if wc, ok := s.Conn.(interface{ CloseWrite() error }); ok {
		return wc.CloseWrite()
	}
	return s.Conn.Close()
}

// WrapNetConn adapts any net.Conn to Stream.
func WrapNetConn(c net.Conn) Stream {
	return netConnStream{c}
}
