package acceptor

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/relayforge/trojan"
	"go.uber.org/zap"
)

func newTestCtx(t *testing.T) (*trojan.Context, func()) {
	ctx, cancel := trojan.NewContext(context.Background(), nil, zap.NewNop())
	t.Cleanup(cancel)
	return ctx, cancel
}

func TestPlainTCPLoopDispatchesAndStopsOnShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := newTestCtx(t)

	var mu sync.Mutex
	var handled int
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- PlainTCPLoop(ctx, ln, func(_ *trojan.Context, conn net.Conn) {
			mu.Lock()
			handled++
			mu.Unlock()
			conn.Close()
		})
	}()

	for i := 0; i < 3; i++ {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		c.Close()
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := handled
		mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d/3 connections dispatched", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-loopDone:
		if err != nil {
			t.Fatalf("loop returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not exit after shutdown broadcast")
	}
}

func TestWarnLimiterPacesRepeatedFailures(t *testing.T) {
	ctx, _ := newTestCtx(t)
	limiter := newWarnLimiter()

	var mu sync.Mutex
	logged := 0
	ctx.Log = zap.NewNop() // the limiter is driven directly; nothing is logged
	for i := 0; i < 5; i++ {
		mu.Lock()
		if limiter.Allow() {
			logged++
		}
		mu.Unlock()
	}
	if logged != 1 {
		t.Fatalf("5 back-to-back failures logged %d times, want exactly 1", logged)
	}
}

func TestBackoffDoublesAndSaturates(t *testing.T) {
	b := minBackoff
	seen := []time.Duration{b}
	for i := 0; i < 10; i++ {
		b = nextBackoff(b)
		seen = append(seen, b)
	}
	if seen[len(seen)-1] != maxBackoff {
		t.Fatalf("backoff did not saturate at maxBackoff: %v", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("backoff decreased: %v", seen)
		}
	}
}
