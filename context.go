package trojan

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Context is the shared, read-only configuration snapshot plus the
// per-connection view of the shutdown broadcast, mirroring the role
// caddy.Context plays for module lifetimes: one value is created at
// startup, and every connection task derives a cheap child from it rather
// than reaching for global state (spec §3, §5, §9).
type Context struct {
	context.Context

	// Settings is the immutable record produced by config.Load. It is
	// typed as `any` here to keep the core engine decoupled from the
	// config package (which would otherwise create an import cycle back
	// into this package); callers type-assert to *config.Config.
	Settings any

	Log *zap.Logger

	shutdown *shutdown
	connID   string
}

// shutdown is a single broadcast: every subscriber calls Done() and
// receives the same closed channel once Fire is called, which is all the
// "broadcast channel" guarantee spec §5 asks for — a Go channel close
// wakes arbitrarily many receivers at once, with no fan-out bookkeeping
// required.
type shutdown struct {
	once sync.Once
	ch   chan struct{}
}

func newShutdown() *shutdown {
	return &shutdown{ch: make(chan struct{})}
}

func (s *shutdown) fire() {
	s.once.Do(func() { close(s.ch) })
}

// NewContext builds the root Context for a process. The returned
// shutdownFn fires the shutdown broadcast and then cancels the background
// context.Context; it must be called to release that context (mirrors
// context.WithCancel's contract) and is safe to call more than once.
func NewContext(parent context.Context, settings any, log *zap.Logger) (ctx *Context, shutdownFn func()) {
	bg, cancel := context.WithCancel(parent)
	sd := newShutdown()
	ctx = &Context{
		Context:  bg,
		Settings: settings,
		Log:      log,
		shutdown: sd,
	}
	return ctx, func() {
		sd.fire()
		cancel()
	}
}

// Done returns the shutdown broadcast channel. It intentionally shadows
// context.Context's own Done() (cancellation of the background context)
// because every connection task in this engine cares about one thing:
// "has the operator asked us to shut down" — not whatever ad hoc
// cancellation the background context might separately carry.
func (c *Context) Done() <-chan struct{} {
	return c.shutdown.ch
}

// ShuttingDown reports whether the shutdown broadcast has already fired,
// for code paths (like the acceptor) that need a non-blocking check before
// calling Accept again.
func (c *Context) ShuttingDown() bool {
	select {
	case <-c.shutdown.ch:
		return true
	default:
		return false
	}
}

// WithConnection derives a per-connection Context carrying a short
// correlation ID for log lines, without creating a new cancellation
// source — the shutdown channel is shared as-is, since a channel receive
// is safe for any number of concurrent readers (spec §3's "subscribing a
// fresh receive handle" is satisfied by handing out the same channel).
func (c *Context) WithConnection(id string) *Context {
	child := *c
	child.connID = id
	child.Log = c.Log.With(zap.String("conn", id))
	return &child
}

// ConnID returns the correlation ID assigned by WithConnection, or "" on
// the root Context.
func (c *Context) ConnID() string { return c.connID }

// NewConnID mints a short correlation ID for a freshly accepted
// connection, truncated the way high-volume request loggers usually do
// to keep log lines scannable.
func NewConnID() string {
	return uuid.NewString()[:8]
}
