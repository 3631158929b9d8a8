// Package wsconn implements the WebSocket byte-stream adapter of
// spec.md §4.7: it presents a frame-oriented WebSocket duplex as a
// contiguous byte stream with exactly one binary frame per Write and no
// cross-write coalescing.
//
// Framing is done with github.com/gobwas/ws directly rather than its
// higher-level wsutil helpers, because the adapter needs exact control
// over frame boundaries (spec.md names this explicitly: "never coalesces
// across writes and never fragments a single write across frames"),
// which the low-level ws.ReadHeader/ws.WriteFrame primitives give for
// free and a message-oriented library would hide.
package wsconn

import (
	"io"
	"net/url"

	"github.com/gobwas/ws"
)

// Conn adapts an underlying io.ReadWriter (already TLS-terminated) frame
// by frame into a byte stream.
type Conn struct {
	rw       io.ReadWriter
	isClient bool // client frames must be masked per RFC 6455
	residual []byte
	closed   bool
}

// wrap builds an adapter over rw. isClient controls frame masking:
// clients mask outgoing frames, servers do not.
func wrap(rw io.ReadWriter, isClient bool) *Conn {
	return &Conn{rw: rw, isClient: isClient}
}

// DialClient performs the WebSocket client handshake (spec.md §4.4 step
// 2: fixed Sec-WebSocket-Version: 13, configured path/host) over an
// already-established connection rw — the caller has already done the
// TCP+TLS dial and SNI negotiation; this only speaks the HTTP Upgrade
// exchange on top of it.
func DialClient(rw io.ReadWriter, host, path string) (*Conn, error) {
	u := &url.URL{Scheme: "wss", Host: host, Path: path}
	dialer := ws.Dialer{}
	_, _, err := dialer.Upgrade(rw, u)
	if err != nil {
		return nil, err
	}
	return wrap(rw, true), nil
}

// AcceptServer performs the WebSocket server handshake (spec.md §4.5
// WebSocket variant). wantPath is compared against the request path
// ignoring trailing slashes; a mismatch rejects with 404 and the
// caller must close the connection.
func AcceptServer(rw io.ReadWriter, wantPath string) (*Conn, error) {
	upgrader := ws.Upgrader{
		OnRequest: func(uri []byte) error {
			if !pathMatches(string(uri), wantPath) {
				return ws.RejectConnectionError(
					ws.RejectionStatus(404),
					ws.RejectionReason("not found"),
				)
			}
			return nil
		},
	}
	if _, err := upgrader.Upgrade(rw); err != nil {
		return nil, err
	}
	return wrap(rw, false), nil
}

func pathMatches(got, want string) bool {
	trim := func(s string) string {
		for len(s) > 1 && s[len(s)-1] == '/' {
			s = s[:len(s)-1]
		}
		return s
	}
	return trim(got) == trim(want)
}

// Read implements the byte-stream side of the adapter: binary/text
// payloads are appended to a residual buffer and drained into p; Close
// frames translate to io.EOF; Ping frames are answered with Pong and
// otherwise consumed silently; Pong frames are ignored.
func (c *Conn) Read(p []byte) (int, error) {
	for len(c.residual) == 0 {
		if c.closed {
			return 0, io.EOF
		}
		header, err := ws.ReadHeader(c.rw)
		if err != nil {
			return 0, err
		}
		payload := make([]byte, int(header.Length))
		if _, err := io.ReadFull(c.rw, payload); err != nil {
			return 0, err
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}
		switch header.OpCode {
		case ws.OpClose:
			c.closed = true
			return 0, io.EOF
		case ws.OpPing:
			if err := c.writeControl(ws.OpPong, payload); err != nil {
				return 0, err
			}
		case ws.OpPong:
			// consumed silently
		case ws.OpText, ws.OpBinary:
			c.residual = payload
		default:
			// continuation frames are not expected from a peer that
			// respects our one-write-one-frame contract; ignore.
		}
	}
	n := copy(p, c.residual)
	c.residual = c.residual[n:]
	return n, nil
}

// Write sends p as exactly one Binary frame.
func (c *Conn) Write(p []byte) (int, error) {
	frame := ws.NewBinaryFrame(p)
	if c.isClient {
		frame = ws.MaskFrame(frame)
	}
	if err := ws.WriteFrame(c.rw, frame); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) writeControl(op ws.OpCode, payload []byte) error {
	frame := ws.NewFrame(op, true, payload)
	if c.isClient {
		frame = ws.MaskFrame(frame)
	}
	return ws.WriteFrame(c.rw, frame)
}

// Flush reaches through to the underlying sink's Flush, if it has one;
// the adapter itself never buffers (every Write is one frame, sent
// immediately).
func (c *Conn) Flush() error {
	if f, ok := c.rw.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// CloseWrite sends a Close frame without tearing down the underlying
// connection, so the caller's half-close semantics (spec.md §4.6) apply.
func (c *Conn) CloseWrite() error {
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	return c.writeControl(ws.OpClose, body)
}

// Close closes the underlying connection. Per spec.md §9, "leave()" —
// downgrading a WebSocket transport back to raw TCP — is intentionally
// unimplemented; Close always tears the whole thing down.
func (c *Conn) Close() error {
	_ = c.CloseWrite()
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
