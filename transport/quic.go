package transport

import (
	"context"
	"crypto/tls"

	"github.com/quic-go/quic-go"
)

// quicConfig is shared between client dial and server listen; spec.md's
// Open Question on ALPN is resolved here by simply passing through
// whatever *tls.Config the caller built (client.NewDialer and
// cmd/trojan's runServer copy the configured ALPN list into NextProtos).
var quicConfig = &quic.Config{
	MaxIdleTimeout:  0, // relay package owns the idle policy (spec.md §4.6)
	KeepAlivePeriod: 0,
}

// DialQUIC establishes a new QUIC connection to addr and opens one
// bidirectional stream on it. No connection is reused: every proxied
// connection gets its own QUIC connection.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config) (*Conn, error) {
	qconn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig)
	if err != nil {
		return nil, err
	}
	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		_ = qconn.CloseWithError(0, "stream open failed")
		return nil, err
	}
	return NewQUIC(qconn, stream), nil
}

// QUICListener is the server-side accept surface: one *quic.Listener
// producing one *Conn per accepted QUIC connection, wrapping that
// connection's first bidirectional stream.
type QUICListener struct {
	ln *quic.Listener
}

// ListenQUIC binds a QUIC listener on addr.
func ListenQUIC(addr string, tlsConf *tls.Config) (*QUICListener, error) {
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig)
	if err != nil {
		return nil, err
	}
	return &QUICListener{ln: ln}, nil
}

// Accept blocks for the next QUIC connection and its first bidirectional
// stream, wrapping both as a *Conn.
func (l *QUICListener) Accept(ctx context.Context) (*Conn, error) {
	qconn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := qconn.AcceptStream(ctx)
	if err != nil {
		_ = qconn.CloseWithError(0, "stream accept failed")
		return nil, err
	}
	return NewQUIC(qconn, stream), nil
}

func (l *QUICListener) Close() error {
	return l.ln.Close()
}

func (l *QUICListener) Addr() string {
	return l.ln.Addr().String()
}
