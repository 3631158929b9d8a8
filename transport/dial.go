package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// DialTCPTLS opens a TCP connection to addr, disables Nagle's algorithm,
// optionally enables OS keepalive, and performs a TLS handshake with the
// given config (spec.md §4.4 step 1). lite selects the LiteTls tag and
// disables session-ticket resumption (see DESIGN.md); buffer sizes and the
// wire behavior are the same as for TcpTls.
func DialTCPTLS(ctx context.Context, addr string, tlsConf *tls.Config, keepAlive bool, lite bool) (*Conn, error) {
	dialer := &net.Dialer{}
	if keepAlive {
		dialer.KeepAlive = 30 * time.Second
	} else {
		dialer.KeepAlive = -1
	}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := raw.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	conf := tlsConf
	if lite {
		conf = conf.Clone()
		conf.SessionTicketsDisabled = true
	}
	tlsConn := tls.Client(raw, conf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if lite {
		return NewLiteTLS(tlsConn), nil
	}
	return NewTCPTLS(tlsConn), nil
}

// ListenTCPTLS binds a TLS listener on addr. fastOpen is passed to
// applyFastOpen, which is a no-op on every platform, so the listener
// never enables TCP Fast Open.
func ListenTCPTLS(addr string, tlsConf *tls.Config, fastOpen bool) (net.Listener, error) {
	lc := net.ListenConfig{}
	if fastOpen {
		applyFastOpen(&lc)
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	return tls.NewListener(ln, tlsConf), nil
}
