// Package client implements the outbound connector of spec.md §4.4: it
// dials the configured remote over TCP+TLS, QUIC, lite-TLS, or
// WebSocket-over-TLS, performs the Trojan handshake as a single write, and
// hands back a transport.Conn ready for package relay.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/relayforge/trojan"
	"github.com/relayforge/trojan/config"
	"github.com/relayforge/trojan/transport"
	"github.com/relayforge/trojan/transport/wsconn"
)

// Stage identifies which step of Connect failed, matching spec.md §4.4's
// failure taxonomy.
type Stage int

const (
	StageDNSOrConnect Stage = iota
	StageTLSHandshake
	StageQUICHandshake
	StageWSHandshake
	StageCancelled
)

func (s Stage) String() string {
	switch s {
	case StageDNSOrConnect:
		return "dns_or_connect"
	case StageTLSHandshake:
		return "tls_handshake"
	case StageQUICHandshake:
		return "quic_handshake"
	case StageWSHandshake:
		return "ws_handshake"
	case StageCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ConnectError reports which stage of the outbound connect failed.
type ConnectError struct {
	Stage Stage
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("client: %s: %v", e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Dialer holds the immutable per-process outbound configuration: the
// remote address and the pre-built TLS config (SNI, ALPN) derived from it
// once at startup rather than per connection.
type Dialer struct {
	cfg      *config.Config
	tlsConf  *tls.Config
	remote   string
	credHash trojan.Credential
}

// NewDialer builds a Dialer from a loaded client configuration. It hashes
// the first configured password once; BuildHandshake is called with this
// single credential per outbound connection (spec.md §6 only requires the
// client to know one of its own passwords).
func NewDialer(cfg *config.Config) (*Dialer, error) {
	if len(cfg.Passwords) == 0 {
		return nil, errors.New("client: no password configured")
	}
	tlsConf := &tls.Config{
		ServerName: cfg.TLSConfig.SNI,
		MinVersion: tls.VersionTLS12,
	}
	if len(cfg.TLSConfig.ALPN) > 0 {
		tlsConf.NextProtos = append([]string(nil), cfg.TLSConfig.ALPN...)
	}
	return &Dialer{
		cfg:      cfg,
		tlsConf:  tlsConf,
		remote:   net.JoinHostPort(cfg.RemoteAddr, fmt.Sprintf("%d", cfg.RemotePort)),
		credHash: trojan.HashPassword(cfg.Passwords[0]),
	}, nil
}

// Connect performs the full outbound sequence of spec.md §4.4: dial,
// optional WebSocket upgrade, and a single atomic write of the Trojan
// handshake frame plus preRead. The returned transport.Conn is ready to be
// handed to relay.Run as the "B" side.
func (d *Dialer) Connect(ctx *trojan.Context, target trojan.Address, preRead []byte) (*transport.Conn, error) {
	if ctx.ShuttingDown() {
		return nil, &ConnectError{Stage: StageCancelled, Err: context.Canceled}
	}

	conn, err := d.dialTransport(ctx)
	if err != nil {
		return nil, err
	}

	frame := trojan.BuildHandshake(d.credHash, target, preRead)
	if _, err := conn.Write(frame); err != nil {
		_ = conn.Close()
		return nil, &ConnectError{Stage: d.handshakeStage(), Err: err}
	}
	if err := conn.Flush(); err != nil {
		_ = conn.Close()
		return nil, &ConnectError{Stage: d.handshakeStage(), Err: err}
	}
	return conn, nil
}

func (d *Dialer) handshakeStage() Stage {
	if d.cfg.Protocol == config.ProtocolQUIC {
		return StageQUICHandshake
	}
	return StageTLSHandshake
}

func (d *Dialer) dialTransport(ctx *trojan.Context) (*transport.Conn, error) {
	switch d.cfg.Protocol {
	case config.ProtocolQUIC:
		conn, err := transport.DialQUIC(ctx, d.remote, d.tlsConf)
		if err != nil {
			return nil, &ConnectError{Stage: StageQUICHandshake, Err: err}
		}
		return conn, nil

	case config.ProtocolTCPTLS, config.ProtocolLiteTLS:
		lite := d.cfg.Protocol == config.ProtocolLiteTLS
		if d.cfg.WebSocket != nil && d.cfg.WebSocket.Enabled {
			return d.dialWebSocket(ctx, lite)
		}
		conn, err := transport.DialTCPTLS(ctx, d.remote, d.tlsConf, d.cfg.TCPKeepAlive, lite)
		if err != nil {
			return nil, classifyDialErr(err)
		}
		return conn, nil

	default:
		return nil, &ConnectError{Stage: StageDNSOrConnect, Err: fmt.Errorf("unknown protocol %q", d.cfg.Protocol)}
	}
}

// dialWebSocket performs step 1 (TCP+TLS dial) and step 2 (WebSocket client
// handshake) of spec.md §4.4 when WebSocket wrapping is configured. The
// WebSocket adapter wraps the TCP-TLS transport.Conn from DialTCPTLS, and
// the transport.Conn returned here is tagged KindWSOverTLS rather than
// KindTCPTLS/KindLiteTLS.
func (d *Dialer) dialWebSocket(ctx *trojan.Context, lite bool) (*transport.Conn, error) {
	tcpTLS, err := transport.DialTCPTLS(ctx, d.remote, d.tlsConf, d.cfg.TCPKeepAlive, lite)
	if err != nil {
		return nil, classifyDialErr(err)
	}
	ws, err := wsconn.DialClient(tcpTLS, d.cfg.WebSocket.Hostname, d.cfg.WebSocket.Path)
	if err != nil {
		_ = tcpTLS.Close()
		return nil, &ConnectError{Stage: StageWSHandshake, Err: err}
	}
	return transport.NewWSOverTLS(ws), nil
}

// classifyDialErr distinguishes a DNS/TCP-connect failure from a TLS
// handshake failure so the taxonomy in spec.md §4.4 is reported correctly;
// both come back from transport.DialTCPTLS as a plain error, so the split
// is done here by checking whether the failure is a *tls.RecordHeaderError
// or other tls-specific type versus a *net.OpError from the dial itself.
func classifyDialErr(err error) error {
	var tlsErr tls.RecordHeaderError
	if errors.As(err, &tlsErr) {
		return &ConnectError{Stage: StageTLSHandshake, Err: err}
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) && netErr.Op == "dial" {
		return &ConnectError{Stage: StageDNSOrConnect, Err: err}
	}
	// Anything else happened after the TCP connect succeeded (handshake
	// context deadline, certificate verification, …): treat as TLS.
	return &ConnectError{Stage: StageTLSHandshake, Err: err}
}
