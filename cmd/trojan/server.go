package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/trojan"
	"github.com/relayforge/trojan/acceptor"
	"github.com/relayforge/trojan/config"
	"github.com/relayforge/trojan/metrics"
	"github.com/relayforge/trojan/relay"
	"github.com/relayforge/trojan/server"
	"github.com/relayforge/trojan/transport"
	"github.com/relayforge/trojan/transport/wsconn"
)

// runServer drives the server half of spec.md §4: accept one transport
// variant (TCP-TLS, lite-TLS, or QUIC, the WebSocket variant layered on
// top of either TLS kind), authenticate every accepted connection, and
// relay matching clients to their requested target.
func runServer(ctx *trojan.Context, cfg *config.Config) error {
	cert, err := tls.LoadX509KeyPair(cfg.TLSConfig.Cert, cfg.TLSConfig.Key)
	if err != nil {
		return fmt.Errorf("server: load certificate: %w", err)
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if len(cfg.TLSConfig.ALPN) > 0 {
		tlsConf.NextProtos = append([]string(nil), cfg.TLSConfig.ALPN...)
	}

	reg := metrics.NewRegistry(metricsRegisterer)
	auth := server.NewAuthenticator(cfg.Credentials, fallbackAddr(cfg))
	auth.Metrics = reg
	lite := cfg.Protocol == config.ProtocolLiteTLS

	handleTLS := func(ctx *trojan.Context, tlsConn *tls.Conn) {
		conn := tagTLSConn(ctx, cfg, tlsConn, lite)
		if conn == nil {
			return
		}
		serveConn(ctx, auth, reg, conn)
	}

	switch cfg.Protocol {
	case config.ProtocolQUIC:
		ln, err := transport.ListenQUIC(cfg.Listen, tlsConf)
		if err != nil {
			return fmt.Errorf("server: listen quic: %w", err)
		}
		defer ln.Close()
		ctx.Log.Info("server listening", zap.String("protocol", "quic"), zap.String("addr", cfg.Listen))
		return acceptor.QUICLoop(ctx, ln, func(ctx *trojan.Context, conn *transport.Conn) {
			reg.ConnectionsTotal.WithLabelValues("quic").Inc()
			serveConn(ctx, auth, reg, conn)
		})

	case config.ProtocolTCPTLS, config.ProtocolLiteTLS:
		ln, err := transport.ListenTCPTLS(cfg.Listen, tlsConf, cfg.FastOpen)
		if err != nil {
			return fmt.Errorf("server: listen tcp-tls: %w", err)
		}
		defer ln.Close()
		ctx.Log.Info("server listening", zap.String("protocol", string(cfg.Protocol)), zap.String("addr", cfg.Listen))
		return acceptor.TCPTLSLoop(ctx, ln, func(ctx *trojan.Context, tlsConn *tls.Conn) {
			reg.ConnectionsTotal.WithLabelValues(string(cfg.Protocol)).Inc()
			handleTLS(ctx, tlsConn)
		})

	default:
		return fmt.Errorf("server: unsupported protocol %q", cfg.Protocol)
	}
}

// tagTLSConn performs the optional WebSocket server handshake of
// spec.md §4.5 before tagging the connection as a transport.Conn; a
// failed or path-mismatched upgrade closes the raw connection and
// returns nil, which serveConn's caller treats as already handled.
func tagTLSConn(ctx *trojan.Context, cfg *config.Config, tlsConn *tls.Conn, lite bool) *transport.Conn {
	if cfg.WebSocket != nil && cfg.WebSocket.Enabled {
		ws, err := wsconn.AcceptServer(tlsConn, cfg.WebSocket.Path)
		if err != nil {
			ctx.Log.Debug("websocket upgrade failed", zap.Error(err))
			_ = tlsConn.Close()
			return nil
		}
		return transport.NewWSOverTLS(ws)
	}
	if lite {
		return transport.NewLiteTLS(tlsConn)
	}
	return transport.NewTCPTLS(tlsConn)
}

// serveConn authenticates one accepted connection and, on success, dials
// the requested target and relays the two streams together (spec.md
// §4.5-§4.6).
func serveConn(ctx *trojan.Context, auth *server.Authenticator, reg *metrics.Registry, conn *transport.Conn) {
	req, err := auth.Authenticate(ctx, conn)
	if err != nil {
		if err != server.ErrFallbackHandled {
			ctx.Log.Debug("handshake authentication failed", zap.Error(err))
		}
		return
	}

	outbound, err := net.DialTimeout("tcp", req.Target.String(), 10*time.Second)
	if err != nil {
		ctx.Log.Debug("failed to dial target", zap.String("target", req.Target.String()), zap.Error(err))
		_ = conn.Close()
		return
	}
	if len(req.PreRead) > 0 {
		if _, err := outbound.Write(req.PreRead); err != nil {
			_ = outbound.Close()
			_ = conn.Close()
			return
		}
	}
	reg.ActiveConnDelta(1)
	defer reg.ActiveConnDelta(-1)
	if err := relay.Run(ctx, conn, relay.WrapNetConn(outbound), relay.DefaultIdleWindow, relay.WithByteCounter(reg.AddBytes)); err != nil {
		ctx.Log.Debug("relay ended", zap.Error(err))
	}
}

// fallbackAddr derives the loopback address the authenticator splices
// mismatched probes to, or "" (drain-and-close) when no fallback port is
// configured (spec.md §4.5, §6).
func fallbackAddr(cfg *config.Config) string {
	if cfg.FallbackPort == 0 {
		return ""
	}
	return net.JoinHostPort("127.0.0.1", fmt.Sprintf("%d", cfg.FallbackPort))
}
