package main

import (
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/relayforge/trojan"
	"github.com/relayforge/trojan/acceptor"
	"github.com/relayforge/trojan/client"
	"github.com/relayforge/trojan/config"
	httpin "github.com/relayforge/trojan/inbound/http"
	"github.com/relayforge/trojan/inbound/socks5"
	"github.com/relayforge/trojan/metrics"
	"github.com/relayforge/trojan/relay"
)

// runClient drives the client half of spec.md §4: an HTTP-CONNECT
// listener on local_port and a SOCKS5 listener on local_port+1, each
// parsing its own inbound protocol before handing the extracted target
// to the outbound Dialer.
func runClient(ctx *trojan.Context, cfg *config.Config) error {
	dialer, err := client.NewDialer(cfg)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	reg := metrics.NewRegistry(metricsRegisterer)

	httpAddr := net.JoinHostPort(cfg.LocalAddr, fmt.Sprintf("%d", cfg.LocalPort))
	httpLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("client: listen http %s: %w", httpAddr, err)
	}
	defer httpLn.Close()

	socksAddr := net.JoinHostPort(cfg.LocalAddr, fmt.Sprintf("%d", cfg.SOCKS5Port()))
	socksLn, err := net.Listen("tcp", socksAddr)
	if err != nil {
		return fmt.Errorf("client: listen socks5 %s: %w", socksAddr, err)
	}
	defer socksLn.Close()

	ctx.Log.Info("client listening",
		zap.String("http_connect", httpAddr),
		zap.String("socks5", socksAddr),
		zap.String("remote", cfg.RemoteAddr))

	return acceptor.RunAll(
		func() error {
			return acceptor.PlainTCPLoop(ctx, httpLn, func(ctx *trojan.Context, conn net.Conn) {
				reg.ConnectionsTotal.WithLabelValues("http").Inc()
				serveHTTP(ctx, dialer, reg, conn)
			})
		},
		func() error {
			return acceptor.PlainTCPLoop(ctx, socksLn, func(ctx *trojan.Context, conn net.Conn) {
				reg.ConnectionsTotal.WithLabelValues("socks5").Inc()
				serveSOCKS5(ctx, dialer, reg, conn)
			})
		},
	)
}

// serveHTTP implements spec.md §4.2's two scenarios: a CONNECT tunnel,
// whose 200 reply is an unconditional output of completing the parse,
// not gated on the outbound connect (a separate §4.4 step), and a plain
// proxied request, whose already-read bytes are forwarded as the outbound
// handshake's PreRead with no reply of its own.
func serveHTTP(ctx *trojan.Context, dialer *client.Dialer, reg *metrics.Registry, conn net.Conn) {
	defer conn.Close()

	var parser httpin.Parser
	res, err := readUntil(conn, parser.Feed)
	if err != nil {
		ctx.Log.Debug("http parse failed", zap.Error(err))
		return
	}

	if res.IsHTTPS {
		if _, err := conn.Write([]byte(httpin.ConnectReply)); err != nil {
			return
		}
		outbound, err := dialer.Connect(ctx, res.Target, nil)
		if err != nil {
			ctx.Log.Debug("http connect failed", zap.Error(err))
			return
		}
		reg.ActiveConnDelta(1)
		defer reg.ActiveConnDelta(-1)
		_ = relay.Run(ctx, relay.WrapNetConn(conn), outbound, relay.DefaultIdleWindow, relay.WithByteCounter(reg.AddBytes))
		return
	}

	outbound, err := dialer.Connect(ctx, res.Target, res.Raw)
	if err != nil {
		ctx.Log.Debug("http proxy connect failed", zap.Error(err))
		return
	}
	reg.ActiveConnDelta(1)
	defer reg.ActiveConnDelta(-1)
	_ = relay.Run(ctx, relay.WrapNetConn(conn), outbound, relay.DefaultIdleWindow, relay.WithByteCounter(reg.AddBytes))
}

// serveSOCKS5 implements spec.md §4.3: the greeting reply is written
// immediately (it never depends on the outbound connect), but the
// request-stage reply is deferred until the outbound Dialer has either
// succeeded or failed, so a connect failure can still report SOCKS5's
// general failure code instead of always claiming success.
func serveSOCKS5(ctx *trojan.Context, dialer *client.Dialer, reg *metrics.Registry, conn net.Conn) {
	defer conn.Close()

	var parser socks5.Parser
	greet, err := readUntil(conn, parser.FeedGreeting)
	if err != nil {
		if rme, ok := err.(*socks5.RejectedMethodsError); ok {
			_, _ = conn.Write(rme.Reply)
		}
		ctx.Log.Debug("socks5 greeting failed", zap.Error(err))
		return
	}
	if _, err := conn.Write(greet.Reply); err != nil {
		return
	}

	req, err := readUntil(conn, parser.FeedRequest)
	if err != nil {
		if cns, ok := err.(*socks5.CommandNotSupportedError); ok {
			_, _ = conn.Write(cns.Reply)
		}
		ctx.Log.Debug("socks5 request failed", zap.Error(err))
		return
	}

	outbound, err := dialer.Connect(ctx, req.Target, nil)
	if err != nil {
		ctx.Log.Debug("socks5 connect failed", zap.Error(err))
		_, _ = conn.Write([]byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return
	}
	if _, err := conn.Write(req.Reply); err != nil {
		_ = outbound.Close()
		return
	}
	reg.ActiveConnDelta(1)
	defer reg.ActiveConnDelta(-1)
	_ = relay.Run(ctx, relay.WrapNetConn(conn), outbound, relay.DefaultIdleWindow, relay.WithByteCounter(reg.AddBytes))
}

// readUntil drives a resumable Feed function (matching socks5.Parser's
// and http.Parser's shape) against repeated reads from conn until it
// returns a non-incomplete result.
func readUntil[T any](conn net.Conn, feed func([]byte) (T, error)) (T, error) {
	buf := make([]byte, 4096)
	for {
		n, rerr := conn.Read(buf)
		if rerr != nil {
			var zero T
			return zero, rerr
		}
		res, err := feed(buf[:n])
		if err == nil {
			return res, nil
		}
		if kind, ok := trojan.KindOf(err); !ok || kind != trojan.KindIncomplete {
			return res, err
		}
	}
}
