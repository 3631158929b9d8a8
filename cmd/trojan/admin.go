package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relayforge/trojan"
)

// metricsRegisterer is the single Prometheus registry every component's
// metrics.Registry is built against, mirroring the teacher's own pattern
// of threading one Registerer through the process rather than reaching
// for the global DefaultRegisterer from multiple places.
var metricsRegisterer prometheus.Registerer = prometheus.NewRegistry()

// startAdmin runs a small chi-routed HTTP server exposing /metrics and
// /healthz, matching the teacher's admin-API convention of a
// separately-addressed, optional operational listener.
func startAdmin(ctx *trojan.Context, addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	gatherer, ok := metricsRegisterer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Handler: r}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			ctx.Log.Warn("admin listener stopped", zap.Error(err))
		}
	}()
	ctx.Log.Info("admin listener started", zap.String("addr", addr))

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return stop, nil
}
