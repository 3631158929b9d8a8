// Package metrics exposes the engine's Prometheus instrumentation: counts
// of accepted/fallback connections, bytes relayed per direction, and a
// gauge of currently active relays. It is wired into the optional
// admin/metrics HTTP listener (package cmd/trojan's admin.go) the same way
// Caddy exposes its own admin metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every metric this engine reports, so callers pass one
// value around instead of a dozen package-level globals.
type Registry struct {
	ConnectionsTotal      *prometheus.CounterVec
	FallbackConnsTotal    prometheus.Counter
	BytesRelayedTotal     *prometheus.CounterVec
	ActiveConnections     prometheus.Gauge
	HandshakeFailureTotal *prometheus.CounterVec
}

// NewRegistry builds a Registry and registers every metric against reg.
// Passing prometheus.NewRegistry() (rather than the global DefaultRegisterer)
// keeps metrics registration idempotent across repeated test runs.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trojan",
			Name:      "connections_total",
			Help:      "Total inbound connections accepted, by listener kind.",
		}, []string{"listener"}),
		FallbackConnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trojan",
			Name:      "fallback_connections_total",
			Help:      "Total connections spliced to the fallback origin.",
		}),
		BytesRelayedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trojan",
			Name:      "bytes_relayed_total",
			Help:      "Total bytes copied by the relay engine, by direction.",
		}, []string{"direction"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trojan",
			Name:      "active_connections",
			Help:      "Number of connections currently being relayed.",
		}),
		HandshakeFailureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trojan",
			Name:      "handshake_failures_total",
			Help:      "Total server-side handshake authentication failures, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		r.ConnectionsTotal,
		r.FallbackConnsTotal,
		r.BytesRelayedTotal,
		r.ActiveConnections,
		r.HandshakeFailureTotal,
	)
	return r
}

// HandshakeFailure and FallbackConn give *Registry the shape of
// server.MetricsSink without package metrics importing package server —
// cmd/trojan passes a *Registry directly wherever that interface is
// expected.
func (r *Registry) HandshakeFailure(reason string) {
	r.HandshakeFailureTotal.WithLabelValues(reason).Inc()
}

func (r *Registry) FallbackConn() {
	r.FallbackConnsTotal.Inc()
}

// AddBytes records n bytes copied in the given direction ("a_to_b" or
// "b_to_a" by this engine's convention; see relay.WithByteCounter).
func (r *Registry) AddBytes(direction string, n int) {
	r.BytesRelayedTotal.WithLabelValues(direction).Add(float64(n))
}

// ActiveConnDelta adjusts the active-connections gauge by delta (+1 when a
// relay starts, -1 when it ends).
func (r *Registry) ActiveConnDelta(delta float64) {
	r.ActiveConnections.Add(delta)
}
