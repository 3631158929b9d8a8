package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistryCountsConnections(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.ConnectionsTotal.WithLabelValues("socks5").Inc()
	m.ConnectionsTotal.WithLabelValues("socks5").Inc()
	m.FallbackConnsTotal.Inc()

	mf, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var found bool
	for _, fam := range mf {
		if fam.GetName() != "trojan_connections_total" {
			continue
		}
		found = true
		for _, metric := range fam.GetMetric() {
			if metric.GetCounter().GetValue() != 2 {
				t.Fatalf("connections_total = %v, want 2", metric.GetCounter().GetValue())
			}
		}
	}
	if !found {
		t.Fatal("trojan_connections_total not present in gathered metrics")
	}
}

func TestRegistrySatisfiesServerMetricsSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.HandshakeFailure("invalid")
	m.FallbackConn()
	m.AddBytes("a_to_b", 128)
	m.ActiveConnDelta(1)
	m.ActiveConnDelta(-1)

	mf, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := map[string]float64{}
	for _, fam := range mf {
		for _, metric := range fam.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[fam.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[fam.GetName()] += metric.GetGauge().GetValue()
			}
		}
	}
	if values["trojan_handshake_failures_total"] != 1 {
		t.Fatalf("handshake_failures_total = %v, want 1", values["trojan_handshake_failures_total"])
	}
	if values["trojan_fallback_connections_total"] != 1 {
		t.Fatalf("fallback_connections_total = %v, want 1", values["trojan_fallback_connections_total"])
	}
	if values["trojan_bytes_relayed_total"] != 128 {
		t.Fatalf("bytes_relayed_total = %v, want 128", values["trojan_bytes_relayed_total"])
	}
	if values["trojan_active_connections"] != 0 {
		t.Fatalf("active_connections = %v, want 0", values["trojan_active_connections"])
	}
}
