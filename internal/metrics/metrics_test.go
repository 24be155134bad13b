package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("nil is a no-op", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.AuditEventLogged("phi_detected", "high")
			m.PersistFailed()
			m.ObserveRequest("GET", "/health", 200, time.Millisecond)
			m.SetWebSocketClients(3)
		})
	})

	t.Run("collectors registered", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := New(reg)
		m.AuditEventLogged("phi_detected", "high")
		m.AuditEventLogged("phi_detected", "high")
		m.MatchesFound([]string{"SSN", "Email"})
		m.ObserveRequest("POST", "/api/v1/detect", 200, 5*time.Millisecond)

		families, err := reg.Gather()
		require.NoError(t, err)

		values := make(map[string]float64)
		for _, f := range families {
			for _, metric := range f.GetMetric() {
				if c := metric.GetCounter(); c != nil {
					values[f.GetName()] += c.GetValue()
				}
			}
		}
		assert.Equal(t, 2.0, values["phi_sentinel_audit_events_total"])
		assert.Equal(t, 2.0, values["phi_sentinel_phi_matches_total"])
		assert.Equal(t, 1.0, values["phi_sentinel_http_requests_total"])
	})

	t.Run("duplicate registration panics", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		New(reg)
		assert.Panics(t, func() { New(reg) })
	})
}
