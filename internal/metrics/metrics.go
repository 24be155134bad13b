package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	AuditEvents          *prometheus.CounterVec
	AuditPersistFailures prometheus.Counter
	AuditPersistDropped  prometheus.Counter
	AuditAlertFailures   prometheus.Counter

	PHIMatches      *prometheus.CounterVec
	Redactions      prometheus.Counter
	IngestedRecords *prometheus.CounterVec

	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	RateLimitRejected prometheus.Counter
	WebSocketClients  prometheus.Gauge
}

// New registers all collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuditEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phi_sentinel_audit_events_total",
			Help: "Audit events logged, by action and risk level",
		}, []string{"action", "risk_level"}),
		AuditPersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "phi_sentinel_audit_persist_failures_total",
			Help: "Audit events the durable store failed to persist",
		}),
		AuditPersistDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "phi_sentinel_audit_persist_dropped_total",
			Help: "Audit events not queued for persistence because the queue was full",
		}),
		AuditAlertFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "phi_sentinel_audit_alert_failures_total",
			Help: "High risk alerts that failed to deliver",
		}),
		PHIMatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phi_sentinel_phi_matches_total",
			Help: "PHI matches found, by pattern",
		}, []string{"pattern"}),
		Redactions: f.NewCounter(prometheus.CounterOpts{
			Name: "phi_sentinel_redactions_total",
			Help: "Spans redacted",
		}),
		IngestedRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phi_sentinel_ingested_records_total",
			Help: "Records processed by the batch scanner, by outcome",
		}, []string{"outcome"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phi_sentinel_http_requests_total",
			Help: "HTTP requests served, by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phi_sentinel_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RateLimitRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "phi_sentinel_rate_limit_rejected_total",
			Help: "Requests rejected by the rate limiter",
		}),
		WebSocketClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "phi_sentinel_websocket_clients",
			Help: "Connected WebSocket clients",
		}),
	}
}

func (m *Metrics) AuditEventLogged(action, risk string) {
	if m == nil {
		return
	}
	m.AuditEvents.WithLabelValues(action, risk).Inc()
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.AuditPersistFailures.Inc()
}

func (m *Metrics) PersistDropped() {
	if m == nil {
		return
	}
	m.AuditPersistDropped.Inc()
}

func (m *Metrics) AlertFailed() {
	if m == nil {
		return
	}
	m.AuditAlertFailures.Inc()
}

// MatchesFound counts matches per pattern name
func (m *Metrics) MatchesFound(types []string) {
	if m == nil {
		return
	}
	for _, t := range types {
		m.PHIMatches.WithLabelValues(t).Inc()
	}
}

func (m *Metrics) Redacted(count int) {
	if m == nil {
		return
	}
	m.Redactions.Add(float64(count))
}

func (m *Metrics) RecordIngested(outcome string) {
	if m == nil {
		return
	}
	m.IngestedRecords.WithLabelValues(outcome).Inc()
}

// ObserveRequest records one served HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.RateLimitRejected.Inc()
}

func (m *Metrics) SetWebSocketClients(n int) {
	if m == nil {
		return
	}
	m.WebSocketClients.Set(float64(n))
}
