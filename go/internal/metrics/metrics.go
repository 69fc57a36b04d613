// Package metrics exposes session and gateway telemetry to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mcdev12/watchparty/go/internal/videosync"
)

// PrometheusMetrics implements videosync.Metrics.
type PrometheusMetrics struct {
	activeSessions   prometheus.Gauge
	hostClaims       *prometheus.CounterVec
	hostHandoffs     *prometheus.CounterVec
	driftCorrections prometheus.Counter
	driftSeconds     prometheus.Histogram
	broadcasts       *prometheus.CounterVec
	storeErrors      *prometheus.CounterVec
	retries          *prometheus.CounterVec
	connections      prometheus.Gauge
}

var _ videosync.Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers the collectors on reg. A nil reg means the
// default registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PrometheusMetrics{
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "watchparty_active_sessions",
			Help: "Sessions currently configured for an event",
		}),
		hostClaims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchparty_host_claims_total",
			Help: "Host claim attempts by outcome",
		}, []string{"status"}),
		hostHandoffs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchparty_host_handoffs_total",
			Help: "Host exits by outcome",
		}, []string{"result"}),
		driftCorrections: f.NewCounter(prometheus.CounterOpts{
			Name: "watchparty_drift_corrections_total",
			Help: "Follower seeks triggered by timing drift",
		}),
		driftSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "watchparty_drift_seconds",
			Help:    "Drift observed when a correction was applied",
			Buckets: prometheus.ExponentialBuckets(3, 2, 8),
		}),
		broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchparty_broadcasts_total",
			Help: "Successful writes to shared room documents",
		}, []string{"kind"}),
		storeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchparty_store_errors_total",
			Help: "Failed store operations",
		}, []string{"op"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchparty_retries_total",
			Help: "Retried operations",
		}, []string{"op"}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "watchparty_gateway_connections",
			Help: "Open viewer WebSocket connections",
		}),
	}
}

func (m *PrometheusMetrics) SessionStarted() { m.activeSessions.Inc() }

func (m *PrometheusMetrics) SessionEnded() { m.activeSessions.Dec() }

func (m *PrometheusMetrics) HostClaimed(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.hostClaims.WithLabelValues(status).Inc()
}

func (m *PrometheusMetrics) HostHandoff(handedOff bool) {
	result := "handed_off"
	if !handedOff {
		result = "released"
	}
	m.hostHandoffs.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) DriftCorrected(drift float64) {
	m.driftCorrections.Inc()
	m.driftSeconds.Observe(drift)
}

func (m *PrometheusMetrics) Broadcast(kind string) { m.broadcasts.WithLabelValues(kind).Inc() }

func (m *PrometheusMetrics) StoreError(op string) { m.storeErrors.WithLabelValues(op).Inc() }

func (m *PrometheusMetrics) Retry(op string) { m.retries.WithLabelValues(op).Inc() }

// ConnectionOpened and ConnectionClosed track gateway sockets.
func (m *PrometheusMetrics) ConnectionOpened() { m.connections.Inc() }

func (m *PrometheusMetrics) ConnectionClosed() { m.connections.Dec() }
