package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/mcdev12/watchparty/go/internal/videosync"
)

func setupTestMetrics() *PrometheusMetrics {
	return NewPrometheusMetrics(prometheus.NewRegistry())
}

func TestPrometheusMetrics_Sessions(t *testing.T) {
	m := setupTestMetrics()

	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
}

func TestPrometheusMetrics_HostOutcomes(t *testing.T) {
	m := setupTestMetrics()

	m.HostClaimed(true)
	m.HostClaimed(false)
	m.HostClaimed(true)
	m.HostHandoff(true)
	m.HostHandoff(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.hostClaims.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hostClaims.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hostHandoffs.WithLabelValues("handed_off")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hostHandoffs.WithLabelValues("released")))
}

func TestPrometheusMetrics_Counters(t *testing.T) {
	m := setupTestMetrics()

	m.DriftCorrected(4.5)
	m.Broadcast(videosync.BroadcastTiming)
	m.Broadcast(videosync.BroadcastTiming)
	m.StoreError("set")
	m.Retry("claim_host")
	m.ConnectionOpened()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.driftCorrections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.broadcasts.WithLabelValues("timing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeErrors.WithLabelValues("set")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("claim_host")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))
}

func TestNewPrometheusMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		setupTestMetrics()
		setupTestMetrics()
	})
}
