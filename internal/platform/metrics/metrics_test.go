package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.ObserveBackendAttempt("primary", "network_failure", 2*time.Second)
	m.ObserveBackendAttempt("primary", "network_failure", time.Second)
	m.IncrementAccessVerifications("mismatch")
	m.IncrementSharesCreated()
	m.IncrementSharesCreated()
	m.DecrementSharesActive()
	m.AddAccessCodesSwept(3)
	m.IncrementRateLimited("access_verify")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BackendAttempts.WithLabelValues("primary", "network_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AccessVerifications.WithLabelValues("mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SharesActive))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.AccessCodesSwept))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited.WithLabelValues("access_verify")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBackendAttempt("primary", "succeeded", time.Millisecond)
		m.IncrementSubmissions("success")
		m.IncrementAccessCodesIssued(true)
		m.IncrementShareReads(false)
		m.IncrementRateLimited("access_request")
	})
}
