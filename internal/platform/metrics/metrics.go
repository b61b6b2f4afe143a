package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. All methods are
// safe to call on a nil *Metrics so tests can omit instrumentation.
type Metrics struct {
	BackendAttempts        *prometheus.CounterVec
	BackendAttemptDuration *prometheus.HistogramVec
	Submissions            *prometheus.CounterVec
	AccessCodesIssued      *prometheus.CounterVec
	AccessVerifications    *prometheus.CounterVec
	AccessCodesSwept       prometheus.Counter
	SharesCreated          prometheus.Counter
	SharesActive           prometheus.Gauge
	ShareReads             *prometheus.CounterVec
	RateLimited            *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers metrics on reg, letting tests use a private registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BackendAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assessgate_backend_attempts_total",
			Help: "Backend endpoint attempts by endpoint and outcome category",
		}, []string{"endpoint", "outcome"}),
		BackendAttemptDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assessgate_backend_attempt_duration_seconds",
			Help:    "Latency of a single backend endpoint attempt",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"endpoint"}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assessgate_submissions_total",
			Help: "Diagnosis submissions by final result",
		}, []string{"result"}),
		AccessCodesIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assessgate_access_codes_issued_total",
			Help: "Access codes issued, labelled by whether delivery succeeded",
		}, []string{"delivered"}),
		AccessVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assessgate_access_verifications_total",
			Help: "Access code verifications by outcome",
		}, []string{"status"}),
		AccessCodesSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "assessgate_access_codes_swept_total",
			Help: "Expired access codes removed by the background sweep",
		}),
		SharesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "assessgate_shares_created_total",
			Help: "Shared progress records created",
		}),
		SharesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "assessgate_shares_active",
			Help: "Shared progress records currently held in memory",
		}),
		ShareReads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assessgate_share_reads_total",
			Help: "Shared progress reads, labelled by whether a new participant was counted",
		}, []string{"counted"}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assessgate_rate_limited_total",
			Help: "Requests rejected by the per-IP limiter, by endpoint class",
		}, []string{"class"}),
	}
}

func (m *Metrics) ObserveBackendAttempt(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendAttempts.WithLabelValues(endpoint, outcome).Inc()
	m.BackendAttemptDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) IncrementSubmissions(result string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementAccessCodesIssued(delivered bool) {
	if m == nil {
		return
	}
	m.AccessCodesIssued.WithLabelValues(boolLabel(delivered)).Inc()
}

func (m *Metrics) IncrementAccessVerifications(status string) {
	if m == nil {
		return
	}
	m.AccessVerifications.WithLabelValues(status).Inc()
}

func (m *Metrics) AddAccessCodesSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AccessCodesSwept.Add(float64(n))
}

func (m *Metrics) IncrementSharesCreated() {
	if m == nil {
		return
	}
	m.SharesCreated.Inc()
	m.SharesActive.Inc()
}

func (m *Metrics) DecrementSharesActive() {
	if m == nil {
		return
	}
	m.SharesActive.Dec()
}

func (m *Metrics) IncrementShareReads(counted bool) {
	if m == nil {
		return
	}
	m.ShareReads.WithLabelValues(boolLabel(counted)).Inc()
}

func (m *Metrics) IncrementRateLimited(class string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(class).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
