package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "attendance"

// Metrics groups the collectors exported on /metrics.
// All methods are safe on a nil receiver so callers can run without metrics.
type Metrics struct {
	GeneratorRuns     *prometheus.CounterVec
	StoreRetries      *prometheus.CounterVec
	GeneratorDuration prometheus.Histogram
	SessionsCreated   *prometheus.CounterVec
	CredentialsIssued prometheus.Counter
	CheckIns          *prometheus.CounterVec
	AuditEvents       *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GeneratorRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_runs_total",
			Help:      "Session generator runs by outcome.",
		}, []string{"outcome"}),
		StoreRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Transactions retried after a transient conflict, by operation.",
		}, []string{"op"}),
		GeneratorDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generator_run_seconds",
			Help:      "Wall time of one generator run including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		SessionsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created by source.",
		}, []string{"source"}),
		CredentialsIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_issued_total",
			Help:      "QR credentials issued.",
		}),
		CheckIns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkins_total",
			Help:      "Check-in attempts by outcome.",
		}, []string{"outcome"}),
		AuditEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Check-in audit events consumed by the worker.",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveGeneratorRun(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.GeneratorRuns.WithLabelValues(outcome).Inc()
	m.GeneratorDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) StoreRetried(op string) {
	if m == nil {
		return
	}
	m.StoreRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) SessionsAdded(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsCreated.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) CredentialIssued() {
	if m == nil {
		return
	}
	m.CredentialsIssued.Inc()
}

func (m *Metrics) CheckIn(outcome string) {
	if m == nil {
		return
	}
	m.CheckIns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AuditEvent(result string) {
	if m == nil {
		return
	}
	m.AuditEvents.WithLabelValues(result).Inc()
}
