package redact

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the redaction engine.
type Metrics struct {
	redactions *prometheus.CounterVec
}

// NewMetrics creates redaction metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates redaction metrics on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		redactions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "poscore_audit_redactions_total",
			Help: "Total fields masked at ingestion time by rule mode",
		}, []string{"mode"}),
	}
}

// ObserveRedaction records one masked field. The mode label is bounded by
// the closed Mode enum.
func (m *Metrics) ObserveRedaction(mode string) {
	m.redactions.WithLabelValues(mode).Inc()
}
