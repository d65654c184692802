package authz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"poscore/internal/observability"
)

// Outcome labels for capability check metrics.
const (
	outcomeAllow = "allow"
	outcomeDeny  = "deny"
)

// Metrics holds Prometheus metrics for capability checks. Capability labels
// pass through a cardinality guard so a misbehaving caller inventing codes
// cannot explode the label space.
type Metrics struct {
	checks  *prometheus.CounterVec
	denials *prometheus.CounterVec
	guard   *observability.CodeGuard
}

// NewMetrics creates capability check metrics on the default registerer.
func NewMetrics(guard *observability.CodeGuard) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, guard)
}

// NewMetricsWith creates capability check metrics on reg. Tests pass a fresh
// registry so repeated construction does not panic.
func NewMetricsWith(reg prometheus.Registerer, guard *observability.CodeGuard) *Metrics {
	return &Metrics{
		checks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "poscore_capability_checks_total",
			Help: "Total capability checks by capability and outcome",
		}, []string{"capability", "outcome"}),
		denials: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "poscore_capability_denials_total",
			Help: "Total denied capability checks by capability",
		}, []string{"capability"}),
		guard: guard,
	}
}

// ObserveAllow records an allowed capability check.
func (m *Metrics) ObserveAllow(cap Capability) {
	m.checks.WithLabelValues(m.guard.Label(string(cap)), outcomeAllow).Inc()
}

// ObserveDeny records a denied capability check.
func (m *Metrics) ObserveDeny(cap Capability) {
	label := m.guard.Label(string(cap))
	m.checks.WithLabelValues(label, outcomeDeny).Inc()
	m.denials.WithLabelValues(label).Inc()
}
