package retention

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks retention purge activity.
type Metrics struct {
	purged     prometheus.Counter
	failures   prometheus.Counter
	candidates prometheus.Gauge
	lastRun    prometheus.Gauge
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		purged: factory.NewCounter(prometheus.CounterOpts{
			Name: "poscore_audit_purged_total",
			Help: "Audit events deleted by the retention purger.",
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "poscore_audit_purge_failures_total",
			Help: "Purge runs that ended in an error.",
		}),
		candidates: factory.NewGauge(prometheus.GaugeOpts{
			Name: "poscore_audit_purge_candidates",
			Help: "Expired audit events observed at the start of the last purge run.",
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "poscore_audit_purge_last_run_timestamp_seconds",
			Help: "Unix time of the last completed purge run.",
		}),
	}
}

func (m *Metrics) IncPurged(n int64)       { m.purged.Add(float64(n)) }
func (m *Metrics) IncFailures()            { m.failures.Inc() }
func (m *Metrics) SetCandidates(n int64)   { m.candidates.Set(float64(n)) }
func (m *Metrics) SetLastRun(unixSec int64) { m.lastRun.Set(float64(unixSec)) }
