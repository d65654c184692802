package query

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks query API usage.
type Metrics struct {
	queries prometheus.Counter
	latency prometheus.Histogram
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		queries: factory.NewCounter(prometheus.CounterOpts{
			Name: "poscore_audit_queries_total",
			Help: "Audit query requests served.",
		}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "poscore_audit_query_duration_seconds",
			Help:    "Audit query latency including store round trip.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncQueries()                        { m.queries.Inc() }
func (m *Metrics) ObserveLatency(d time.Duration)     { m.latency.Observe(d.Seconds()) }
