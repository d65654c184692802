package producer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit producer.
type Metrics struct {
	Emitted         prometheus.Counter
	Dropped         prometheus.Counter
	PublishFailures prometheus.Counter
	QueueDepth      prometheus.Gauge
}

// NewMetrics creates producer metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates producer metrics on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Emitted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "poscore_audit_emitted_total",
			Help: "Total audit envelopes accepted onto the producer queue",
		}),
		Dropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "poscore_audit_queue_dropped_total",
			Help: "Total audit envelopes dropped due to a full producer queue",
		}),
		PublishFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "poscore_audit_publish_failures_total",
			Help: "Total audit envelopes lost after sink publish failed",
		}),
		QueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "poscore_audit_queue_depth",
			Help: "Current number of audit envelopes waiting in the producer queue",
		}),
	}
}

// IncEmitted increments the emitted counter.
func (m *Metrics) IncEmitted() {
	m.Emitted.Inc()
}

// IncDropped increments the overflow drop counter.
func (m *Metrics) IncDropped() {
	m.Dropped.Inc()
}

// IncPublishFailures increments the publish failure counter.
func (m *Metrics) IncPublishFailures() {
	m.PublishFailures.Inc()
}

// SetQueueDepth updates the queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}
