package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dead-letter reasons. Bounded set: one label per failure class, never one
// per error string.
const (
	ReasonDecode = "decode"
	ReasonStore  = "store"
)

// Metrics holds Prometheus metrics for the audit ingestion service.
type Metrics struct {
	Ingested      prometheus.Counter
	DeadLetters   *prometheus.CounterVec
	StoreRetries  prometheus.Counter
	IngestLatency prometheus.Histogram
	LagRecords    prometheus.Gauge
	LagSeconds    prometheus.Gauge
}

// NewMetrics creates ingestion metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates ingestion metrics on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Ingested: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "poscore_audit_ingested_total",
			Help: "Total audit records persisted to the durable store",
		}),
		DeadLetters: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "poscore_audit_dead_letter_total",
			Help: "Total audit records set aside as unprocessable by reason",
		}, []string{"reason"}),
		StoreRetries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "poscore_audit_store_retries_total",
			Help: "Total transient store failures retried during batch insert",
		}),
		IngestLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "poscore_audit_ingest_latency_seconds",
			Help:    "Latency from envelope emission to durable persistence",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		LagRecords: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "poscore_audit_consumer_lag_records",
			Help: "Broker-reported consumer group offset lag in records",
		}),
		LagSeconds: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "poscore_audit_consumer_lag_seconds",
			Help: "Age of the most recently consumed record when it was polled",
		}),
	}
}

// IncIngested adds n persisted records.
func (m *Metrics) IncIngested(n int) {
	m.Ingested.Add(float64(n))
}

// IncDeadLetters adds n dead-lettered records for the reason.
func (m *Metrics) IncDeadLetters(reason string, n int) {
	m.DeadLetters.WithLabelValues(reason).Add(float64(n))
}

// IncStoreRetries increments the transient store retry counter.
func (m *Metrics) IncStoreRetries() {
	m.StoreRetries.Inc()
}

// ObserveIngestLatency records emission-to-persist latency.
func (m *Metrics) ObserveIngestLatency(d time.Duration) {
	m.IngestLatency.Observe(d.Seconds())
}

// SetLagRecords updates the offset lag gauge.
func (m *Metrics) SetLagRecords(n int64) {
	m.LagRecords.Set(float64(n))
}

// SetLagSeconds updates the time lag gauge.
func (m *Metrics) SetLagSeconds(d time.Duration) {
	m.LagSeconds.Set(d.Seconds())
}
