// Package observability provides shared metric safety helpers.
//
// Prometheus time series are keyed by label values, so any counter labeled by
// a caller-supplied code can grow without bound if callers introduce new
// codes over time. CodeGuard caps that growth: the first maxCodes distinct
// values keep their own label, everything beyond is folded into a single
// overflow bucket.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OverflowLabel is the label value substituted once a guard is saturated.
const OverflowLabel = "_overflow"

// DefaultMaxCodes bounds a guarded label set when no cap is configured.
const DefaultMaxCodes = 40

// CodeGuard bounds the set of distinct label values admitted for a metric.
// Codes observed before saturation keep their own label; later codes share
// the overflow bucket, so total series never exceed maxCodes + 1.
type CodeGuard struct {
	mu       sync.RWMutex
	maxCodes int
	observed map[string]struct{}

	saturation prometheus.Gauge
}

// NewCodeGuard creates a guard registered on the default registerer.
// The name distinguishes the saturation gauge between guards.
func NewCodeGuard(name string, maxCodes int) *CodeGuard {
	return NewCodeGuardWith(prometheus.DefaultRegisterer, name, maxCodes)
}

// NewCodeGuardWith creates a guard registered on reg. Tests pass a fresh
// prometheus.NewRegistry to avoid duplicate-registration panics.
func NewCodeGuardWith(reg prometheus.Registerer, name string, maxCodes int) *CodeGuard {
	if maxCodes <= 0 {
		maxCodes = DefaultMaxCodes
	}
	return &CodeGuard{
		maxCodes: maxCodes,
		observed: make(map[string]struct{}, maxCodes),
		saturation: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name:        "poscore_metric_code_saturation_percent",
			Help:        "Observed distinct metric codes as a percentage of the cardinality cap",
			ConstLabels: prometheus.Labels{"guard": name},
		}),
	}
}

// Label admits code into the guarded set and returns the label value to use:
// the code itself while capacity remains, OverflowLabel afterwards.
func (g *CodeGuard) Label(code string) string {
	g.mu.RLock()
	_, seen := g.observed[code]
	count := len(g.observed)
	g.mu.RUnlock()

	if seen {
		return code
	}
	if count >= g.maxCodes {
		return OverflowLabel
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// Re-check: another goroutine may have admitted this code or filled the
	// last slot between the read and write locks.
	if _, seen := g.observed[code]; seen {
		return code
	}
	if len(g.observed) >= g.maxCodes {
		return OverflowLabel
	}
	g.observed[code] = struct{}{}
	g.saturation.Set(float64(len(g.observed)) / float64(g.maxCodes) * 100)
	return code
}

// Observed returns the number of distinct codes admitted so far.
func (g *CodeGuard) Observed() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.observed)
}
