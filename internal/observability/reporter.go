package observability

import (
	"signal-quota-service/internal/eviction"
)

var _ eviction.Reporter = PrometheusReporter{}

// PrometheusReporter publishes eviction stats to the package metrics.
// Owners are not used as labels to keep cardinality bounded.
type PrometheusReporter struct{}

func (PrometheusReporter) ReportEviction(owner string, stats eviction.Stats) {
	EvictionRunsTotal.Inc()
	SignalsEvictedTotal.Add(float64(stats.Evicted))
	OwnerSignalBytes.Observe(float64(stats.ResultingSize))
	SignalEntryBytes.WithLabelValues("max").Set(float64(stats.MaxEntrySize))
	SignalEntryBytes.WithLabelValues("min").Set(float64(stats.MinEntrySize))
}
