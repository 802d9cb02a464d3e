// Package metrics defines the collector the cache core reports through.
package metrics

// Metric names reported by the cache core.
const (
	CacheRequests    = "cachecore_requests_total"
	CacheHits        = "cachecore_hits_total"
	CacheMisses      = "cachecore_misses_total"
	CacheErrors      = "cachecore_errors_total"
	CacheSets        = "cachecore_sets_total"
	CacheDeletes     = "cachecore_deletes_total"
	CacheOpSeconds   = "cachecore_operation_seconds"
	CacheConnected   = "cachecore_connected"
	CacheCompressed  = "cachecore_compressed_writes_total"
	HTTPCacheHits    = "cachecore_http_hits_total"
	HTTPCacheMisses  = "cachecore_http_misses_total"
	HTTPCacheBypass  = "cachecore_http_bypass_total"
	WarmingRuns      = "cachecore_warming_runs_total"
	WarmingFailures  = "cachecore_warming_failures_total"
	WarmingItems     = "cachecore_warming_items_total"
	OptimizerApplied = "cachecore_optimizer_applied_total"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
