package metrics

// BadgerMetrics exposes the cache statistics of the embedded Badger store.
type BadgerMetrics interface {
	// RecordCacheStats records the cumulative hits and misses and the hit
	// ratio of one cache ("block" or "index").
	RecordCacheStats(cacheType string, hits, misses uint64, ratio float64)
}

// NewBadgerMetrics returns the Prometheus-backed BadgerMetrics, or nil when
// metrics are disabled.
func NewBadgerMetrics() BadgerMetrics {
	if !IsEnabled() || newPrometheusBadgerMetrics == nil {
		return nil
	}
	return newPrometheusBadgerMetrics()
}

var newPrometheusBadgerMetrics func() BadgerMetrics

// RegisterBadgerMetricsConstructor is called by the prometheus package at init.
func RegisterBadgerMetricsConstructor(constructor func() BadgerMetrics) {
	newPrometheusBadgerMetrics = constructor
}
