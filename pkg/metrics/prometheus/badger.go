package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittomft/pkg/metrics"
)

func init() {
	metrics.RegisterBadgerMetricsConstructor(func() metrics.BadgerMetrics {
		if m := newStoreCacheMetrics(); m != nil {
			return m
		}
		return nil
	})
}

// storeCacheMetrics publishes the block and index cache counters of the
// embedded Badger descriptor store.
type storeCacheMetrics struct {
	hits   *prometheus.GaugeVec
	misses *prometheus.GaugeVec
	ratio  *prometheus.GaugeVec
}

func newStoreCacheMetrics() *storeCacheMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	f := promauto.With(metrics.GetRegistry())
	gauge := func(name, help string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dittomft",
			Subsystem: "store_cache",
			Name:      name,
			Help:      help,
		}, []string{"cache"})
	}
	return &storeCacheMetrics{
		hits:   gauge("hits", "Cumulative descriptor store cache hits"),
		misses: gauge("misses", "Cumulative descriptor store cache misses"),
		ratio:  gauge("hit_ratio", "Descriptor store cache hit ratio, 0 to 1"),
	}
}

func (m *storeCacheMetrics) RecordCacheStats(cache string, hits, misses uint64, ratio float64) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(cache).Set(float64(hits))
	m.misses.WithLabelValues(cache).Set(float64(misses))
	m.ratio.WithLabelValues(cache).Set(ratio)
}
