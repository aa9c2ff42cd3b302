// Package prometheus implements the metrics contracts with Prometheus
// collectors registered on metrics.GetRegistry().
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittomft/pkg/metrics"
)

func init() {
	metrics.RegisterMFTMetricsConstructor(func() metrics.MFTMetrics {
		if m := NewMFTMetrics(); m != nil {
			return m
		}
		return nil
	})
}

// mftMetrics is the Prometheus implementation of metrics.MFTMetrics.
type mftMetrics struct {
	packets           *prometheus.CounterVec
	bytes             *prometheus.CounterVec
	sessions          prometheus.Gauge
	transfers         *prometheus.CounterVec
	transferDuration  *prometheus.HistogramVec
	rankResyncs       prometheus.Counter
	digestFailures    prometheus.Counter
	connsAccepted     prometheus.Counter
	connsClosed       prometheus.Counter
	connsForceClosed  prometheus.Counter
	activeConnections prometheus.Gauge
}

var _ metrics.MFTMetrics = (*mftMetrics)(nil)

// NewMFTMetrics creates a new Prometheus-backed MFT metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewMFTMetrics() *mftMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &mftMetrics{
		packets: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomft_packets_total",
				Help: "Total number of protocol packets by type and direction",
			},
			[]string{"type", "direction"}, // direction: "in", "out"
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomft_bytes_total",
				Help: "Total number of frame bytes by direction",
			},
			[]string{"direction"},
		),
		sessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittomft_sessions",
				Help: "Number of live sessions",
			},
		),
		transfers: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomft_transfers_total",
				Help: "Total number of finished transfers by result code",
			},
			[]string{"code"},
		),
		transferDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittomft_transfer_duration_seconds",
				Help: "Duration of finished transfers in seconds",
				Buckets: []float64{
					0.01, // small files on a LAN
					0.1,
					1,
					10,
					60,
					600,
					3600, // large files over slow links
				},
			},
			[]string{"code"},
		),
		rankResyncs: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittomft_rank_resyncs_total",
				Help: "Total number of receiver rank rewinds after retransmission",
			},
		),
		digestFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittomft_digest_failures_total",
				Help: "Total number of block or global digest mismatches",
			},
		),
		connsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittomft_connections_accepted_total",
				Help: "Total number of accepted connections",
			},
		),
		connsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittomft_connections_closed_total",
				Help: "Total number of closed connections",
			},
		),
		connsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittomft_connections_force_closed_total",
				Help: "Total number of connections force-closed at shutdown",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittomft_connections_active",
				Help: "Number of open connections",
			},
		),
	}
}

func (m *mftMetrics) RecordPacket(packetType string, direction string) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(packetType, direction).Inc()
}

func (m *mftMetrics) RecordBytes(direction string, n int) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues(direction).Add(float64(n))
}

func (m *mftMetrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *mftMetrics) RecordTransfer(code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(code).Inc()
	m.transferDuration.WithLabelValues(code).Observe(duration.Seconds())
}

func (m *mftMetrics) RecordRankResync() {
	if m == nil {
		return
	}
	m.rankResyncs.Inc()
}

func (m *mftMetrics) RecordDigestFailure() {
	if m == nil {
		return
	}
	m.digestFailures.Inc()
}

func (m *mftMetrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connsAccepted.Inc()
}

func (m *mftMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connsClosed.Inc()
}

func (m *mftMetrics) RecordConnectionForceClosed() {
	if m == nil {
		return
	}
	m.connsForceClosed.Inc()
}

func (m *mftMetrics) SetActiveConnections(count int32) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(count))
}
