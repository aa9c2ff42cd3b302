package metrics

import "time"

// Traffic directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// MFTMetrics provides observability for the transfer protocol adapter.
//
// Every method must be safe to call on a nil implementation value; callers
// pass nil to disable collection.
type MFTMetrics interface {
	// RecordPacket counts one packet of type packetType flowing in direction.
	RecordPacket(packetType string, direction string)

	// RecordBytes counts n frame bytes flowing in direction.
	RecordBytes(direction string, n int)

	// SetSessions updates the live session gauge.
	SetSessions(n int)

	// RecordTransfer records a finished transfer with its result code.
	RecordTransfer(code string, duration time.Duration)

	// RecordRankResync counts a receiver rewinding to an earlier rank.
	RecordRankResync()

	// RecordDigestFailure counts a block or global digest mismatch.
	RecordDigestFailure()

	// Connection lifecycle, matching adapter.MetricsRecorder.
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)
}

// NewMFTMetrics returns the Prometheus-backed MFTMetrics, or nil when metrics
// are disabled or the prometheus package is not linked in.
func NewMFTMetrics() MFTMetrics {
	if !IsEnabled() || newPrometheusMFTMetrics == nil {
		return nil
	}
	return newPrometheusMFTMetrics()
}

var newPrometheusMFTMetrics func() MFTMetrics

// RegisterMFTMetricsConstructor is called by the prometheus package at init.
func RegisterMFTMetricsConstructor(constructor func() MFTMetrics) {
	newPrometheusMFTMetrics = constructor
}
