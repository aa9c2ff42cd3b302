package config

import (
	"github.com/marmos91/dittomft/pkg/metrics"
)

// MetricsResult holds what InitializeMetrics produced. Both fields are nil
// when metrics are disabled.
type MetricsResult struct {
	Server *metrics.Server
	MFT    metrics.MFTMetrics
}

// InitializeMetrics creates the registry, the engine collectors and the
// HTTP server when metrics are enabled. health backs /health and may be nil.
//
// The prometheus implementation must be linked in by the caller (a blank
// import of pkg/metrics/prometheus) for collectors to be created.
func InitializeMetrics(cfg *Config, health metrics.HealthFunc) MetricsResult {
	if !cfg.Metrics.Enabled {
		return MetricsResult{}
	}
	metrics.InitRegistry()
	return MetricsResult{
		Server: metrics.NewServer(cfg.Metrics.Port, health),
		MFT:    metrics.NewMFTMetrics(),
	}
}
