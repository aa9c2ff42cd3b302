package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittomft/internal/bytesize"
	"github.com/marmos91/dittomft/internal/protocol/mft/digest"
	"github.com/marmos91/dittomft/pkg/transfer/store"
	"github.com/marmos91/dittomft/pkg/transfer/store/badger"
	"github.com/marmos91/dittomft/pkg/transfer/tasks/s3"
)

// DatabaseTypeBadger selects the embedded BadgerDB store configured by the
// badger section.
const DatabaseTypeBadger store.DatabaseType = "badger"

// DefaultPort is the standard MFT port.
const DefaultPort = 6666

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyDatabaseDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyServerDefaults(&cfg.Server)
	applyTransferDefaults(&cfg.Transfer)
	applyS3Defaults(&cfg.S3)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyDatabaseDefaults fills the section of the selected store only.
func applyDatabaseDefaults(cfg *Config) {
	if cfg.Database.Type == DatabaseTypeBadger {
		applyBadgerDefaults(&cfg.Badger)
		return
	}
	cfg.Database.ApplyDefaults()
}

func applyS3Defaults(cfg *s3.Config) {
	if cfg.Enabled && cfg.Region == "" {
		cfg.Region = s3.DefaultRegion
	}
}

func applyBadgerDefaults(cfg *badger.Config) {
	if !cfg.InMemory && cfg.Path == "" {
		cfg.Path = filepath.Join(GetConfigDir(), "badger")
	}
}

// applyMetricsDefaults sets the metrics port when metrics are enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxSessionsPerConn == 0 {
		cfg.MaxSessionsPerConn = 1024
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = 64 * bytesize.MiB
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.ConnectRetries == 0 {
		cfg.ConnectRetries = 3
	}
	if cfg.ConnectRetryDelay == 0 {
		cfg.ConnectRetryDelay = time.Second
	}
	if cfg.ResolverTTL == 0 {
		cfg.ResolverTTL = 5 * time.Minute
	}
	if cfg.Blacklist.Duration == 0 {
		cfg.Blacklist.Duration = 5 * time.Minute
	}
	if cfg.Blacklist.Size == 0 {
		cfg.Blacklist.Size = 4096
	}
}

func applyTransferDefaults(cfg *TransferConfig) {
	if cfg.BlockSize == 0 {
		cfg.BlockSize = 64 * bytesize.KiB
	}
	if cfg.MaxBlockSize == 0 {
		cfg.MaxBlockSize = bytesize.MiB
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.CloseDelay == 0 {
		cfg.CloseDelay = 400 * time.Millisecond
	}
	if cfg.RetryCount == 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 10 * time.Millisecond
	}
	if cfg.MaxRankMismatch == 0 {
		cfg.MaxRankMismatch = 3
	}
	if cfg.DeferredAttempts == 0 {
		cfg.DeferredAttempts = 10
	}
	if cfg.DeferredDelay == 0 {
		cfg.DeferredDelay = 100 * time.Millisecond
	}
	if cfg.WaitForNetOp == 0 {
		cfg.WaitForNetOp = 200 * time.Millisecond
	}
	if cfg.Digest == "" {
		cfg.Digest = string(digest.Default)
	}
	cfg.Digest = strings.ToUpper(cfg.Digest)
	if cfg.GlobalDigest == nil {
		on := true
		cfg.GlobalDigest = &on
	}
	if cfg.TestEchoCount == 0 {
		cfg.TestEchoCount = 10
	}
	if cfg.Root == "" {
		cfg.Root = defaultDataDir()
	}
	if cfg.WorkPath == "" {
		cfg.WorkPath = "/work"
	}
	if cfg.RecvPath == "" {
		cfg.RecvPath = "/in"
	}
	if cfg.SendPath == "" {
		cfg.SendPath = "/out"
	}
}

// defaultDataDir returns $XDG_DATA_HOME/dittomft, or ~/.local/share/dittomft.
func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "dittomft")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "dittomft")
}

// GetDefaultConfig returns a Config struct with all default values applied.
// The host identity is left empty; `dittomft config init` fills it.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: store.Config{
			Type: store.DatabaseTypeSQLite,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
