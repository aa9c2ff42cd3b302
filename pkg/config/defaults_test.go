package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittomft/internal/bytesize"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_ShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Expected default port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if cfg.Server.MaxFrameSize != 64*bytesize.MiB {
		t.Errorf("Expected default max frame size 64MiB, got %v", cfg.Server.MaxFrameSize)
	}
	if cfg.Server.Blacklist.Duration != 5*time.Minute {
		t.Errorf("Expected default blacklist duration 5m, got %v", cfg.Server.Blacklist.Duration)
	}
	if cfg.Server.KeepAlive != 0 {
		t.Errorf("Expected keepalive disabled by default, got %v", cfg.Server.KeepAlive)
	}
}

func TestApplyDefaults_Transfer(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	tr := cfg.Transfer
	if tr.BlockSize != 64*bytesize.KiB || tr.MaxBlockSize != bytesize.MiB {
		t.Errorf("Unexpected block sizes %v / %v", tr.BlockSize, tr.MaxBlockSize)
	}
	if tr.DeferredAttempts != 10 || tr.DeferredDelay != 100*time.Millisecond {
		t.Errorf("Unexpected deferred delivery defaults %d / %v", tr.DeferredAttempts, tr.DeferredDelay)
	}
	if tr.RecvPath != "/in" || tr.SendPath != "/out" || tr.WorkPath != "/work" {
		t.Errorf("Unexpected default directories %q %q %q", tr.RecvPath, tr.SendPath, tr.WorkPath)
	}
	if tr.Root == "" {
		t.Error("Expected a default transfer root")
	}
}

func TestApplyDefaults_Database(t *testing.T) {
	t.Run("sqlite", func(t *testing.T) {
		cfg := &Config{}
		ApplyDefaults(cfg)
		if cfg.Database.Type != "sqlite" {
			t.Errorf("Expected sqlite by default, got %q", cfg.Database.Type)
		}
		if filepath.Base(cfg.Database.SQLite.Path) != "transfers.db" {
			t.Errorf("Unexpected sqlite path %q", cfg.Database.SQLite.Path)
		}
	})

	t.Run("badger", func(t *testing.T) {
		cfg := &Config{}
		cfg.Database.Type = DatabaseTypeBadger
		ApplyDefaults(cfg)
		if filepath.Base(cfg.Badger.Path) != "badger" {
			t.Errorf("Unexpected badger path %q", cfg.Badger.Path)
		}
		if cfg.Database.SQLite.Path != "" {
			t.Errorf("Expected sqlite section untouched, got %q", cfg.Database.SQLite.Path)
		}
	})
}

func TestApplyDefaults_Metrics(t *testing.T) {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	ApplyDefaults(cfg)

	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}

func TestApplyDefaults_S3(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.S3.Region != "" {
		t.Errorf("Expected no region while S3 is disabled, got %q", cfg.S3.Region)
	}

	cfg = &Config{}
	cfg.S3.Enabled = true
	ApplyDefaults(cfg)
	if cfg.S3.Region != "us-east-1" {
		t.Errorf("Expected default region us-east-1, got %q", cfg.S3.Region)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	off := false
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "DEBUG",
			Format: "json",
			Output: "/var/log/dittomft.log",
		},
		ShutdownTimeout: 60 * time.Second,
		Server:          ServerConfig{Port: 7000},
		Transfer: TransferConfig{
			BlockSize:    4 * bytesize.KiB,
			Digest:       "sha512",
			GlobalDigest: &off,
		},
	}

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level 'DEBUG' to be preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "/var/log/dittomft.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 60*time.Second {
		t.Errorf("Expected explicit timeout 60s to be preserved, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Expected explicit port 7000, got %d", cfg.Server.Port)
	}
	if cfg.Transfer.BlockSize != 4*bytesize.KiB {
		t.Errorf("Expected explicit block size to be preserved, got %v", cfg.Transfer.BlockSize)
	}
	if cfg.Transfer.Digest != "SHA512" {
		t.Errorf("Expected digest normalized to SHA512, got %q", cfg.Transfer.Digest)
	}
	if *cfg.Transfer.GlobalDigest {
		t.Error("Expected explicit global digest off to be preserved")
	}
}

func TestGetDefaultConfig_NeedsHostIdentity(t *testing.T) {
	cfg := GetDefaultConfig()
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected defaults without a host identity to fail validation")
	}

	cfg.Host = HostConfig{ID: "node-a", Key: "secret"}
	if err := Validate(cfg); err != nil {
		t.Errorf("Defaults with a host identity should be valid, got error: %v", err)
	}
}
