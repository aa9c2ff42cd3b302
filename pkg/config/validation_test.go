package config

import (
	"strings"
	"testing"

	"github.com/marmos91/dittomft/pkg/transfer"
)

// validConfig returns the defaults plus a host identity.
func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.Host = HostConfig{ID: "node-a", Key: "secret"}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidServerPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_InvalidBindAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Server.BindAddress = "not-an-ip"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for a bind address that is not an IP")
	}
}

func TestValidate_MissingHostKey(t *testing.T) {
	cfg := validConfig()
	cfg.Host.Key = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing host key")
	}
	if !strings.Contains(err.Error(), "Host.Key") {
		t.Errorf("Expected error about Host.Key, got: %v", err)
	}
}

func TestValidate_TLSNeedsKeyPair(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TLS.Enabled = true

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for TLS without certificate")
	}
}

func TestValidate_Database(t *testing.T) {
	t.Run("unknown type", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Type = "mysql"
		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for unknown database type")
		}
	})

	t.Run("postgres without host", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Type = "postgres"
		cfg.Database.Postgres.Database = "mft"
		cfg.Database.Postgres.User = "mft"
		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for postgres without host")
		}
	})

	t.Run("badger needs a path", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Type = DatabaseTypeBadger
		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for badger without path")
		}
		cfg.Badger.InMemory = true
		if err := Validate(cfg); err != nil {
			t.Errorf("In-memory badger should be valid, got: %v", err)
		}
	})
}

func TestValidate_Transfer(t *testing.T) {
	t.Run("unknown digest", func(t *testing.T) {
		cfg := validConfig()
		cfg.Transfer.Digest = "CRC32"
		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for unknown digest")
		}
	})

	t.Run("block size too small", func(t *testing.T) {
		cfg := validConfig()
		cfg.Transfer.BlockSize = 10
		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for tiny block size")
		}
	})

	t.Run("max below default", func(t *testing.T) {
		cfg := validConfig()
		cfg.Transfer.MaxBlockSize = cfg.Transfer.BlockSize - 1
		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for max block size below block size")
		}
	})
}

func TestValidate_Partners(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		cfg := validConfig()
		cfg.Partners = []PartnerConfig{{ID: "b", Key: "k"}, {ID: "b", Key: "k"}}
		err := Validate(cfg)
		if err == nil || !strings.Contains(err.Error(), "duplicate") {
			t.Fatalf("Expected duplicate partner error, got: %v", err)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Partners = []PartnerConfig{{ID: "b"}}
		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for partner without key")
		}
	})

	t.Run("address without port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Partners = []PartnerConfig{{ID: "b", Key: "k", Address: "10.0.0.2"}}
		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for address without port")
		}
	})

	t.Run("unknown digest", func(t *testing.T) {
		cfg := validConfig()
		cfg.Partners = []PartnerConfig{{ID: "b", Key: "k", Digest: "nope"}}
		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for unknown partner digest")
		}
	})
}

func TestValidate_Rules(t *testing.T) {
	t.Run("unknown mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Rules = []RuleConfig{{Name: "r", Mode: "sideways"}}
		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for unknown mode")
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		cfg := validConfig()
		cfg.Rules = []RuleConfig{{
			Name:          "r",
			Mode:          "recv",
			RecvPostTasks: []transfer.TaskSpec{{Type: "EXECJAVA"}},
		}}
		err := Validate(cfg)
		if err == nil || !strings.Contains(err.Error(), "EXECJAVA") {
			t.Fatalf("Expected unknown task error, got: %v", err)
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		cfg := validConfig()
		cfg.Rules = []RuleConfig{{Name: "r", Mode: "send"}, {Name: "r", Mode: "recv"}}
		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for duplicate rule")
		}
	})

	t.Run("valid", func(t *testing.T) {
		cfg := validConfig()
		cfg.Rules = []RuleConfig{{
			Name:         "r",
			Mode:         "SENDMD5MODE",
			SendPreTasks: []transfer.TaskSpec{{Type: "chkfile", Path: "SIZE>0"}},
		}}
		if err := Validate(cfg); err != nil {
			t.Errorf("Expected valid rule, got: %v", err)
		}
	})
}

func TestValidate_S3(t *testing.T) {
	rule := RuleConfig{
		Name:          "archive",
		Mode:          "recv",
		RecvPostTasks: []transfer.TaskSpec{{Type: "S3PUT", Path: "--bucket archive"}},
	}

	t.Run("task without s3", func(t *testing.T) {
		cfg := validConfig()
		cfg.Rules = []RuleConfig{rule}
		err := Validate(cfg)
		if err == nil || !strings.Contains(err.Error(), "s3.enabled") {
			t.Fatalf("Expected s3.enabled error, got: %v", err)
		}
	})

	t.Run("half credentials", func(t *testing.T) {
		cfg := validConfig()
		cfg.S3.Enabled = true
		cfg.S3.AccessKeyID = "AKIA"
		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for missing secret access key")
		}
	})

	t.Run("bad endpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.S3.Enabled = true
		cfg.S3.Endpoint = "not a url"
		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for endpoint")
		}
	})

	t.Run("valid", func(t *testing.T) {
		cfg := validConfig()
		cfg.S3.Enabled = true
		cfg.S3.Endpoint = "http://localhost:9000"
		cfg.Rules = []RuleConfig{rule}
		if err := Validate(cfg); err != nil {
			t.Errorf("Expected valid S3 config, got: %v", err)
		}
	})
}

func TestValidate_TelemetryEnabledWithoutEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for telemetry enabled without endpoint")
	}
	if !strings.Contains(err.Error(), "telemetry") {
		t.Errorf("Expected error about telemetry endpoint, got: %v", err)
	}
}

func TestValidate_TelemetrySampleRate(t *testing.T) {
	cfg := validConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.SampleRate = 1.5

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for sample rate out of range")
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	for _, level := range []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"} {
		cfg := validConfig()
		cfg.Logging.Level = level

		if err := Validate(cfg); err != nil {
			t.Errorf("Validation failed for level %q: %v", level, err)
		}
		if cfg.Logging.Level != level {
			t.Errorf("Expected level to remain %q after validation, got %q", level, cfg.Logging.Level)
		}
	}

	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	ApplyDefaults(cfg)
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected ApplyDefaults to normalize 'info' to 'INFO', got %q", cfg.Logging.Level)
	}
}

func TestValidate_Profiling(t *testing.T) {
	cfg := validConfig()
	cfg.Telemetry.Profiling = ProfilingConfig{
		Enabled:      true,
		Endpoint:     "http://localhost:4040",
		ProfileTypes: []string{"cpu", "heap"},
	}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), `"heap"`) {
		t.Fatalf("Expected unknown profile type error, got: %v", err)
	}

	cfg.Telemetry.Profiling.ProfileTypes = []string{"cpu", "inuse_space"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected valid profiling config, got: %v", err)
	}

	cfg.Telemetry.Profiling.Endpoint = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for missing profiling endpoint")
	}
}
