package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittomft/internal/bytesize"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences (e.g. \U -> Unicode escape), causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

// minimalConfig is the smallest file that validates.
func minimalConfig(tmpDir string) string {
	return `
logging:
  level: "INFO"

database:
  type: sqlite
  sqlite:
    path: "` + yamlSafePath(tmpDir) + `/transfers.db"

server:
  port: 6666

host:
  id: "node-a"
  key: "node-a-secret"

transfer:
  root: "` + yamlSafePath(tmpDir) + `/data"
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

func TestLoad_DefaultConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig(t.TempDir())))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Server.Port != 6666 {
		t.Errorf("Expected server port 6666, got %d", cfg.Server.Port)
	}
	if cfg.Transfer.BlockSize != 64*bytesize.KiB {
		t.Errorf("Expected default block size 64KiB, got %v", cfg.Transfer.BlockSize)
	}
	if cfg.Transfer.GlobalDigest == nil || !*cfg.Transfer.GlobalDigest {
		t.Error("Expected global digest to default to true")
	}
}

func TestLoad_Sections(t *testing.T) {
	tmpDir := t.TempDir()
	content := minimalConfig(tmpDir) + `  block_size: 128Ki
  connect_timeout: 5s
  digest: blake3
  global_digest: false
  local_digest: true

bandwidth:
  global_write: 10MB
  session: 1Mi

partners:
  - id: "node-b"
    address: "10.0.0.2"
    port: 6666
    key: "node-b-secret"
    tls: true
  - id: "laptop"
    key: "laptop-secret"
    client: true
    active: false

rules:
  - name: "invoices"
    mode: "send"
    hosts: ["node-b"]
    send_path: "/out/invoices"
    send_pre_tasks:
      - type: CHKFILE
        path: "SIZE<1048576"
    recv_post_tasks:
      - type: RENAME
        path: "#ORIGINALFILENAME#.done"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Transfer.BlockSize != 128*bytesize.KiB {
		t.Errorf("Expected block size 128KiB, got %v", cfg.Transfer.BlockSize)
	}
	if cfg.Transfer.ConnectTimeout != 5*time.Second {
		t.Errorf("Expected connect timeout 5s, got %v", cfg.Transfer.ConnectTimeout)
	}
	if cfg.Transfer.Digest != "BLAKE3" {
		t.Errorf("Expected digest normalized to BLAKE3, got %q", cfg.Transfer.Digest)
	}
	if cfg.Transfer.GlobalDigest == nil || *cfg.Transfer.GlobalDigest {
		t.Error("Expected explicit global_digest: false to be kept")
	}
	if cfg.Bandwidth.GlobalWrite != 10*bytesize.MB {
		t.Errorf("Expected global write 10MB, got %v", cfg.Bandwidth.GlobalWrite)
	}
	if len(cfg.Partners) != 2 {
		t.Fatalf("Expected 2 partners, got %d", len(cfg.Partners))
	}
	if !cfg.Partners[0].IsActive() || cfg.Partners[1].IsActive() {
		t.Error("Expected node-b active and laptop inactive")
	}
	if len(cfg.Rules) != 1 || len(cfg.Rules[0].SendPreTasks) != 1 {
		t.Fatalf("Expected one rule with one send pre task, got %+v", cfg.Rules)
	}
	if cfg.Rules[0].RecvPostTasks[0].Path != "#ORIGINALFILENAME#.done" {
		t.Errorf("Unexpected task path %q", cfg.Rules[0].RecvPostTasks[0].Path)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A missing file yields the defaults so commands like `config show` work
	// before `config init`.
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Expected default port %d, got %d", DefaultPort, cfg.Server.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: INFO
  invalid yaml here [[[
`)
	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_InvalidConfig(t *testing.T) {
	// No host identity.
	configPath := writeConfig(t, `
logging:
  level: INFO
`)
	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error without a host identity")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[logging]
level = "WARN"
format = "json"

[database]
type = "badger"

[badger]
in_memory = true

[host]
id = "node-a"
key = "secret"

[transfer]
root = "` + yamlSafePath(tmpDir) + `/data"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Database.Type != DatabaseTypeBadger || !cfg.Badger.InMemory {
		t.Errorf("Expected in-memory badger store, got %q / %+v", cfg.Database.Type, cfg.Badger)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Expected default port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if cfg.Transfer.Digest != "SHA256" {
		t.Errorf("Expected default digest SHA256, got %q", cfg.Transfer.Digest)
	}
	if cfg.Host.ID != "" {
		t.Errorf("Expected no default host id, got %q", cfg.Host.ID)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	dir := GetConfigDir()

	if filepath.Base(dir) != "dittomft" {
		t.Errorf("Expected directory name 'dittomft', got %q", filepath.Base(dir))
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DITTOMFT_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTOMFT_SERVER_PORT", "7777")

	cfg, err := Load(writeConfig(t, minimalConfig(t.TempDir())))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Expected port 7777 from env var, got %d", cfg.Server.Port)
	}
}

func TestWriteConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := GetDefaultConfig()
	cfg.Host = HostConfig{ID: "node-a", Key: "secret"}
	cfg.Transfer.Root = filepath.Join(tmpDir, "data")
	cfg.Partners = []PartnerConfig{{ID: "node-b", Address: "10.0.0.2", Port: 6666, Key: "b"}}

	path := filepath.Join(tmpDir, "nested", "config.yaml")
	if err := WriteConfig(cfg, path, false); err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Saved config missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Host.ID != "node-a" || len(loaded.Partners) != 1 {
		t.Errorf("Saved config did not round trip: %+v", loaded.Host)
	}
}
