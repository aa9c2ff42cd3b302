package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoMFT Configuration File
#
# Every value below can be overridden with an environment variable built from
# its path, for example DITTOMFT_LOGGING_LEVEL=DEBUG or
# DITTOMFT_SERVER_PORT=7777.
#
# host.key is the secret this node authenticates with. Partners must list it
# as the key of this host.

`

// WriteConfig writes cfg at path behind the commented file header. An
// existing file is kept unless force is set.
func WriteConfig(cfg *Config, path string, force bool) error {
	var buf bytes.Buffer
	buf.WriteString(configHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_ = enc.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
	}
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if _, err := buf.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return f.Close()
}

// StarterConfig returns the defaults plus a host identity named after the
// machine, a fresh random key, and one send and one receive rule.
func StarterConfig() (*Config, error) {
	cfg := GetDefaultConfig()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "dittomft"
	}
	key, err := RandomKey()
	if err != nil {
		return nil, err
	}
	cfg.Host = HostConfig{ID: hostname, Key: key}
	cfg.Rules = []RuleConfig{
		{Name: "send", Mode: "SENDMODE"},
		{Name: "recv", Mode: "RECVMODE"},
	}
	return cfg, nil
}

// RandomKey returns 32 random bytes, hex encoded.
func RandomKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate host key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
