package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomft/pkg/config"
)

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)

	var schema struct {
		Title      string                     `json:"title"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "DittoMFT Configuration", schema.Title)
	for _, key := range []string{"logging", "server", "host", "transfer", "partners", "rules"} {
		assert.Contains(t, schema.Properties, key)
	}
}

func TestWarnings(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Host = config.HostConfig{ID: "node-a", Key: "short"}

	warnings := Warnings(cfg)
	assert.Len(t, warnings, 3)

	cfg.Host.Key = "a-much-longer-shared-secret"
	cfg.Partners = []config.PartnerConfig{{ID: "node-b", Key: "k", TLS: true}}
	cfg.Rules = []config.RuleConfig{{Name: "push", Mode: "send"}}
	warnings = Warnings(cfg)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "node-b")
}

func TestMaskSecrets(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Host = config.HostConfig{ID: "node-a", Key: "secret"}
	cfg.Partners = []config.PartnerConfig{{ID: "node-b", Key: "b-secret"}, {ID: "laptop"}}
	cfg.S3.AccessKeyID = "AKIA"
	cfg.S3.SecretAccessKey = "s3-secret"

	maskSecrets(cfg)
	assert.Equal(t, masked, cfg.Host.Key)
	assert.Empty(t, cfg.Host.AdminKey)
	assert.Equal(t, masked, cfg.Partners[0].Key)
	assert.Empty(t, cfg.Partners[1].Key)
	assert.Equal(t, "node-a", cfg.Host.ID)
	assert.Equal(t, masked, cfg.S3.SecretAccessKey)
	assert.Equal(t, "AKIA", cfg.S3.AccessKeyID)
}
