package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomft/internal/bytesize"
	"github.com/marmos91/dittomft/internal/protocol/mft/digest"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
	"github.com/marmos91/dittomft/pkg/transfer"
	"github.com/marmos91/dittomft/pkg/transfer/store/memory"
)

// ============================================================================
// Test Helpers
// ============================================================================

func engineConfig(t *testing.T) *Config {
	t.Helper()
	cfg := validConfig()
	cfg.Transfer.Root = t.TempDir()
	cfg.Partners = []PartnerConfig{
		{ID: "node-b", Address: "10.0.0.2", Port: 6666, Key: "b-secret", Digest: "BLAKE3"},
		{ID: "laptop", Key: "laptop-secret", Client: true, Active: new(bool)},
	}
	cfg.Rules = []RuleConfig{
		{Name: "push", Mode: "send", Hosts: []string{"node-b"}, SendPath: "/out/push"},
		{Name: "pull", Mode: "recvmd5", RecvPath: "/in/pull"},
	}
	return cfg
}

// ============================================================================
// Builders
// ============================================================================

func TestHandlerConfig(t *testing.T) {
	cfg := engineConfig(t)
	cfg.Transfer.BlockSize = 32 * bytesize.KiB
	cfg.Transfer.Digest = "BLAKE2B"
	cfg.Bandwidth.Session = bytesize.MiB
	cfg.Host.AdminKey = "admin"

	h, err := cfg.HandlerConfig()
	require.NoError(t, err)
	assert.Equal(t, "node-a", h.HostID)
	assert.Equal(t, []byte("secret"), h.HostKey)
	assert.Equal(t, []byte("admin"), h.AdminKey)
	assert.Equal(t, int32(32<<10), h.DefaultBlockSize)
	assert.Equal(t, digest.BLAKE2B, h.DigestAlgo)
	assert.True(t, h.GlobalDigest)
	assert.Equal(t, int64(1<<20), h.SessionLimit)

	t.Run("no admin key", func(t *testing.T) {
		cfg.Host.AdminKey = ""
		h, err := cfg.HandlerConfig()
		require.NoError(t, err)
		assert.Nil(t, h.AdminKey)
	})
}

func TestNetworkConfig(t *testing.T) {
	cfg := engineConfig(t)
	cfg.Server.BindAddress = "127.0.0.1"
	cfg.Server.KeepAlive = 15 * time.Second
	cfg.Bandwidth.GlobalRead = 2 * bytesize.MB

	n, err := cfg.NetworkConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", n.BindAddress)
	assert.Equal(t, DefaultPort, n.Port)
	assert.Equal(t, 15*time.Second, n.KeepAliveInterval)
	assert.Equal(t, int64(2_000_000), n.ReadLimit)
	assert.Zero(t, n.WriteLimit)
	assert.Nil(t, n.TLS)

	t.Run("missing certificate", func(t *testing.T) {
		cfg.Server.TLS = TLSConfig{Enabled: true, CertFile: "/nonexistent.pem", KeyFile: "/nonexistent.key"}
		_, err := cfg.NetworkConfig()
		assert.Error(t, err)
	})
}

func TestRuleSet(t *testing.T) {
	rules, err := engineConfig(t).RuleSet()
	require.NoError(t, err)
	assert.Equal(t, []string{"pull", "push"}, rules.Names())

	push, err := rules.Get("push")
	require.NoError(t, err)
	assert.Equal(t, packet.ModeSend, push.Mode)
	assert.True(t, push.IsHostAllowed("node-b"))
	assert.False(t, push.IsHostAllowed("laptop"))

	pull, err := rules.Get("pull")
	require.NoError(t, err)
	assert.Equal(t, packet.ModeRecvMD5, pull.Mode)
}

// ============================================================================
// Partners
// ============================================================================

func TestSyncPartners(t *testing.T) {
	ctx := context.Background()
	cfg := engineConfig(t)
	st := memory.New()

	require.NoError(t, SyncPartners(ctx, cfg, st))

	hosts, err := st.ListHosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 3, "partners plus the local host")

	b, err := st.GetHost(ctx, "node-b")
	require.NoError(t, err)
	assert.NoError(t, b.VerifyKey([]byte("b-secret")))
	assert.Equal(t, "BLAKE3", b.DigestAlgo)
	assert.True(t, b.Active)

	laptop, err := st.GetHost(ctx, "laptop")
	require.NoError(t, err)
	assert.False(t, laptop.Active)
	assert.True(t, laptop.Client)

	self, err := st.GetHost(ctx, "node-a")
	require.NoError(t, err)
	assert.NoError(t, self.VerifyKey([]byte("secret")))
	assert.Equal(t, "127.0.0.1", self.Address)

	t.Run("unchanged key keeps its hash", func(t *testing.T) {
		require.NoError(t, SyncPartners(ctx, cfg, st))
		again, err := st.GetHost(ctx, "node-b")
		require.NoError(t, err)
		assert.Equal(t, b.KeyHash, again.KeyHash)
	})

	t.Run("changed key is rehashed", func(t *testing.T) {
		cfg.Partners[0].Key = "rotated"
		require.NoError(t, SyncPartners(ctx, cfg, st))
		again, err := st.GetHost(ctx, "node-b")
		require.NoError(t, err)
		assert.NoError(t, again.VerifyKey([]byte("rotated")))
		assert.ErrorIs(t, again.VerifyKey([]byte("b-secret")), transfer.ErrBadKey)
	})
}

// ============================================================================
// Engine
// ============================================================================

func TestNewEngine(t *testing.T) {
	cfg := engineConfig(t)
	st := memory.New()

	eng, err := NewEngine(context.Background(), cfg, st, nil)
	require.NoError(t, err)
	t.Cleanup(eng.Handler.Wait)

	assert.Same(t, eng.Registry, eng.Handler.Registry())
	assert.Equal(t, 0, eng.Registry.Len())
	assert.Equal(t, cfg.Transfer.DeferredAttempts, eng.Registry.Config().DeferredAttempts)
	assert.Equal(t, DefaultPort, eng.Network.Port)

	for _, dir := range []string{"work", "in", "out", "out/push", "in/pull"} {
		info, err := os.Stat(filepath.Join(cfg.Transfer.Root, dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}

	_, err = st.GetHost(context.Background(), "node-b")
	assert.NoError(t, err)
}

func TestOpenStore(t *testing.T) {
	t.Run("badger in memory", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Type = DatabaseTypeBadger
		cfg.Badger.InMemory = true

		st, err := OpenStore(cfg)
		require.NoError(t, err)
		defer st.Close()
		assert.NoError(t, st.Healthcheck(context.Background()))
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "db", "transfers.db")

		st, err := OpenStore(cfg)
		require.NoError(t, err)
		defer st.Close()
		assert.NoError(t, st.Healthcheck(context.Background()))
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Type = "mysql"
		_, err := OpenStore(cfg)
		assert.Error(t, err)
	})
}
