package mft

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomft/internal/adapter/mft/handlers"
	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/pkg/transfer"
)

// ============================================================================
// Test Helpers
// ============================================================================

// startServer serves n on a random loopback port and returns the adapter.
func startServer(t *testing.T, n *node) *Adapter {
	t.Helper()
	a, err := New(testNetConfig(), n.h, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = a.Stop(sctx)
		cancel()
		<-done
	})
	return a
}

// pair starts a server and a client that know each other.
func pair(t *testing.T, clientKey string) (server, client *node, a *Adapter, c *Client) {
	t.Helper()
	server = newNode(t, "server", "server-key")
	client = newNode(t, "client", clientKey)
	server.knows("client", "client-key", "")

	a = startServer(t, server)
	client.knows("server", "server-key", a.Addr())

	c = NewClient(testNetConfig(), client.h, nil)
	t.Cleanup(func() { _ = c.Close() })
	return server, client, a, c
}

func payload(n int) []byte {
	return bytes.Repeat([]byte("0123456789"), n/10+1)[:n]
}

// ============================================================================
// End to end
// ============================================================================

func TestPushTransfer(t *testing.T) {
	server, client, _, c := pair(t, "client-key")
	content := payload(250)
	client.writeFile("/out/f.bin", content)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := c.Transfer(ctx, TransferRequest{Partner: "server", Rule: "push", Filename: "f.bin"})
	require.NoError(t, err)
	require.NotNil(t, r.Descriptor)

	assert.Eventually(t, func() bool {
		got, err := afero.ReadFile(server.fs, "/in/f.bin")
		return err == nil && bytes.Equal(content, got)
	}, 3*time.Second, 10*time.Millisecond)

	d, err := client.store.GetDescriptor(ctx, r.Descriptor.SpecialID, "client", "server")
	require.NoError(t, err)
	assert.True(t, d.IsAllDone())

	assert.Eventually(t, func() bool {
		d, err := server.store.GetDescriptor(ctx, r.Descriptor.SpecialID, "client", "server")
		return err == nil && d.IsAllDone()
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPullTransfer(t *testing.T) {
	server, client, _, c := pair(t, "client-key")
	content := payload(420)
	server.writeFile("/out/report.txt", content)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Transfer(ctx, TransferRequest{Partner: "server", Rule: "pull", Filename: "report.txt"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got, err := afero.ReadFile(client.fs, "/in/report.txt")
		return err == nil && bytes.Equal(content, got)
	}, 3*time.Second, 10*time.Millisecond)
}

func TestConcurrentTransfersShareConnection(t *testing.T) {
	server, client, _, c := pair(t, "client-key")
	for i := range 3 {
		client.writeFile(fmt.Sprintf("/out/f%d.bin", i), payload(300+i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errs := make(chan error, 3)
	for i := range 3 {
		go func() {
			_, err := c.Transfer(ctx, TransferRequest{Partner: "server", Rule: "push", Filename: fmt.Sprintf("f%d.bin", i)})
			errs <- err
		}()
	}
	for range 3 {
		require.NoError(t, <-errs)
	}

	for i := range 3 {
		name := fmt.Sprintf("/in/f%d.bin", i)
		assert.Eventually(t, func() bool {
			got, err := afero.ReadFile(server.fs, name)
			return err == nil && len(got) == 300+i
		}, 3*time.Second, 10*time.Millisecond, name)
	}

	c.mu.Lock()
	assert.Len(t, c.conns, 1)
	c.mu.Unlock()
}

func TestTransferMissingSource(t *testing.T) {
	_, _, _, c := pair(t, "client-key")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := c.Transfer(ctx, TransferRequest{Partner: "server", Rule: "pull", Filename: "missing.txt"})
	require.Error(t, err)
	assert.NotEqual(t, codes.CompleteOk, r.Code)
}

func TestTransferUnknownPartner(t *testing.T) {
	_, _, _, c := pair(t, "client-key")

	_, err := c.Transfer(context.Background(), TransferRequest{Partner: "nobody", Rule: "push", Filename: "f.bin"})
	assert.ErrorIs(t, err, transfer.ErrHostNotFound)
}

func TestBadKeyIsBlacklisted(t *testing.T) {
	_, client, a, c := pair(t, "wrong-key")

	host, err := client.store.GetHost(context.Background(), "server")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.Open(ctx, host)
	require.Error(t, err)

	assert.Eventually(t, func() bool {
		return a.Blacklisted("127.0.0.1:1")
	}, 2*time.Second, 5*time.Millisecond)
}

// ============================================================================
// Adapter
// ============================================================================

func TestBlacklist(t *testing.T) {
	n := newNode(t, "server", "server-key")
	a, err := New(testNetConfig(), n.h, nil)
	require.NoError(t, err)

	assert.False(t, a.Blacklisted("10.0.0.1:5555"))
	a.addToBlacklist("10.0.0.1:5555")
	assert.True(t, a.Blacklisted("10.0.0.1:1"))
	assert.False(t, a.Blacklisted("10.0.0.2:5555"))
}

func TestMapError(t *testing.T) {
	n := newNode(t, "server", "server-key")
	a, err := New(testNetConfig(), n.h, nil)
	require.NoError(t, err)

	t.Run("engine error", func(t *testing.T) {
		cause := &handlers.Error{Kind: handlers.KindRunner, Status: codes.FileNotFound, Msg: "File not found"}
		perr := a.MapError(fmt.Errorf("open: %w", cause))
		require.NotNil(t, perr)
		assert.Equal(t, uint32(codes.FileNotFound), perr.Code())
	})

	t.Run("plain error", func(t *testing.T) {
		assert.Nil(t, a.MapError(errors.New("boom")))
	})
}

func TestConfigValidation(t *testing.T) {
	n := newNode(t, "server", "server-key")

	cfg := testNetConfig()
	cfg.Port = 70000
	_, err := New(cfg, n.h, nil)
	assert.Error(t, err)

	cfg = testNetConfig()
	cfg.WriteLimit = -1
	_, err = New(cfg, n.h, nil)
	assert.Error(t, err)
}
