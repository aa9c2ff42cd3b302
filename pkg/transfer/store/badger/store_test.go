package badger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomft/pkg/transfer"
	"github.com/marmos91/dittomft/pkg/transfer/store/badger"
	"github.com/marmos91/dittomft/pkg/transfer/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) transfer.Store {
		s, err := badger.New(badger.Config{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := badger.New(badger.Config{Path: dir})
	require.NoError(t, err)

	hash, err := transfer.HashKey([]byte("k"))
	require.NoError(t, err)
	require.NoError(t, s.PutHost(context.Background(), &transfer.Host{HostID: "hostB", KeyHash: hash}))

	d := storetest.NewDescriptor(11, "hostA", "hostA", "hostB", "push")
	d.Rank = 40
	require.NoError(t, s.SaveDescriptor(context.Background(), d))
	require.NoError(t, s.Close())

	s, err = badger.New(badger.Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	h, err := s.GetHost(context.Background(), "hostB")
	require.NoError(t, err)
	assert.NoError(t, h.VerifyKey([]byte("k")))

	got, err := s.GetDescriptor(context.Background(), 11, "hostA", "hostB")
	require.NoError(t, err)
	assert.Equal(t, int32(40), got.Rank)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestRequiresPath(t *testing.T) {
	_, err := badger.New(badger.Config{})
	assert.Error(t, err)
}

func TestHealthcheckAfterClose(t *testing.T) {
	s, err := badger.New(badger.Config{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, s.Healthcheck(context.Background()))
	require.NoError(t, s.Close())
	assert.Error(t, s.Healthcheck(context.Background()))
}
