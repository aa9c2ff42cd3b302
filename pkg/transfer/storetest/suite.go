package storetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
	"github.com/marmos91/dittomft/pkg/transfer"
)

// StoreFactory creates a fresh Store instance for each test.
type StoreFactory func(t *testing.T) transfer.Store

// RunConformanceSuite runs the full conformance suite against factory. Each
// test gets a fresh store.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("Descriptors", func(t *testing.T) {
		runDescriptorTests(t, factory)
	})

	t.Run("Hosts", func(t *testing.T) {
		runHostTests(t, factory)
	})

	t.Run("Healthcheck", func(t *testing.T) {
		s := factory(t)
		assert.NoError(t, s.Healthcheck(t.Context()))
	})
}

// NewDescriptor builds a descriptor owned by owner for tests.
func NewDescriptor(id int64, owner, requester, requested, rule string) *transfer.Descriptor {
	return &transfer.Descriptor{
		SpecialID:        id,
		Requester:        requester,
		Requested:        requested,
		Owner:            owner,
		Rule:             rule,
		Mode:             packet.ModeSend,
		IsSender:         owner == requester,
		Filename:         "in/report.csv",
		OriginalFilename: "report.csv",
		BlockSize:        65536,
		OriginalSize:     -1,
		GlobalStep:       transfer.StepNone,
		StepStatus:       codes.Unknown,
		InfoStatus:       codes.Unknown,
		UpdatedInfo:      transfer.InfoUnknown,
		StartAt:          time.Now().Truncate(time.Second),
	}
}

func runDescriptorTests(t *testing.T, factory StoreFactory) {
	t.Run("CreateThenGet", func(t *testing.T) {
		s := factory(t)
		ctx := t.Context()

		d := NewDescriptor(42, "hostA", "hostA", "hostB", "push")
		require.NoError(t, s.CreateDescriptor(ctx, d))

		got, err := s.GetDescriptor(ctx, 42, "hostA", "hostB")
		require.NoError(t, err)
		assert.Equal(t, d.Rule, got.Rule)
		assert.Equal(t, d.Filename, got.Filename)
		assert.Equal(t, packet.ModeSend, got.Mode)
		assert.Equal(t, int64(-1), got.OriginalSize)
		assert.True(t, got.IsSender)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := factory(t)
		_, err := s.GetDescriptor(t.Context(), 1, "x", "y")
		assert.ErrorIs(t, err, transfer.ErrDescriptorNotFound)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := factory(t)
		ctx := t.Context()

		require.NoError(t, s.CreateDescriptor(ctx, NewDescriptor(7, "hostA", "hostA", "hostB", "push")))
		err := s.CreateDescriptor(ctx, NewDescriptor(7, "hostA", "hostA", "hostB", "push"))
		assert.ErrorIs(t, err, transfer.ErrDuplicateDescriptor)

		// Same id with another requester is a different transfer.
		assert.NoError(t, s.CreateDescriptor(ctx, NewDescriptor(7, "hostA", "hostC", "hostA", "push")))
	})

	t.Run("SaveInsertsAndUpdates", func(t *testing.T) {
		s := factory(t)
		ctx := t.Context()

		d := NewDescriptor(9, "hostB", "hostA", "hostB", "push")
		require.NoError(t, s.SaveDescriptor(ctx, d))

		d.SetTransferTask(0)
		d.Rank = 30
		d.StepStatus = codes.Running
		require.NoError(t, s.SaveDescriptor(ctx, d))

		got, err := s.GetDescriptor(ctx, 9, "hostA", "hostB")
		require.NoError(t, err)
		assert.Equal(t, int32(30), got.Rank)
		assert.Equal(t, transfer.StepTransfer, got.GlobalStep)
		assert.Equal(t, codes.PreProcessingOk, got.InfoStatus)
	})

	t.Run("ListFilters", func(t *testing.T) {
		s := factory(t)
		ctx := t.Context()

		a := NewDescriptor(1, "hostA", "hostA", "hostB", "push")
		b := NewDescriptor(2, "hostA", "hostA", "hostB", "pull")
		c := NewDescriptor(3, "hostC", "hostC", "hostA", "push")
		b.UpdatedInfo = transfer.InfoInError
		for _, d := range []*transfer.Descriptor{a, b, c} {
			require.NoError(t, s.CreateDescriptor(ctx, d))
		}

		all, err := s.ListDescriptors(ctx, transfer.DescriptorFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		owned, err := s.ListDescriptors(ctx, transfer.DescriptorFilter{Owner: "hostA"})
		require.NoError(t, err)
		assert.Len(t, owned, 2)

		pushes, err := s.ListDescriptors(ctx, transfer.DescriptorFilter{Rule: "push"})
		require.NoError(t, err)
		assert.Len(t, pushes, 2)

		info := transfer.InfoInError
		failed, err := s.ListDescriptors(ctx, transfer.DescriptorFilter{UpdatedInfo: &info})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, int64(2), failed[0].SpecialID)

		limited, err := s.ListDescriptors(ctx, transfer.DescriptorFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

func runHostTests(t *testing.T, factory StoreFactory) {
	t.Run("PutThenGet", func(t *testing.T) {
		s := factory(t)
		ctx := t.Context()

		hash, err := transfer.HashKey([]byte("secret"))
		require.NoError(t, err)

		h := &transfer.Host{
			HostID:  "hostB",
			Address: "10.0.0.2",
			Port:    6666,
			KeyHash: hash,
			Active:  true,
			Admin:   true,
		}
		require.NoError(t, s.PutHost(ctx, h))

		got, err := s.GetHost(ctx, "hostB")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.2:6666", got.HostPort())
		assert.True(t, got.Admin)
		assert.NoError(t, got.VerifyKey([]byte("secret")))
		assert.ErrorIs(t, got.VerifyKey([]byte("wrong")), transfer.ErrBadKey)
	})

	t.Run("PutUpdates", func(t *testing.T) {
		s := factory(t)
		ctx := t.Context()

		h := &transfer.Host{HostID: "hostB", Address: "a", KeyHash: "x", Active: true}
		require.NoError(t, s.PutHost(ctx, h))
		h.Address = "b"
		h.Active = false
		require.NoError(t, s.PutHost(ctx, h))

		got, err := s.GetHost(ctx, "hostB")
		require.NoError(t, err)
		assert.Equal(t, "b", got.Address)
		assert.False(t, got.Active)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := factory(t)
		_, err := s.GetHost(t.Context(), "nobody")
		assert.ErrorIs(t, err, transfer.ErrHostNotFound)
	})

	t.Run("ListSorted", func(t *testing.T) {
		s := factory(t)
		ctx := t.Context()

		for _, id := range []string{"zeta", "alpha", "mid"} {
			require.NoError(t, s.PutHost(ctx, &transfer.Host{HostID: id, KeyHash: "x"}))
		}
		hosts, err := s.ListHosts(ctx)
		require.NoError(t, err)
		require.Len(t, hosts, 3)
		assert.Equal(t, "alpha", hosts[0].HostID)
		assert.Equal(t, "zeta", hosts[2].HostID)
	})
}
