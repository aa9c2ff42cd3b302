package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
)

func newTestDescriptor(owner, requester, requested string, mode packet.Mode) *Descriptor {
	rule := &Rule{Name: "push", Mode: mode}
	req := &packet.Request{
		Rule:         "push",
		Mode:         mode,
		Filename:     "data.bin",
		BlockSize:    1024,
		OriginalSize: 4096,
		SpecialID:    77,
	}
	return NewDescriptor(owner, requester, requested, rule, owner == requester && mode.IsSend(), req)
}

// ============================================================================
// Construction
// ============================================================================

func TestNewDescriptor(t *testing.T) {
	t.Run("copies request fields", func(t *testing.T) {
		d := newTestDescriptor("hostA", "hostA", "hostB", packet.ModeSend)
		assert.Equal(t, int64(77), d.SpecialID)
		assert.Equal(t, "push", d.Rule)
		assert.Equal(t, int32(1024), d.BlockSize)
		assert.Equal(t, int64(4096), d.OriginalSize)
		assert.True(t, d.IsSender)
		assert.Equal(t, "hostB hostA 77", d.Key())
	})

	t.Run("allocates an id when absent", func(t *testing.T) {
		d := NewDescriptor("a", "a", "b", &Rule{Name: "r"}, true, &packet.Request{Mode: packet.ModeSend})
		assert.Positive(t, d.SpecialID)
	})

	t.Run("role predicates", func(t *testing.T) {
		self := newTestDescriptor("hostA", "hostA", "hostA", packet.ModeSend)
		assert.True(t, self.IsSelfRequest())

		answered := newTestDescriptor("hostB", "hostA", "hostB", packet.ModeSend)
		assert.True(t, answered.IsSelfRequested())
		assert.False(t, answered.IsSelfRequest())
	})

	t.Run("through direction swaps on the requested side", func(t *testing.T) {
		requester := newTestDescriptor("hostA", "hostA", "hostB", packet.ModeSendThrough)
		assert.True(t, requester.IsSendThrough())
		assert.False(t, requester.IsRecvThrough())

		requested := newTestDescriptor("hostB", "hostA", "hostB", packet.ModeSendThrough)
		assert.True(t, requested.IsRecvThrough())
		assert.False(t, requested.IsSendThrough())
	})
}

func TestNewSpecialID(t *testing.T) {
	seen := make(map[int64]bool)
	for range 1000 {
		id := NewSpecialID()
		require.Positive(t, id)
		require.False(t, seen[id])
		seen[id] = true
	}
}

// ============================================================================
// Step transitions
// ============================================================================

func TestStepTransitions(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		d := newTestDescriptor("hostA", "hostA", "hostB", packet.ModeSend)
		d.SetInitialTask()
		assert.False(t, d.Ready())

		d.SetPreTask()
		assert.Equal(t, StepPre, d.GlobalStep)
		assert.False(t, d.Ready())

		d.SetTransferTask(0)
		assert.True(t, d.IsInTransfer())
		assert.True(t, d.Ready())
		assert.Equal(t, codes.PreProcessingOk, d.InfoStatus)

		assert.Equal(t, int32(0), d.FinishTransferTask(codes.TransferOk))
		assert.Equal(t, codes.TransferOk, d.InfoStatus)
		assert.True(t, d.ContinueTransfer())

		d.SetPostTask()
		d.SetAllDone()
		assert.True(t, d.IsAllDone())
		assert.True(t, d.IsFinished())
		assert.Equal(t, InfoDone, d.UpdatedInfo)
	})

	t.Run("transfer task never raises rank", func(t *testing.T) {
		d := newTestDescriptor("hostA", "hostA", "hostB", packet.ModeSend)
		d.Rank = 5
		d.SetTransferTask(10)
		assert.Equal(t, int32(5), d.Rank)
		d.SetTransferTask(3)
		assert.Equal(t, int32(3), d.Rank)
	})

	t.Run("failed transfer stops data", func(t *testing.T) {
		d := newTestDescriptor("hostA", "hostA", "hostB", packet.ModeSend)
		d.SetTransferTask(0)
		d.FinishTransferTask(codes.MD5Error)
		assert.False(t, d.ContinueTransfer())
		assert.Equal(t, codes.MD5Error, d.InfoStatus)
		assert.Equal(t, InfoInError, d.UpdatedInfo)

		d.Clean()
		assert.True(t, d.ContinueTransfer())
	})

	t.Run("error tasks in progress are not finished", func(t *testing.T) {
		d := newTestDescriptor("hostA", "hostA", "hostB", packet.ModeSend)
		d.SetErrorTask()
		assert.False(t, d.IsInError())
		d.SetStepStatus(codes.Internal)
		assert.True(t, d.IsInError())
		assert.True(t, d.IsFinished())
	})

	t.Run("checkpoint every ten blocks", func(t *testing.T) {
		d := newTestDescriptor("hostA", "hostA", "hostB", packet.ModeSend)
		var checkpoints int
		for range 25 {
			if d.IncrementRank() {
				checkpoints++
			}
		}
		assert.Equal(t, 2, checkpoints)
		assert.Equal(t, int32(25), d.Rank)
	})
}

// ============================================================================
// Restart and interruption
// ============================================================================

func TestRestart(t *testing.T) {
	t.Run("completed descriptor cannot restart", func(t *testing.T) {
		d := newTestDescriptor("hostA", "hostA", "hostB", packet.ModeSend)
		d.SetAllDone()
		assert.False(t, d.Restart(false, 2))
		assert.Equal(t, codes.QueryAlreadyFinished, d.InfoStatus)
	})

	t.Run("interrupted transfer resumes at its stage", func(t *testing.T) {
		d := newTestDescriptor("hostA", "hostA", "hostB", packet.ModeSend)
		d.SetTransferTask(0)
		d.Rank = 12
		d.FinishTransferTask(codes.Disconnection)

		require.True(t, d.Restart(false, 2))
		assert.Equal(t, StepTransfer, d.GlobalStep)
		assert.Equal(t, int32(12), d.Rank)
		assert.Equal(t, InfoRunning, d.UpdatedInfo)
		assert.True(t, d.ContinueTransfer())
	})

	t.Run("self requested receiver backs off", func(t *testing.T) {
		d := newTestDescriptor("hostB", "hostA", "hostB", packet.ModeSend)
		require.False(t, d.IsSender)
		d.SetTransferTask(0)
		d.Rank = 12
		d.FinishTransferTask(codes.Disconnection)

		require.True(t, d.Restart(false, 2))
		assert.Equal(t, int32(10), d.Rank)
	})

	t.Run("submit is refused on the requested side", func(t *testing.T) {
		d := newTestDescriptor("hostB", "hostA", "hostB", packet.ModeSend)
		assert.False(t, d.Restart(true, 2))
	})

	t.Run("submit schedules", func(t *testing.T) {
		d := newTestDescriptor("hostA", "hostA", "hostB", packet.ModeSend)
		d.SetPreTask()
		require.True(t, d.Restart(true, 2))
		assert.Equal(t, InfoToSubmit, d.UpdatedInfo)
	})

	t.Run("restart rank keeps at least one block", func(t *testing.T) {
		d := newTestDescriptor("hostB", "hostA", "hostB", packet.ModeSend)
		d.Rank = 1
		d.RestartRank(5)
		assert.Equal(t, int32(1), d.Rank)
	})
}

func TestStopOrCancel(t *testing.T) {
	tests := []struct {
		name string
		code codes.ErrorCode
		info UpdatedInfo
	}{
		{"cancel marks error", codes.CanceledTransfer, InfoInError},
		{"stop marks error", codes.StoppedTransfer, InfoInError},
		{"shutdown interrupts", codes.Shutdown, InfoInterrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDescriptor("hostA", "hostA", "hostB", packet.ModeSend)
			d.SetTransferTask(0)
			require.True(t, d.StopOrCancel(tt.code))
			assert.Equal(t, tt.info, d.UpdatedInfo)
			assert.Equal(t, tt.code, d.InfoStatus)
		})
	}

	t.Run("finished descriptor is left alone", func(t *testing.T) {
		d := newTestDescriptor("hostA", "hostA", "hostB", packet.ModeSend)
		d.SetAllDone()
		assert.False(t, d.StopOrCancel(codes.StoppedTransfer))
		assert.Equal(t, codes.CompleteOk, d.InfoStatus)
	})
}

// ============================================================================
// Rules and hosts
// ============================================================================

func TestRuleSet(t *testing.T) {
	rs := NewRuleSet(&Rule{Name: "push", Hosts: []string{"hostB"}}, &Rule{Name: "any"})

	r, err := rs.Get("push")
	require.NoError(t, err)
	assert.True(t, r.IsHostAllowed("hostB"))
	assert.False(t, r.IsHostAllowed("hostC"))

	anyRule, err := rs.Get("any")
	require.NoError(t, err)
	assert.True(t, anyRule.IsHostAllowed("whoever"))

	_, err = rs.Get("missing")
	assert.ErrorIs(t, err, ErrRuleNotFound)

	rs.Put(&Rule{Name: "alpha"})
	assert.Equal(t, []string{"alpha", "any", "push"}, rs.Names())
}

func TestRuleTasksByRole(t *testing.T) {
	r := &Rule{
		SendPreTasks: []TaskSpec{{Type: "LOG"}},
		RecvPreTasks: []TaskSpec{{Type: "CHKFILE"}, {Type: "LOG"}},
	}
	assert.Len(t, r.PreTasks(true), 1)
	assert.Len(t, r.PreTasks(false), 2)
	assert.Empty(t, r.PostTasks(true))
}

func TestHostKey(t *testing.T) {
	hash, err := HashKey([]byte("s3cret"))
	require.NoError(t, err)

	h := &Host{HostID: "hostB", Address: "::1", Port: 6666, KeyHash: hash}
	assert.NoError(t, h.VerifyKey([]byte("s3cret")))
	assert.ErrorIs(t, h.VerifyKey([]byte("nope")), ErrBadKey)
	assert.Equal(t, "[::1]:6666", h.HostPort())

	assert.ErrorIs(t, (&Host{}).VerifyKey([]byte("x")), ErrBadKey)
	assert.True(t, (&Host{Address: "0.0.0.0"}).NoAddress())
}

func TestUpdatedInfoNames(t *testing.T) {
	for u := InfoUnknown; u <= InfoDone; u++ {
		parsed, ok := ParseUpdatedInfo(u.String())
		require.True(t, ok, u.String())
		assert.Equal(t, u, parsed)
	}

	parsed, ok := ParseUpdatedInfo("interrupted")
	assert.True(t, ok)
	assert.Equal(t, InfoInterrupted, parsed)

	_, ok = ParseUpdatedInfo("paused")
	assert.False(t, ok)
	assert.Equal(t, "UpdatedInfo(42)", UpdatedInfo(42).String())
}
