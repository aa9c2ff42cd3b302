package commands

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomft/internal/adapter/mft/session"
	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/pkg/transfer"
)

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range GetRootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"start", "stop", "status", "logs", "send", "transfers", "config", "version", "completion"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, GetRootCmd().PersistentFlags().Lookup("config"))
}

func TestSendRequiresFlags(t *testing.T) {
	for _, name := range []string{"partner", "rule", "file"} {
		f := sendCmd.Flags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, []string{"true"}, f.Annotations["cobra_annotation_bash_completion_one_required_flag"], name)
	}
}

func TestSummarize(t *testing.T) {
	t.Run("without descriptor", func(t *testing.T) {
		s := summarize(session.Result{Code: codes.ConnectionImpossible, Err: errors.New("refused")})
		assert.Equal(t, codes.ConnectionImpossible.String(), s.Code)
		assert.Equal(t, codes.ConnectionImpossible.Message(), s.Status)
		assert.Zero(t, s.ID)
	})

	t.Run("with descriptor", func(t *testing.T) {
		d := &transfer.Descriptor{SpecialID: 42, Rule: "push", Filename: "report.csv", Rank: 3, OriginalSize: 4096}
		s := summarize(session.NewResult(codes.CompleteOk, d))
		assert.Equal(t, int64(42), s.ID)
		assert.Equal(t, "push", s.Rule)
		assert.Equal(t, "report.csv", s.Filename)
		assert.Equal(t, int32(3), s.Rank)
		assert.Equal(t, int64(4096), s.Size)
	})
}

func TestTransferListTable(t *testing.T) {
	list := transferList{{
		SpecialID:   7,
		Requester:   "node-a",
		Requested:   "node-b",
		Rule:        "push",
		Filename:    "data.bin",
		GlobalStep:  transfer.StepTransfer,
		UpdatedInfo: transfer.InfoInterrupted,
		StepStatus:  codes.Running,
		Rank:        12,
		UpdatedAt:   time.Now(),
	}}

	rows := list.Rows()
	require.Len(t, rows, 1)
	require.Len(t, rows[0], len(list.Headers()))
	assert.Equal(t, "7", rows[0][0])
	assert.Equal(t, "TRANSFERTASK", rows[0][5])
	assert.Contains(t, rows[0][6], "INTERRUPTED")
	assert.Equal(t, "12", rows[0][7])
}

func TestDefaultPaths(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	assert.Contains(t, GetDefaultPidFile(), "dittomft")
	assert.Contains(t, GetDefaultLogFile(), "dittomft.log")
}

func TestBuildInfo(t *testing.T) {
	info := buildInfo()
	assert.Equal(t, Version, info.Version)
	assert.Contains(t, info.Platform, "/")

	rows := info.Rows()
	require.Len(t, rows, 6)
	assert.Equal(t, []string{"Version", Version}, rows[0])
}

func TestCompletionShells(t *testing.T) {
	assert.Equal(t, []string{"bash", "fish", "powershell", "zsh"}, shells())
	assert.Equal(t, shells(), completionCmd.ValidArgs)
}

func TestStartLogFileFlag(t *testing.T) {
	f := startCmd.Flags().Lookup("log-file")
	require.NotNil(t, f)
	t.Cleanup(func() { logFilePath = "" })

	require.NoError(t, startCmd.Flags().Set("log-file", "/tmp/dittomft-test.log"))
	assert.Equal(t, "/tmp/dittomft-test.log", logFilePath)
}
