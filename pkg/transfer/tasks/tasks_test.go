package tasks

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/pkg/files"
	"github.com/marmos91/dittomft/pkg/transfer"
)

func newEnv(t *testing.T, content string) *Env {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/report.csv", []byte(content), 0o644))

	f, err := files.Open(fs, "/in/report.csv")
	require.NoError(t, err)

	return &Env{
		Fs: fs,
		Descriptor: &transfer.Descriptor{
			SpecialID:        42,
			Rule:             "push",
			Filename:         "/in/report.csv",
			OriginalFilename: "report.csv",
			OriginalSize:     int64(len(content)),
		},
		File:       f,
		Dir:        files.NewDir(fs, "/in"),
		LocalHost:  "hostA",
		RemoteHost: "hostB",
	}
}

// ============================================================================
// Substitution
// ============================================================================

func TestSubstitute(t *testing.T) {
	env := newEnv(t, "abc")

	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"#TRUEFILENAME#.bak", "report.csv.bak"},
		{"#TRUEFULLPATH#", "/in/report.csv"},
		{"#ORIGINALFILENAME#", "report.csv"},
		{"#REMOTEHOST#/#SPECIALID#", "hostB/42"},
		{"#RULE#-#LOCALHOST#", "push-hostA"},
		{"#FILESIZE#", "3"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Substitute(tt.in, env))
		})
	}

	t.Run("date and hour", func(t *testing.T) {
		out := Substitute("#DATE#_#HOUR#", env)
		assert.Len(t, out, len("20060102_150405"))
	})
}

// ============================================================================
// CHKFILE
// ============================================================================

func TestCheckFile(t *testing.T) {
	tests := []struct {
		name string
		cond string
		code codes.ErrorCode
		ok   bool
	}{
		{"lower bound met", "SIZE>5", 0, true},
		{"lower bound failed", "SIZE>10", codes.SizeNotAllowed, false},
		{"upper bound met", "SIZE<100", 0, true},
		{"upper bound failed", "SIZE<10", codes.SizeNotAllowed, false},
		{"both bounds", "SIZE>1 SIZE<11", 0, true},
		{"free space", "DFCHECK", 0, true},
		{"garbage", "WHATEVER", codes.ExternalOp, false},
		{"bad number", "SIZE>abc", codes.ExternalOp, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, "0123456789")
			err := Run(context.Background(), env, []transfer.TaskSpec{{Type: "CHKFILE", Path: tt.cond}})
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var te *Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.code, te.Code)
			assert.Equal(t, TypeChkFile, te.Task)
		})
	}

	t.Run("unknown size uses the file", func(t *testing.T) {
		env := newEnv(t, "0123456789")
		env.Descriptor.OriginalSize = -1
		err := Run(context.Background(), env, []transfer.TaskSpec{{Type: "chkfile", Path: "SIZE<5"}})
		var te *Error
		require.ErrorAs(t, err, &te)
		assert.Equal(t, codes.SizeNotAllowed, te.Code)
	})
}

// ============================================================================
// File tasks
// ============================================================================

func TestRename(t *testing.T) {
	env := newEnv(t, "data")

	err := Run(context.Background(), env, []transfer.TaskSpec{{Type: "RENAME", Path: "done/#TRUEFILENAME#.#SPECIALID#"}})
	require.NoError(t, err)

	assert.Equal(t, "/in/done/report.csv.42", env.Descriptor.Filename)
	assert.True(t, env.Descriptor.FileMoved)
	assert.Equal(t, "/in/done/report.csv.42", env.File.Path())

	data, err := afero.ReadFile(env.Fs, "/in/done/report.csv.42")
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestRenameOutsideDir(t *testing.T) {
	env := newEnv(t, "data")
	err := Run(context.Background(), env, []transfer.TaskSpec{{Type: "RENAME", Path: "../../etc/x"}})
	require.NoError(t, err)
	// Relative targets are confined to the rule directory.
	assert.Equal(t, "/in/etc/x", env.Descriptor.Filename)
}

func TestCopy(t *testing.T) {
	env := newEnv(t, "payload")

	err := Run(context.Background(), env, []transfer.TaskSpec{
		{Type: "COPY", Path: "/archive/"},
		{Type: "COPY", Path: "/backup/copy.csv"},
	})
	require.NoError(t, err)

	for _, p := range []string{"/archive/report.csv", "/backup/copy.csv", "/in/report.csv"} {
		data, err := afero.ReadFile(env.Fs, p)
		require.NoError(t, err, p)
		assert.Equal(t, "payload", string(data))
	}
	assert.Equal(t, 2, env.Descriptor.TaskStep)
}

func TestDelete(t *testing.T) {
	t.Run("with file", func(t *testing.T) {
		env := newEnv(t, "x")
		require.NoError(t, Run(context.Background(), env, []transfer.TaskSpec{{Type: "DELETE"}}))
		ok, _ := afero.Exists(env.Fs, "/in/report.csv")
		assert.False(t, ok)
	})

	t.Run("without file", func(t *testing.T) {
		env := newEnv(t, "x")
		env.File = nil
		require.NoError(t, Run(context.Background(), env, []transfer.TaskSpec{{Type: "DELETE"}}))
		ok, _ := afero.Exists(env.Fs, "/in/report.csv")
		assert.False(t, ok)
	})
}

// ============================================================================
// Runner
// ============================================================================

func TestRun(t *testing.T) {
	t.Run("unknown task", func(t *testing.T) {
		env := newEnv(t, "x")
		err := Run(context.Background(), env, []transfer.TaskSpec{{Type: "LOG"}, {Type: "EXEC", Path: "rm -rf /"}})
		var te *Error
		require.ErrorAs(t, err, &te)
		assert.Equal(t, codes.CommandNotFound, te.Code)
		assert.Equal(t, 1, te.Step)
		assert.Equal(t, 1, env.Descriptor.TaskStep)
	})

	t.Run("stops at first failure", func(t *testing.T) {
		env := newEnv(t, "x")
		err := Run(context.Background(), env, []transfer.TaskSpec{
			{Type: "CHKFILE", Path: "SIZE>100"},
			{Type: "DELETE"},
		})
		require.Error(t, err)
		ok, _ := afero.Exists(env.Fs, "/in/report.csv")
		assert.True(t, ok)
	})

	t.Run("file tasks skipped in pass-through", func(t *testing.T) {
		env := newEnv(t, "x")
		env.File = nil
		require.NoError(t, Run(context.Background(), env, []transfer.TaskSpec{{Type: "RENAME", Path: "y"}, {Type: "LOG", Path: "#RULE#", Delay: 1}}))
		assert.Equal(t, "/in/report.csv", env.Descriptor.Filename)
	})

	t.Run("canceled context", func(t *testing.T) {
		env := newEnv(t, "x")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, Run(ctx, env, []transfer.TaskSpec{{Type: "LOG"}}), context.Canceled)
	})

	t.Run("known", func(t *testing.T) {
		assert.True(t, Known("rename"))
		assert.False(t, Known("exec"))
	})
}
