package commands

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTime(t *testing.T) {
	want := time.Date(2026, 3, 1, 10, 30, 45, 123000000, time.UTC)

	tests := []struct {
		name string
		line string
		want time.Time
	}{
		{"json", `{"time":"2026-03-01T10:30:45.123Z","level":"INFO","msg":"Node is running"}`, want},
		{"text", `time=2026-03-01T10:30:45.123Z level=INFO msg="Node is running"`, want},
		{"prefix", `2026-03-01T10:30:45.123Z INFO Node is running`, want},
		{"none", `INFO Node is running`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recordTime(tt.line)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}

func TestTailLines(t *testing.T) {
	content := "time=2026-03-01T10:00:00Z msg=one\n" +
		"time=2026-03-01T11:00:00Z msg=two\n" +
		"continuation without time\n" +
		"time=2026-03-01T12:00:00Z msg=three\n"

	t.Run("last lines", func(t *testing.T) {
		lines, err := tailLines(strings.NewReader(content), 2, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, []string{"continuation without time", "time=2026-03-01T12:00:00Z msg=three"}, lines)
	})

	t.Run("fewer lines than asked", func(t *testing.T) {
		lines, err := tailLines(strings.NewReader(content), 10, time.Time{})
		require.NoError(t, err)
		assert.Len(t, lines, 4)
		assert.Equal(t, "time=2026-03-01T10:00:00Z msg=one", lines[0])
	})

	t.Run("since", func(t *testing.T) {
		lines, err := tailLines(strings.NewReader(content), 10, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Len(t, lines, 3)
		assert.Contains(t, lines[0], "msg=two")
	})

	t.Run("zero lines", func(t *testing.T) {
		lines, err := tailLines(strings.NewReader(content), 0, time.Time{})
		require.NoError(t, err)
		assert.Empty(t, lines)
	})
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseSince("90m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-90*time.Minute), got)

	got, err = parseSince("2026-03-01T10:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Hour())

	_, err = parseSince("yesterday", now)
	assert.Error(t, err)
}

func TestLogFile(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	_, err := logFile("stdout")
	assert.ErrorContains(t, err, "not a file")

	_, err = logFile(filepath.Join(t.TempDir(), "missing.log"))
	assert.ErrorContains(t, err, "not found")

	require.NoError(t, os.MkdirAll(GetDefaultStateDir(), 0o755))
	require.NoError(t, os.WriteFile(GetDefaultLogFile(), nil, 0o644))
	path, err := logFile("stderr")
	require.NoError(t, err)
	assert.Equal(t, GetDefaultLogFile(), path)
}

func TestFollowStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dittomft.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out strings.Builder
	assert.NoError(t, follow(ctx, f, &out))
}
