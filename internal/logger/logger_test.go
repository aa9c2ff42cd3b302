package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// captureOutput redirects logger output to a buffer and restores the
// previous output, level and format on cleanup.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)

	mu.RLock()
	origOut, origColor, origFormat := output, useColor, format
	mu.RUnlock()
	origLevel := level.Level()
	InitWithWriter(buf, "INFO", "text", false)

	t.Cleanup(func() {
		level.Set(origLevel)
		mu.Lock()
		output, useColor, format = origOut, origColor, origFormat
		mu.Unlock()
		rebuild()
	})
	return buf
}

// ============================================================================
// Level Tests
// ============================================================================

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugShowsAll", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("DEBUG")

		Debug("d")
		Info("i")
		Warn("w")
		Error("e")

		out := buf.String()
		for _, lvl := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
			assert.Contains(t, out, "["+lvl+"]")
		}
	})

	t.Run("WarnFiltersLower", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("warn")

		Debug("hidden debug")
		Info("hidden info")
		Warn("shown")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "shown")
	})

	t.Run("UnknownLevelIgnored", func(t *testing.T) {
		_ = captureOutput(t)
		SetLevel("ERROR")
		SetLevel("verbose")
		assert.Equal(t, slog.LevelError, level.Level())
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{" INFO ", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"Error", slog.LevelError, true},
		{"trace", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// ============================================================================
// Text Handler Tests
// ============================================================================

func TestTextFormat(t *testing.T) {
	t.Run("SessionTag", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")

		Info("request accepted", KeyLocalID, int32(12), KeyRemoteID, int32(34), KeyRule, "daily")

		out := buf.String()
		assert.Contains(t, out, "[12>34] request accepted")
		assert.Contains(t, out, "rule=daily")
		assert.NotContains(t, out, "local_id=")
	})

	t.Run("LocalOnlyTag", func(t *testing.T) {
		buf := captureOutput(t)
		Info("startup", LocalID(5))
		assert.Contains(t, buf.String(), "[5] startup")
	})

	t.Run("GroupPrefix", func(t *testing.T) {
		buf := captureOutput(t)
		With(LocalID(3)).WithGroup("conn").Info("accepted", "addr", "10.0.0.1:6666")
		out := buf.String()
		assert.Contains(t, out, "[3] accepted")
		assert.Contains(t, out, "conn.addr=10.0.0.1:6666")
	})

	t.Run("ValueKinds", func(t *testing.T) {
		buf := captureOutput(t)
		Info("kinds", "f", 1.5, "b", true, "d", 2*time.Second, "u", uint64(7))
		out := buf.String()
		assert.Contains(t, out, "f=1.500")
		assert.Contains(t, out, "b=true")
		assert.Contains(t, out, "d=2s")
		assert.Contains(t, out, "u=7")
	})
}

// ============================================================================
// JSON Tests
// ============================================================================

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t)
	SetFormat("json")
	SetLevel("INFO")

	Info("transfer done", SpecialID(99), Rank(4), ErrorCode('O'))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "transfer done", rec["msg"])
	assert.EqualValues(t, 99, rec[KeySpecialID])
	assert.EqualValues(t, 4, rec[KeyRank])
	assert.Equal(t, "O", rec[KeyErrorCode])

	SetFormat("xml")
	mu.RLock()
	defer mu.RUnlock()
	assert.Equal(t, "json", format)
}

// ============================================================================
// Context Tests
// ============================================================================

func TestContextLogging(t *testing.T) {
	buf := captureOutput(t)
	SetFormat("json")
	SetLevel("DEBUG")

	lc := NewLogContext("192.0.2.1:6666", 7).WithPacket("REQUEST").WithTransfer(1234, "daily")
	lc.HostID = "partner"
	ctx := WithContext(context.Background(), lc)

	DebugCtx(ctx, "handling", "extra", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.EqualValues(t, 7, rec[KeyLocalID])
	assert.Equal(t, "REQUEST", rec[KeyPacketType])
	assert.Equal(t, "partner", rec[KeyHostID])
	assert.Equal(t, "192.0.2.1:6666", rec[KeyRemoteAddr])
	assert.EqualValues(t, 1234, rec[KeySpecialID])
	assert.Equal(t, "daily", rec[KeyRule])
	assert.EqualValues(t, 1, rec["extra"])
	assert.NotContains(t, rec, KeyTraceID)

	buf.Reset()
	Info("no context", "extra", 2)
	rec = map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.NotContains(t, rec, KeyHostID)
}

func TestLogContext(t *testing.T) {
	t.Run("NilSafe", func(t *testing.T) {
		var lc *LogContext
		assert.Nil(t, lc.Clone())
		assert.Zero(t, lc.DurationMs())
		assert.Nil(t, FromContext(context.Background()))
	})

	t.Run("CopiesDoNotAlias", func(t *testing.T) {
		base := NewLogContext("a", 1)
		traced := base.WithTrace("t", "s")
		assert.Empty(t, base.TraceID)
		assert.Equal(t, "t", traced.TraceID)
		assert.Equal(t, int32(1), traced.LocalID)
	})
}

// ============================================================================
// Field Helper Tests
// ============================================================================

func TestFieldHelpers(t *testing.T) {
	assert.Equal(t, "", Err(nil).Value.String())
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
	assert.Equal(t, 1.5, DurationMs(1500*time.Microsecond).Value.Float64())
	assert.Equal(t, KeyHostID, HostID("h").Key)
}

// ============================================================================
// Init & Concurrency Tests
// ============================================================================

func TestInitFile(t *testing.T) {
	_ = captureOutput(t)
	path := filepath.Join(t.TempDir(), "mft.log")

	require.NoError(t, Init(Config{Level: "INFO", Format: "text", Output: path}))
	Info("to file")

	err := Init(Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestConcurrentLogging(t *testing.T) {
	_ = captureOutput(t)
	buf := &lockedBuffer{}
	InitWithWriter(buf, "INFO", "text", false)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for range 10 {
				Info("block", Rank(int32(n)))
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 200)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
