package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// ============================================================================
// Tracing
// ============================================================================

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.False(t, IsEnabled())

	_, span := Tracer().Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(2).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25).Description(), sampler(0.25).Description())
}

// recording installs a tracer whose spans land in the returned recorder.
func recording(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	setTracer(provider.Tracer(instrumentation))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		current.Store(nil)
	})
	return rec
}

func TestIDs(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))
	assert.Empty(t, SpanID(context.Background()))

	recording(t)
	ctx, span := StartTransferSpan(context.Background(), 7, "push", true)
	defer span.End()

	assert.Len(t, TraceID(ctx), 32)
	assert.Len(t, SpanID(ctx), 16)
}

func TestRecordError(t *testing.T) {
	rec := recording(t)
	ctx, span := StartPacketSpan(context.Background(), "DATA", 1, 2)
	RecordError(ctx, nil)
	RecordError(ctx, errors.New("disk full"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "disk full", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 1)
}

// ============================================================================
// Profiling
// ============================================================================

func TestParseProfileTypes(t *testing.T) {
	types, err := parseProfileTypes([]string{"cpu", "goroutines"})
	require.NoError(t, err)
	assert.Equal(t, []pyroscope.ProfileType{pyroscope.ProfileCPU, pyroscope.ProfileGoroutines}, types)

	_, err = parseProfileTypes([]string{"heap"})
	assert.Error(t, err)
}

func TestProfileTypeNames(t *testing.T) {
	names := ProfileTypeNames()
	assert.Len(t, names, len(profileTypes))
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, "inuse_space")
}

func TestInitProfilingDisabled(t *testing.T) {
	stop, err := InitProfiling(ProfilingConfig{})
	require.NoError(t, err)
	assert.NoError(t, stop())
	assert.False(t, IsProfilingEnabled())
}

// ============================================================================
// Spans
// ============================================================================

func TestAttributeHelpers(t *testing.T) {
	t.Run("ClientIP", func(t *testing.T) {
		attr := ClientIP("192.168.1.100")
		assert.Equal(t, AttrClientIP, string(attr.Key))
		assert.Equal(t, "192.168.1.100", attr.Value.AsString())
	})

	t.Run("ClientAddr", func(t *testing.T) {
		attr := ClientAddr("192.168.1.100:6666")
		assert.Equal(t, AttrClientAddr, string(attr.Key))
		assert.Equal(t, "192.168.1.100:6666", attr.Value.AsString())
	})

	t.Run("PacketType", func(t *testing.T) {
		attr := PacketType("DATA")
		assert.Equal(t, AttrPacketType, string(attr.Key))
		assert.Equal(t, "DATA", attr.Value.AsString())
	})

	t.Run("LocalID", func(t *testing.T) {
		attr := LocalID(42)
		assert.Equal(t, AttrLocalID, string(attr.Key))
		assert.Equal(t, int64(42), attr.Value.AsInt64())
	})

	t.Run("SpecialID", func(t *testing.T) {
		attr := SpecialID(1234567890123)
		assert.Equal(t, AttrSpecialID, string(attr.Key))
		assert.Equal(t, int64(1234567890123), attr.Value.AsInt64())
	})

	t.Run("Rank", func(t *testing.T) {
		attr := Rank(7)
		assert.Equal(t, AttrRank, string(attr.Key))
		assert.Equal(t, int64(7), attr.Value.AsInt64())
	})

	t.Run("Sender", func(t *testing.T) {
		attr := Sender(true)
		assert.Equal(t, AttrSender, string(attr.Key))
		assert.True(t, attr.Value.AsBool())
	})

	t.Run("ErrorCode", func(t *testing.T) {
		attr := ErrorCode('M')
		assert.Equal(t, AttrErrorCode, string(attr.Key))
		assert.Equal(t, "M", attr.Value.AsString())
	})
}

func TestStartPacketSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartPacketSpan(ctx, "REQUEST", 1, 2)
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// With additional attributes
	newCtx2, span2 := StartPacketSpan(ctx, "DATA", 1, 2, Rank(3), Size(1024))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartTransferSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartTransferSpan(ctx, 99, "default", false, Filename("in.dat"))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}
