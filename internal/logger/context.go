package logger

import (
	"context"
	"log/slog"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds session-scoped logging fields carried through context.Context.
type LogContext struct {
	TraceID    string // OpenTelemetry trace ID
	SpanID     string // OpenTelemetry span ID
	LocalID    int32  // local session ID
	RemoteID   int32  // peer session ID
	PacketType string // packet being processed (REQUEST, DATA, ...)
	HostID     string // authenticated partner
	RemoteAddr string // peer network address
	SpecialID  int64  // transfer ID once negotiated
	Rule       string // transfer rule once negotiated
	StartTime  time.Time
}

// WithContext returns a new context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext returns the LogContext in ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a session on a connection from remoteAddr.
func NewLogContext(remoteAddr string, localID int32) *LogContext {
	return &LogContext{
		RemoteAddr: remoteAddr,
		LocalID:    localID,
		StartTime:  time.Now(),
	}
}

// Clone returns a copy of lc.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithPacket returns a copy tagged with a packet type.
func (lc *LogContext) WithPacket(packetType string) *LogContext {
	c := lc.Clone()
	c.PacketType = packetType
	return c
}

// WithTransfer returns a copy tagged with a negotiated transfer.
func (lc *LogContext) WithTransfer(specialID int64, rule string) *LogContext {
	c := lc.Clone()
	c.SpecialID = specialID
	c.Rule = rule
	return c
}

// WithTrace returns a copy tagged with trace identifiers.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	c.TraceID = traceID
	c.SpanID = spanID
	return c
}

// DurationMs returns the time elapsed since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}

// attrs returns the non-zero fields as log attributes.
func (lc *LogContext) attrs() []slog.Attr {
	out := make([]slog.Attr, 0, 9)
	add := func(ok bool, a slog.Attr) {
		if ok {
			out = append(out, a)
		}
	}
	add(lc.TraceID != "", slog.String(KeyTraceID, lc.TraceID))
	add(lc.SpanID != "", slog.String(KeySpanID, lc.SpanID))
	add(lc.LocalID != 0, LocalID(lc.LocalID))
	add(lc.RemoteID != 0, RemoteID(lc.RemoteID))
	add(lc.PacketType != "", PacketType(lc.PacketType))
	add(lc.HostID != "", HostID(lc.HostID))
	add(lc.RemoteAddr != "", RemoteAddr(lc.RemoteAddr))
	add(lc.SpecialID != 0, SpecialID(lc.SpecialID))
	add(lc.Rule != "", Rule(lc.Rule))
	return out
}
