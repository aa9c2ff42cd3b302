package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for protocol operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// ========================================================================
	// Session attributes
	// ========================================================================
	AttrProtocol   = "protocol.name"
	AttrPacketType = "mft.packet_type"
	AttrLocalID    = "mft.local_id"
	AttrRemoteID   = "mft.remote_id"
	AttrHostID     = "mft.host_id"
	AttrState      = "mft.state"

	// ========================================================================
	// Transfer attributes
	// ========================================================================
	AttrSpecialID  = "mft.special_id"
	AttrRule       = "mft.rule"
	AttrMode       = "mft.mode"
	AttrFilename   = "mft.filename"
	AttrRank       = "mft.rank"
	AttrBlockSize  = "mft.block_size"
	AttrSize       = "mft.size"
	AttrSender     = "mft.sender"
	AttrErrorCode  = "mft.error_code"
	AttrDigestAlgo = "mft.digest_algo"

	// ========================================================================
	// Storage attributes
	// ========================================================================
	AttrStoreType = "store.type"
)

// Span names.
const (
	SpanPacket   = "mft.packet"
	SpanTransfer = "mft.transfer"
	SpanPump     = "mft.pump"
	SpanTasks    = "mft.tasks"
)

// ClientIP returns an attribute for client IP address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// Protocol returns an attribute for protocol name
func Protocol(name string) attribute.KeyValue {
	return attribute.String(AttrProtocol, name)
}

func PacketType(t string) attribute.KeyValue {
	return attribute.String(AttrPacketType, t)
}

func LocalID(id int32) attribute.KeyValue {
	return attribute.Int64(AttrLocalID, int64(id))
}

func RemoteID(id int32) attribute.KeyValue {
	return attribute.Int64(AttrRemoteID, int64(id))
}

func HostID(id string) attribute.KeyValue {
	return attribute.String(AttrHostID, id)
}

func State(s string) attribute.KeyValue {
	return attribute.String(AttrState, s)
}

func SpecialID(id int64) attribute.KeyValue {
	return attribute.Int64(AttrSpecialID, id)
}

func Rule(name string) attribute.KeyValue {
	return attribute.String(AttrRule, name)
}

func Mode(m string) attribute.KeyValue {
	return attribute.String(AttrMode, m)
}

func Filename(name string) attribute.KeyValue {
	return attribute.String(AttrFilename, name)
}

func Rank(r int32) attribute.KeyValue {
	return attribute.Int64(AttrRank, int64(r))
}

func BlockSize(n int32) attribute.KeyValue {
	return attribute.Int64(AttrBlockSize, int64(n))
}

func Size(n int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, n)
}

func Sender(isSender bool) attribute.KeyValue {
	return attribute.Bool(AttrSender, isSender)
}

// ErrorCode returns an attribute for a single-character result code.
func ErrorCode(c byte) attribute.KeyValue {
	return attribute.String(AttrErrorCode, string(rune(c)))
}

func DigestAlgo(name string) attribute.KeyValue {
	return attribute.String(AttrDigestAlgo, name)
}

func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// StartPacketSpan starts a span for the processing of one inbound packet.
func StartPacketSpan(ctx context.Context, packetType string, localID, remoteID int32, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Protocol("mft"),
		PacketType(packetType),
		LocalID(localID),
		RemoteID(remoteID),
	}
	allAttrs = append(allAttrs, attrs...)

	return Tracer().Start(ctx, SpanPacket+"."+packetType, trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindServer))
}

// StartTransferSpan starts a span covering a whole transfer.
func StartTransferSpan(ctx context.Context, specialID int64, rule string, isSender bool, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Protocol("mft"),
		SpecialID(specialID),
		Rule(rule),
		Sender(isSender),
	}
	allAttrs = append(allAttrs, attrs...)

	return Tracer().Start(ctx, SpanTransfer, trace.WithAttributes(allAttrs...))
}
