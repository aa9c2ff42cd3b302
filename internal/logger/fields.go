package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging. Use these consistently so
// session logs can be correlated across partners.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Session & Connection
	// ========================================================================
	KeyLocalID    = "local_id"    // local session ID
	KeyRemoteID   = "remote_id"   // peer session ID
	KeyPacketType = "packet"      // packet type: AUTHENT, REQUEST, DATA, ...
	KeyState      = "state"       // session state: AUTHENTR, REQUESTD, ...
	KeyHostID     = "host_id"     // partner host ID
	KeyRemoteAddr = "remote_addr" // peer network address
	KeyTLS        = "tls"         // connection is TLS
	KeySessions   = "sessions"    // number of live sessions

	// ========================================================================
	// Transfer
	// ========================================================================
	KeySpecialID    = "special_id"    // transfer ID
	KeyRule         = "rule"          // transfer rule name
	KeyMode         = "mode"          // transfer mode
	KeyFilename     = "filename"      // transfer filename
	KeyPath         = "path"          // local file path
	KeyRank         = "rank"          // current block rank
	KeyBlockSize    = "block_size"    // negotiated block size
	KeySize         = "size"          // file size in bytes
	KeyStep         = "step"          // global step
	KeyTaskType     = "task"          // pre/post/error task type
	KeyDigest       = "digest"        // digest hex
	KeyDigestAlgo   = "digest_algo"   // digest algorithm
	KeyLimit        = "limit"         // bandwidth limit in bytes/s
	KeyBytesRead    = "bytes_read"    // bytes read
	KeyBytesWritten = "bytes_written" // bytes written

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code" // transfer error code character
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
	KeyStoreType  = "store_type" // descriptor store: sqlite, postgres, badger
)

// ============================================================================
// Field constructors
// ============================================================================

// TraceID returns a slog.Attr for an OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for an OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// LocalID returns a slog.Attr for the local session ID
func LocalID(id int32) slog.Attr {
	return slog.Int(KeyLocalID, int(id))
}

// RemoteID returns a slog.Attr for the peer session ID
func RemoteID(id int32) slog.Attr {
	return slog.Int(KeyRemoteID, int(id))
}

func PacketType(t string) slog.Attr {
	return slog.String(KeyPacketType, t)
}

func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

func HostID(id string) slog.Attr {
	return slog.String(KeyHostID, id)
}

func RemoteAddr(addr string) slog.Attr {
	return slog.String(KeyRemoteAddr, addr)
}

// SpecialID returns a slog.Attr for the transfer ID
func SpecialID(id int64) slog.Attr {
	return slog.Int64(KeySpecialID, id)
}

func Rule(name string) slog.Attr {
	return slog.String(KeyRule, name)
}

func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Rank returns a slog.Attr for a block rank
func Rank(r int32) slog.Attr {
	return slog.Int(KeyRank, int(r))
}

func Size(s int64) slog.Attr {
	return slog.Int64(KeySize, s)
}

// ErrorCode returns a slog.Attr for a transfer error code. Codes are single
// characters on the wire so they are logged as such.
func ErrorCode(c byte) slog.Attr {
	return slog.String(KeyErrorCode, string(rune(c)))
}

// Err returns a slog.Attr for an error (nil-safe)
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr for a duration in milliseconds
func DurationMs(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMs, float64(d.Microseconds())/1000.0)
}

func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}
