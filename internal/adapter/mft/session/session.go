// Package session implements the logical transfer conversations multiplexed
// over MFT connections: the per-session state and completion signals, and the
// process-wide registry that creates, indexes and tears sessions down.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/digest"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
	"github.com/marmos91/dittomft/pkg/business"
	"github.com/marmos91/dittomft/pkg/files"
	"github.com/marmos91/dittomft/pkg/transfer"
)

// Pump is the sender-side worker bound to a session.
type Pump interface {
	// Stop asks the worker to exit at its next check point.
	Stop()
}

// Session is one transfer conversation on a connection.
//
// Packet handling for a session runs on its connection's ordered path, so
// most fields are only touched by one goroutine at a time; mu guards the
// fields also read from other goroutines (data pump, registry shutdown,
// metrics). The descriptor has its own lock: the pump advances its rank
// concurrently with the packet path.
type Session struct {
	id       int32
	remoteID atomic.Int32
	conn     Endpoint
	registry *Registry
	created  time.Time

	startup      *Signal
	connection   *Signal
	validRequest *Signal
	endTransfer  atomic.Pointer[Signal]
	request      *Signal

	mu             sync.Mutex
	status         Status
	authenticated  bool
	partner        *transfer.Host
	partnerVersion string
	errMsg         string
	errCode        codes.ErrorCode
	key            string
	rule           *transfer.Rule
	file           files.File
	recvThrough    files.RecvThroughHandler
	pump           Pump
	limiter        *rate.Limiter
	limit          int64
	business       business.Handler
	hash           string
	partialHash    bool

	// Owned by the packet path only.
	acc        *digest.Accumulator
	mismatches int

	descMu sync.Mutex
	desc   *transfer.Descriptor

	closed atomic.Bool
}

var _ business.Session = (*Session)(nil)

func newSession(reg *Registry, conn Endpoint, id, remoteID int32, request *Signal, biz business.Handler) *Session {
	if request == nil {
		request = NewSignal()
	}
	if biz == nil {
		biz = &business.Noop{}
	}
	s := &Session{
		id:           id,
		conn:         conn,
		registry:     reg,
		created:      time.Now(),
		startup:      NewSignal(),
		connection:   NewSignal(),
		validRequest: NewSignal(),
		request:      request,
		business:     biz,
		errCode:      codes.Unknown,
	}
	s.remoteID.Store(remoteID)
	s.endTransfer.Store(NewSignal())
	return s
}

// =============================================================================
// Identity
// =============================================================================

func (s *Session) LocalID() int32  { return s.id }
func (s *Session) RemoteID() int32 { return s.remoteID.Load() }

// SetRemoteID records the peer's session ID. The first non-zero ID wins.
func (s *Session) SetRemoteID(id int32) {
	if id != 0 {
		s.remoteID.CompareAndSwap(0, id)
	}
}

func (s *Session) Conn() Endpoint             { return s.conn }
func (s *Session) Registry() *Registry        { return s.registry }
func (s *Session) RemoteAddr() string         { return s.conn.RemoteAddr() }
func (s *Session) CreatedAt() time.Time       { return s.created }
func (s *Session) Business() business.Handler { return s.business }

// HostID returns the authenticated partner ID, empty before authentication.
func (s *Session) HostID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.partner == nil {
		return ""
	}
	return s.partner.HostID
}

// Context returns ctx carrying this session's logging fields.
func (s *Session) Context(ctx context.Context) context.Context {
	lc := logger.NewLogContext(s.RemoteAddr(), s.id)
	lc.StartTime = s.created
	lc.RemoteID = s.RemoteID()
	lc.HostID = s.HostID()
	if d := s.Descriptor(); d != nil {
		lc.SpecialID = d.SpecialID
		lc.Rule = d.Rule
	}
	if parent := logger.FromContext(ctx); parent != nil {
		lc.TraceID, lc.SpanID, lc.PacketType = parent.TraceID, parent.SpanID, parent.PacketType
	}
	return logger.WithContext(ctx, lc)
}

// =============================================================================
// Protocol state
// =============================================================================

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) SetStatus(st State, role Role) {
	s.mu.Lock()
	s.status = Status{State: st, Role: role}
	s.mu.Unlock()
}

// IsAuthenticated reports whether the partner was authenticated.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// SetAuthenticated records the authenticated partner and its protocol version.
func (s *Session) SetAuthenticated(host *transfer.Host, version string) {
	s.mu.Lock()
	s.authenticated = true
	s.partner = host
	s.partnerVersion = version
	s.mu.Unlock()
}

// Partner returns the authenticated partner, nil before authentication.
func (s *Session) Partner() *transfer.Host {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partner
}

func (s *Session) PartnerVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.partnerVersion == "" {
		return packet.LegacyVersion
	}
	return s.partnerVersion
}

// ErrorMessage returns the last error recorded on the session.
func (s *Session) ErrorMessage() (string, codes.ErrorCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg, s.errCode
}

func (s *Session) SetErrorMessage(msg string, code codes.ErrorCode) {
	s.mu.Lock()
	s.errMsg = msg
	s.errCode = code
	s.mu.Unlock()
}

// =============================================================================
// Transfer resources
// =============================================================================

// Descriptor returns the bound descriptor, nil before negotiation.
func (s *Session) Descriptor() *transfer.Descriptor {
	s.descMu.Lock()
	defer s.descMu.Unlock()
	return s.desc
}

func (s *Session) SetDescriptor(d *transfer.Descriptor) {
	s.descMu.Lock()
	s.desc = d
	s.descMu.Unlock()
}

// WithDescriptor runs fn with the descriptor locked. fn receives nil when no
// descriptor is bound.
func (s *Session) WithDescriptor(fn func(d *transfer.Descriptor)) {
	s.descMu.Lock()
	defer s.descMu.Unlock()
	fn(s.desc)
}

func (s *Session) Rule() *transfer.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rule
}

func (s *Session) SetRule(r *transfer.Rule) {
	s.mu.Lock()
	s.rule = r
	s.mu.Unlock()
}

func (s *Session) File() files.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

func (s *Session) SetFile(f files.File) {
	s.mu.Lock()
	s.file = f
	s.mu.Unlock()
}

func (s *Session) RecvThrough() files.RecvThroughHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvThrough
}

func (s *Session) SetRecvThrough(h files.RecvThroughHandler) {
	s.mu.Lock()
	s.recvThrough = h
	s.mu.Unlock()
}

// Digest returns the global digest accumulator. Packet path only.
func (s *Session) Digest() *digest.Accumulator { return s.acc }

// SetDigest replaces the global digest accumulator. Packet path only.
func (s *Session) SetDigest(acc *digest.Accumulator) { s.acc = acc }

// AddMismatch counts one more rank mismatch and returns the total.
func (s *Session) AddMismatch() int {
	s.mismatches++
	return s.mismatches
}

func (s *Session) SetPump(p Pump) {
	s.mu.Lock()
	s.pump = p
	s.mu.Unlock()
}

// StopPump asks the bound data pump, if any, to stop.
func (s *Session) StopPump() {
	s.mu.Lock()
	p := s.pump
	s.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}

// SetTransferHash records the digest computed while receiving. partial marks
// a digest that does not cover the whole file.
func (s *Session) SetTransferHash(hash string, partial bool) {
	s.mu.Lock()
	s.hash = hash
	s.partialHash = partial
	s.mu.Unlock()
}

// TransferHash returns the digest computed while receiving, if any.
func (s *Session) TransferHash() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hash, s.partialHash
}

// =============================================================================
// Bandwidth
// =============================================================================

// SetLimit shapes the session's traffic to bps bytes per second. A
// non-positive value removes the limit.
func (s *Session) SetLimit(bps int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = bps
	if bps <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = rate.NewLimiter(rate.Limit(bps), int(max(bps, 64<<10)))
}

func (s *Session) Limit() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

// Throttle waits until n bytes may flow through the session.
func (s *Session) Throttle(ctx context.Context, n int) error {
	s.mu.Lock()
	l := s.limiter
	s.mu.Unlock()
	if l == nil {
		return nil
	}
	for n > 0 {
		chunk := min(n, l.Burst())
		if err := l.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// =============================================================================
// Signals
// =============================================================================

// StartupSignal resolves once the session endpoint started.
func (s *Session) StartupSignal() *Signal { return s.startup }

// ConnectionSignal resolves once authentication completed or failed.
func (s *Session) ConnectionSignal() *Signal { return s.connection }

// ValidRequestSignal resolves once the request was negotiated.
func (s *Session) ValidRequestSignal() *Signal { return s.validRequest }

// EndTransferSignal resolves when the data phase is over.
func (s *Session) EndTransferSignal() *Signal { return s.endTransfer.Load() }

// RequestSignal resolves with the final result of the request.
func (s *Session) RequestSignal() *Signal { return s.request }

// ResetEndTransfer arms a fresh end-of-transfer signal for externally
// driven sends.
func (s *Session) ResetEndTransfer() *Signal {
	sig := NewSignal()
	s.endTransfer.Store(sig)
	return sig
}

// ValidateStartup resolves the startup signal.
func (s *Session) ValidateStartup(ok bool) {
	if ok {
		s.startup.Succeed(Result{Code: codes.InitOk})
	} else {
		s.startup.Fail(Result{Code: codes.ConnectionImpossible}, nil)
	}
}

// ValidateConnection resolves the connection signal.
func (s *Session) ValidateConnection(ok bool, r Result) {
	if ok {
		s.connection.Succeed(r)
	} else {
		s.connection.Fail(r, nil)
	}
}

// ValidateEndTransfer marks the data phase successful.
func (s *Session) ValidateEndTransfer(r Result) {
	s.EndTransferSignal().Succeed(r)
}

// ValidateRequest marks the whole request successful, folding in the
// business information for the partner.
func (s *Session) ValidateRequest(r Result) {
	s.ValidateEndTransfer(r)
	s.validRequest.Succeed(r)
	if r.Other == "" {
		r.Other = s.business.Info(s)
	}
	s.request.Succeed(r)
}

// InvalidateRequest fails every pending signal with r. A ServerOverloaded
// result leaves the request signal pending so that the request can be
// retried on another connection.
func (s *Session) InvalidateRequest(r Result) {
	if r.Err == nil {
		r.Err = &ResultError{Code: r.Code}
	}
	s.startup.Fail(r, nil)
	s.connection.Fail(r, nil)
	s.EndTransferSignal().Fail(r, nil)
	s.validRequest.Fail(r, nil)
	if r.Code != codes.ServerOverloaded {
		s.request.Fail(r, nil)
	}
	s.SetErrorMessage(r.Err.Error(), r.Code)

	if d := s.Descriptor(); d != nil && d.IsSender {
		s.StopPump()
	}
}

// =============================================================================
// I/O
// =============================================================================

// Send writes p to the peer session. Data packets are shaped by the session
// limit.
func (s *Session) Send(ctx context.Context, p packet.Packet) error {
	if d, ok := p.(*packet.Data); ok {
		if err := s.Throttle(ctx, packet.FrameSize(d)); err != nil {
			return err
		}
	}
	return s.conn.Send(ctx, packet.Frame{Dest: s.RemoteID(), Src: s.id, Packet: p})
}

// IsClosed reports whether Close was called.
func (s *Session) IsClosed() bool { return s.closed.Load() }

// Close unregisters the session and releases its endpoint. It is idempotent.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.registry.Remove(s)
}
