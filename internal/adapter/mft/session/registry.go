package session

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
	"github.com/marmos91/dittomft/pkg/business"
	"github.com/marmos91/dittomft/pkg/transfer"
)

// Config bounds the registry's retry loops.
type Config struct {
	// RetryCount is how many extra times an endpoint slot is tried.
	RetryCount int
	// RetryDelay is the base backoff unit; slot retries sleep ten of them.
	RetryDelay time.Duration
	// DeferredAttempts bounds how often a frame for an unknown session is
	// retried before the peer is told the session does not exist.
	DeferredAttempts int
	// DeferredDelay separates deferred delivery attempts.
	DeferredDelay time.Duration
	// WaitForNetOp bounds best-effort sends during shutdown.
	WaitForNetOp time.Duration
}

// DefaultConfig returns the stock retry bounds.
func DefaultConfig() Config {
	return Config{
		RetryCount:       3,
		RetryDelay:       10 * time.Millisecond,
		DeferredAttempts: 10,
		DeferredDelay:    100 * time.Millisecond,
		WaitForNetOp:     200 * time.Millisecond,
	}
}

// Finalizer lets the transfer engine take part in registry-driven teardown.
type Finalizer interface {
	// SaveDescriptor persists d.
	SaveDescriptor(ctx context.Context, d *transfer.Descriptor) error

	// FinalizeShutdown closes the transfer of s as interrupted by shutdown.
	FinalizeShutdown(ctx context.Context, s *Session, r Result)

	// ChannelClosed runs the close handling of s and unregisters it.
	ChannelClosed(ctx context.Context, s *Session)
}

// Observer is notified of session count changes.
type Observer interface {
	SetSessions(n int)
}

// Registry indexes the live sessions of the process by local ID and by
// transfer key.
type Registry struct {
	cfg      Config
	business business.Factory

	nextID   atomic.Int32
	sessions sync.Map // int32 -> *Session
	keys     sync.Map // transfer key -> *Session
	count    atomic.Int32

	pendingMu sync.Mutex
	pending   map[int32]*pendingQueue

	finalizer atomic.Pointer[finalizerBox]
	observer  Observer

	blocked      atomic.Bool
	shuttingDown atomic.Bool
}

type finalizerBox struct{ Finalizer }

type pendingQueue struct {
	conn     Endpoint
	frames   []packet.Frame
	attempts int
	timer    *time.Timer
}

// NewRegistry creates an empty registry. A nil factory selects
// business.NoopFactory.
func NewRegistry(cfg Config, factory business.Factory) *Registry {
	if factory == nil {
		factory = business.NoopFactory
	}
	def := DefaultConfig()
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.DeferredAttempts <= 0 {
		cfg.DeferredAttempts = def.DeferredAttempts
	}
	if cfg.DeferredDelay <= 0 {
		cfg.DeferredDelay = def.DeferredDelay
	}
	if cfg.WaitForNetOp <= 0 {
		cfg.WaitForNetOp = def.WaitForNetOp
	}
	return &Registry{
		cfg:      cfg,
		business: factory,
		pending:  make(map[int32]*pendingQueue),
	}
}

// Config returns the registry's retry bounds.
func (r *Registry) Config() Config { return r.cfg }

// SetFinalizer installs the engine callbacks used by ShutdownAll.
func (r *Registry) SetFinalizer(f Finalizer) {
	r.finalizer.Store(&finalizerBox{f})
}

// SetObserver installs a session count observer. Call before use.
func (r *Registry) SetObserver(o Observer) { r.observer = o }

func (r *Registry) getFinalizer() Finalizer {
	if b := r.finalizer.Load(); b != nil {
		return b.Finalizer
	}
	return nil
}

// =============================================================================
// Creation and lookup
// =============================================================================

func (r *Registry) allocateID() int32 {
	for {
		id := r.nextID.Add(1)
		if id <= 0 {
			r.nextID.CompareAndSwap(id, 0)
			continue
		}
		if _, taken := r.sessions.Load(id); !taken {
			return id
		}
	}
}

// CreateSession opens a session on conn. remoteID is the peer session when
// the peer initiated it, 0 otherwise. request, when non-nil, becomes the
// session's request signal so that a caller can wait on it.
//
// The session is registered before its Startup packet is queued on conn, and
// frames deferred for its ID are replayed right after, so that Startup is
// always the first packet the session processes.
func (r *Registry) CreateSession(ctx context.Context, conn Endpoint, remoteID int32, request *Signal) (*Session, error) {
	attempts := 1
	for !conn.OpenEndpoint() {
		if attempts > r.cfg.RetryCount {
			return nil, &NoConnectionError{Addr: conn.RemoteAddr(), Attempts: attempts}
		}
		attempts++
		t := time.NewTimer(r.cfg.RetryDelay * 10)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	id := r.allocateID()
	s := newSession(r, conn, id, remoteID, request, r.business.New())
	r.sessions.Store(id, s)
	r.notify(r.count.Add(1))

	startup := &packet.Startup{LocalID: id, FromTLS: conn.IsTLS()}
	if !conn.Inject(packet.Frame{Dest: id, Src: remoteID, Packet: startup}) {
		r.Remove(s)
		return nil, &NoConnectionError{Addr: conn.RemoteAddr(), Attempts: attempts}
	}
	r.flushPending(id)

	logger.Debug("session created", logger.LocalID(id), logger.RemoteID(remoteID),
		logger.RemoteAddr(conn.RemoteAddr()))
	return s, nil
}

// Get returns the session with the given local ID.
func (r *Registry) Get(localID int32) (*Session, bool) {
	v, ok := r.sessions.Load(localID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// GetByTransferKey returns the session bound to a transfer key.
func (r *Registry) GetByTransferKey(key string) (*Session, bool) {
	v, ok := r.keys.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// BindTransferKey binds s to the key of d. When another live session already
// holds the key, that session is returned with false and nothing changes.
func (r *Registry) BindTransferKey(d *transfer.Descriptor, s *Session) (*Session, bool) {
	key := d.Key()
	actual, loaded := r.keys.LoadOrStore(key, s)
	if loaded && actual.(*Session) != s {
		return actual.(*Session), false
	}

	s.mu.Lock()
	old := s.key
	s.key = key
	s.mu.Unlock()
	if old != "" && old != key {
		r.keys.CompareAndDelete(old, s)
	}
	return s, true
}

// UnbindTransferKey releases the transfer key held by s, if any.
func (r *Registry) UnbindTransferKey(s *Session) {
	s.mu.Lock()
	key := s.key
	s.key = ""
	s.mu.Unlock()
	if key != "" {
		r.keys.CompareAndDelete(key, s)
	}
}

// Remove unregisters s and releases its endpoint slot. It is idempotent.
func (r *Registry) Remove(s *Session) {
	s.closed.Store(true)
	if !r.sessions.CompareAndDelete(s.id, s) {
		return
	}
	r.UnbindTransferKey(s)
	s.conn.ReleaseEndpoint()
	r.notify(r.count.Add(-1))
}

// Len returns the number of live sessions.
func (r *Registry) Len() int { return int(r.count.Load()) }

// Range calls fn for every live session until fn returns false.
func (r *Registry) Range(fn func(s *Session) bool) {
	r.sessions.Range(func(_, v any) bool {
		return fn(v.(*Session))
	})
}

// ForConnection returns the live sessions multiplexed over conn.
func (r *Registry) ForConnection(conn Endpoint) []*Session {
	var out []*Session
	r.Range(func(s *Session) bool {
		if s.conn == conn {
			out = append(out, s)
		}
		return true
	})
	return out
}

func (r *Registry) notify(n int32) {
	if r.observer != nil {
		r.observer.SetSessions(int(n))
	}
}

// =============================================================================
// Request blocking and shutdown flags
// =============================================================================

// SetBlocked blocks or unblocks new requests.
func (r *Registry) SetBlocked(blocked bool) { r.blocked.Store(blocked) }

// IsBlocked reports whether new requests are refused.
func (r *Registry) IsBlocked() bool { return r.blocked.Load() }

// IsShuttingDown reports whether ShutdownAll started.
func (r *Registry) IsShuttingDown() bool { return r.shuttingDown.Load() }

// =============================================================================
// Deferred delivery
// =============================================================================

// Deliver routes f to its destination session through conn's ordered path.
// A frame for a session that is not registered yet is queued and retried
// every DeferredDelay; frames queued for the same session keep their order.
func (r *Registry) Deliver(conn Endpoint, f packet.Frame) {
	r.pendingMu.Lock()
	if q, ok := r.pending[f.Dest]; ok {
		q.frames = append(q.frames, f)
		r.pendingMu.Unlock()
		return
	}
	if _, ok := r.Get(f.Dest); ok {
		r.pendingMu.Unlock()
		conn.Inject(f)
		return
	}
	dest := f.Dest
	q := &pendingQueue{conn: conn, frames: []packet.Frame{f}}
	q.timer = time.AfterFunc(r.cfg.DeferredDelay, func() { r.retryPending(dest) })
	r.pending[dest] = q
	r.pendingMu.Unlock()

	logger.Debug("deferring packet for unknown session", logger.LocalID(dest),
		logger.PacketType(f.Packet.Type().String()))
}

func (r *Registry) retryPending(dest int32) {
	r.pendingMu.Lock()
	q, ok := r.pending[dest]
	if !ok {
		r.pendingMu.Unlock()
		return
	}
	if _, ok := r.Get(dest); ok {
		delete(r.pending, dest)
		r.pendingMu.Unlock()
		q.replay()
		return
	}
	q.attempts++
	if q.attempts < r.cfg.DeferredAttempts {
		q.timer.Reset(r.cfg.DeferredDelay)
		r.pendingMu.Unlock()
		return
	}
	delete(r.pending, dest)
	r.pendingMu.Unlock()

	if q.conn.IsShuttingDown() {
		return
	}
	msg := "Cannot find local connection: " + strconv.Itoa(int(dest))
	logger.Warn(msg, logger.RemoteAddr(q.conn.RemoteAddr()), "dropped", len(q.frames))

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WaitForNetOp)
	defer cancel()
	reply := &packet.ConnectError{Header: msg, Middle: codes.ConnectionImpossible.String()}
	if err := q.conn.Send(ctx, packet.Frame{Dest: q.frames[0].Src, Packet: reply}); err != nil {
		logger.Debug("connect error not sent", logger.Err(err))
	}
}

func (r *Registry) flushPending(dest int32) {
	r.pendingMu.Lock()
	q, ok := r.pending[dest]
	if ok {
		q.timer.Stop()
		delete(r.pending, dest)
	}
	r.pendingMu.Unlock()
	if ok {
		q.replay()
	}
}

func (q *pendingQueue) replay() {
	for _, f := range q.frames {
		if !q.conn.Inject(f) {
			return
		}
	}
}

// =============================================================================
// Broadcast shutdown
// =============================================================================

// ShutdownAll interrupts every live session. Sessions in transfer persist
// their rank; a receiver also tells the peer its rank so that the transfer
// resumes from there. Each unfinished session gets a best-effort Shutdown
// notice bounded by WaitForNetOp before it is closed.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.shuttingDown.Store(true)
	fin := r.getFinalizer()

	var all []*Session
	r.Range(func(s *Session) bool {
		all = append(all, s)
		return true
	})
	logger.Info("shutting down sessions", logger.KeySessions, len(all))

	for _, s := range all {
		r.shutdownSession(ctx, s, fin)
	}
}

func (r *Registry) shutdownSession(ctx context.Context, s *Session, fin Finalizer) {
	var (
		snapshot   *transfer.Descriptor
		rank       string
		inTransfer bool
		unfinished bool
	)
	s.WithDescriptor(func(d *transfer.Descriptor) {
		if d == nil {
			return
		}
		inTransfer = d.IsInTransfer()
		if inTransfer && !d.IsSender {
			rank = strconv.Itoa(int(d.Rank))
		}
		unfinished = !d.IsFinished()
		snapshot = d.Clone()
	})

	sctx := s.Context(ctx)
	if inTransfer && fin != nil {
		if err := fin.SaveDescriptor(sctx, snapshot); err != nil {
			logger.WarnCtx(sctx, "cannot persist rank at shutdown", logger.Err(err))
		}
	}

	if unfinished {
		s.SetErrorMessage("Shutdown forced", codes.Shutdown)
		s.SetStatus(StateShutdown, RoleNone)

		sendCtx, cancel := context.WithTimeout(ctx, r.cfg.WaitForNetOp)
		err := s.Send(sendCtx, &packet.Valid{Header: "Shutdown forced", Middle: rank, SubType: packet.TypeShutdown})
		cancel()
		if err != nil {
			logger.DebugCtx(sctx, "shutdown notice not sent", logger.Err(err))
		}
		if fin != nil {
			fin.FinalizeShutdown(sctx, s, Result{Code: codes.Shutdown, Descriptor: s.Descriptor()})
		}
	}

	if fin != nil {
		fin.ChannelClosed(sctx, s)
	}
	s.Close()
}
