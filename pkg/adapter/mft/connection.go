package mft

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/marmos91/dittomft/internal/adapter/mft/handlers"
	"github.com/marmos91/dittomft/internal/adapter/mft/session"
	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
	"github.com/marmos91/dittomft/pkg/metrics"
)

// ErrConnectionClosed is returned when writing to a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// engine is what every connection of a server or client shares.
type engine struct {
	cfg      Config
	handler  *handlers.Handler
	registry *session.Registry
	metrics  metrics.MFTMetrics

	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter

	// blacklist refuses addr for a while. nil on clients.
	blacklist func(addr string)
}

func newEngine(cfg Config, h *handlers.Handler, m metrics.MFTMetrics) *engine {
	return &engine{
		cfg:          cfg,
		handler:      h,
		registry:     h.Registry(),
		metrics:      m,
		readLimiter:  newLimiter(cfg.ReadLimit),
		writeLimiter: newLimiter(cfg.WriteLimit),
	}
}

func newLimiter(bps int64) *rate.Limiter {
	if bps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(bps), int(max(bps, 64<<10)))
}

// throttle waits until n bytes may flow through l. A nil limiter never
// waits.
func throttle(ctx context.Context, l *rate.Limiter, n int) error {
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

// Connection is one TCP connection carrying the frames of many sessions.
//
// A single goroutine reads frames and routes them; a dispatcher goroutine
// processes them in arrival order through the engine. Writes are
// serialized so that every frame goes out whole.
type Connection struct {
	eng    *engine
	conn   net.Conn
	reader *bufio.Reader
	addr   string
	tls    bool

	queue        *frameQueue
	dispatchDone chan struct{}

	slots   *semaphore.Weighted
	writeMu sync.Mutex

	hostMu sync.RWMutex
	hostID string

	shuttingDown atomic.Bool
	closeOnce    sync.Once
	closed       chan struct{}

	// lastRead is the unix nano time of the last frame read.
	lastRead atomic.Int64
}

var _ session.Endpoint = (*Connection)(nil)

func newConnection(eng *engine, conn net.Conn) *Connection {
	_, isTLS := conn.(*tls.Conn)
	c := &Connection{
		eng:          eng,
		conn:         conn,
		reader:       bufio.NewReaderSize(conn, 64<<10),
		addr:         conn.RemoteAddr().String(),
		tls:          isTLS,
		queue:        newFrameQueue(),
		dispatchDone: make(chan struct{}),
		slots:        semaphore.NewWeighted(int64(eng.cfg.MaxSessionsPerConn)),
		closed:       make(chan struct{}),
	}
	c.lastRead.Store(time.Now().UnixNano())
	return c
}

// Serve reads frames until the connection fails, the peer closes it or ctx
// is cancelled. Sessions still open on the connection are closed before it
// returns.
func (c *Connection) Serve(ctx context.Context) {
	defer c.handleConnectionClose(ctx)

	logger.Debug("New connection", logger.RemoteAddr(c.addr), logger.KeyTLS, c.tls)

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	go c.dispatch(context.WithoutCancel(ctx))
	if c.eng.cfg.KeepAliveInterval > 0 {
		go c.keepAlive(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Connection closed due to context cancellation", logger.RemoteAddr(c.addr))
			return
		case <-c.closed:
			return
		default:
		}

		f, err := packet.ReadFrame(c.reader, c.eng.cfg.MaxFrameSize)
		if err != nil {
			c.logReadError(err)
			return
		}
		c.lastRead.Store(time.Now().UnixNano())

		n := packet.FrameSize(f.Packet)
		c.recordPacket(f.Packet, metrics.DirectionIn, n)
		if err := throttle(ctx, c.eng.readLimiter, n); err != nil {
			return
		}
		c.route(ctx, f)
	}
}

func (c *Connection) logReadError(err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("Connection closed by peer", logger.RemoteAddr(c.addr))
	case errors.Is(err, net.ErrClosed):
		logger.Debug("Connection closed locally", logger.RemoteAddr(c.addr))
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("Connection read interrupted", logger.RemoteAddr(c.addr), logger.Err(err))
	case errors.Is(err, packet.ErrFrameTooLarge), errors.Is(err, packet.ErrUnknownType):
		logger.Warn("Invalid frame, closing connection", logger.RemoteAddr(c.addr), logger.Err(err))
	default:
		logger.Debug("Error reading frame", logger.RemoteAddr(c.addr), logger.Err(err))
	}
}

// route sends a frame read from the network to its session's ordered path.
// A frame without destination opens a session for the peer.
func (c *Connection) route(ctx context.Context, f packet.Frame) {
	switch {
	case f.Dest == 0 && f.Src == 0:
		c.connectionPacket(ctx, f.Packet)

	case f.Dest == 0:
		if c.shuttingDown.Load() || c.eng.registry.IsShuttingDown() {
			logger.Debug("new session refused during shutdown", logger.RemoteAddr(c.addr))
			return
		}
		s, err := c.eng.registry.CreateSession(ctx, c, f.Src, nil)
		if err != nil {
			logger.Warn("cannot open session", logger.RemoteAddr(c.addr), logger.RemoteID(f.Src), logger.Err(err))
			c.sendConnectError(ctx, f.Src, err.Error())
			return
		}
		c.Inject(packet.Frame{Dest: s.LocalID(), Src: f.Src, Packet: f.Packet})

	default:
		c.eng.registry.Deliver(c, f)
	}
}

// connectionPacket handles the frames addressed to the connection itself.
func (c *Connection) connectionPacket(ctx context.Context, p packet.Packet) {
	switch v := p.(type) {
	case *packet.KeepAlive:
		if v.Way == packet.WayToValidate {
			_ = c.Send(ctx, packet.Frame{Packet: &packet.KeepAlive{Way: packet.WayValidated}})
		}
	case *packet.NoOp:
	default:
		logger.Debug("connection packet ignored", logger.RemoteAddr(c.addr),
			logger.PacketType(p.Type().String()))
	}
}

func (c *Connection) sendConnectError(ctx context.Context, dest int32, msg string) {
	wctx, cancel := context.WithTimeout(ctx, c.eng.registry.Config().WaitForNetOp)
	defer cancel()
	reply := &packet.ConnectError{Header: msg, Middle: codes.ConnectionImpossible.String()}
	if err := c.Send(wctx, packet.Frame{Dest: dest, Packet: reply}); err != nil {
		logger.Debug("connect error not sent", logger.Err(err))
	}
}

// =============================================================================
// Ordered path
// =============================================================================

func (c *Connection) dispatch(ctx context.Context) {
	defer close(c.dispatchDone)
	for {
		f, ok := c.queue.pop()
		if !ok {
			return
		}
		c.process(ctx, f)
	}
}

func (c *Connection) process(ctx context.Context, f packet.Frame) {
	defer c.handleFramePanic(f)

	s, ok := c.eng.registry.Get(f.Dest)
	if !ok {
		logger.Debug("frame for unknown session dropped", logger.RemoteAddr(c.addr),
			logger.LocalID(f.Dest), logger.PacketType(f.Packet.Type().String()))
		return
	}
	s.SetRemoteID(f.Src)
	c.eng.handler.Dispatch(ctx, s, f.Packet)
}

// =============================================================================
// session.Endpoint
// =============================================================================

func (c *Connection) OpenEndpoint() bool { return c.slots.TryAcquire(1) }
func (c *Connection) ReleaseEndpoint()  { c.slots.Release(1) }

// Send writes f to the peer. The frame goes out in a single write.
func (c *Connection) Send(ctx context.Context, f packet.Frame) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	n := packet.FrameSize(f.Packet)
	if err := throttle(ctx, c.eng.writeLimiter, n); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.eng.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	written, err := packet.WriteFrame(c.conn, f)
	if err != nil {
		logger.Debug("Error writing frame", logger.RemoteAddr(c.addr),
			logger.PacketType(f.Packet.Type().String()), logger.Err(err))
		go c.Close()
		return fmt.Errorf("write %s: %w", f.Packet.Type(), err)
	}
	c.recordPacket(f.Packet, metrics.DirectionOut, written)
	return nil
}

// Inject queues f on the ordered path as if it had been read.
func (c *Connection) Inject(f packet.Frame) bool { return c.queue.push(f) }

func (c *Connection) RemoteAddr() string   { return c.addr }
func (c *Connection) IsTLS() bool          { return c.tls }
func (c *Connection) IsShuttingDown() bool { return c.shuttingDown.Load() }

func (c *Connection) SetHostID(hostID string) {
	c.hostMu.Lock()
	c.hostID = hostID
	c.hostMu.Unlock()
}

func (c *Connection) HostID() string {
	c.hostMu.RLock()
	defer c.hostMu.RUnlock()
	return c.hostID
}

// ShutdownBlacklist refuses the peer address for the blacklist duration and
// closes the connection once pending answers had a chance to leave.
func (c *Connection) ShutdownBlacklist() {
	if c.eng.blacklist != nil {
		c.eng.blacklist(c.addr)
	}
	c.shuttingDown.Store(true)
	time.AfterFunc(c.eng.registry.Config().WaitForNetOp, func() { _ = c.Close() })
}

// Close closes the socket and stops the ordered path once queued frames are
// processed. It is idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.shuttingDown.Store(true)
		close(c.closed)
		c.queue.close()
		err = c.conn.Close()
	})
	return err
}

// Done is closed once Close was called.
func (c *Connection) Done() <-chan struct{} { return c.closed }

func (c *Connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// =============================================================================
// Keepalive
// =============================================================================

// keepAlive probes a silent peer and closes the connection when the probe
// goes unanswered for another interval.
func (c *Connection) keepAlive(ctx context.Context) {
	interval := c.eng.cfg.KeepAliveInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
		}
		idle := time.Since(time.Unix(0, c.lastRead.Load()))
		switch {
		case idle >= 2*interval:
			logger.Info("Connection idle, closing", logger.RemoteAddr(c.addr), "idle", idle)
			_ = c.Close()
			return
		case idle >= interval:
			if err := c.Send(ctx, packet.Frame{Packet: &packet.KeepAlive{Way: packet.WayToValidate}}); err != nil {
				return
			}
		}
	}
}

// =============================================================================
// Teardown
// =============================================================================

// handleConnectionClose recovers from a panic in the read loop, drains the
// ordered path and closes every session left on the connection.
func (c *Connection) handleConnectionClose(ctx context.Context) {
	if r := recover(); r != nil {
		logger.Error("Panic in connection handler",
			logger.RemoteAddr(c.addr),
			"error", r,
			"stack", string(debug.Stack()))
	}

	_ = c.Close()
	<-c.dispatchDone

	ctx = context.WithoutCancel(ctx)
	sessions := c.eng.registry.ForConnection(c)
	for _, s := range sessions {
		c.eng.handler.ChannelClosed(s.Context(ctx), s)
		s.Close()
	}
	if len(sessions) > 0 {
		logger.Debug("sessions closed with connection", logger.RemoteAddr(c.addr), logger.KeySessions, len(sessions))
	}
}

// handleFramePanic keeps a panicking frame from taking the connection down.
// The target session, if any, fails with Internal and is closed.
func (c *Connection) handleFramePanic(f packet.Frame) {
	r := recover()
	if r == nil {
		return
	}
	logger.Error("Panic in packet handler",
		logger.RemoteAddr(c.addr),
		logger.LocalID(f.Dest),
		logger.PacketType(f.Packet.Type().String()),
		"error", r,
		"stack", string(debug.Stack()))

	s, ok := c.eng.registry.Get(f.Dest)
	if !ok {
		return
	}
	s.InvalidateRequest(session.Result{
		Code:       codes.Internal,
		Err:        fmt.Errorf("packet handler panic: %v", r),
		Answered:   true,
		Descriptor: s.Descriptor(),
	})
	_ = c.Send(context.Background(), packet.Frame{Dest: s.RemoteID(), Src: s.LocalID(),
		Packet: packet.NewError("Internal error", codes.RemoteError, packet.ErrorForwardClose)})
	s.Close()
}

func (c *Connection) recordPacket(p packet.Packet, direction string, n int) {
	if c.eng.metrics == nil {
		return
	}
	c.eng.metrics.RecordPacket(p.Type().String(), direction)
	c.eng.metrics.RecordBytes(direction, n)
}
