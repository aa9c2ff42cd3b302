package adapter

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/marmos91/dittomft/internal/logger"
)

// ConnectionHandler serves one accepted connection until it closes or ctx
// is cancelled.
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// ConnectionFactory wraps accepted sockets into handlers.
type ConnectionFactory interface {
	NewConnection(conn net.Conn) ConnectionHandler
}

// BaseConfig holds the listener settings shared by adapters.
type BaseConfig struct {
	// BindAddress is the IP address to bind to. Empty binds every interface.
	BindAddress string

	Port int

	// MaxConnections limits concurrent connections. 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout bounds the wait for active connections on shutdown.
	ShutdownTimeout time.Duration

	// MetricsLogInterval is how often the connection count is logged. 0
	// disables it.
	MetricsLogInterval time.Duration

	// TLS, when set, wraps the listener.
	TLS *tls.Config
}

// MetricsRecorder records connection lifecycle metrics.
type MetricsRecorder interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)
}

// OnConnectionClose runs when a connection's goroutine returns, before its
// slot is released.
type OnConnectionClose func(addr string)

// BaseAdapter runs a TCP accept loop with a connection limit, tracks the
// connections it hands out and drains them on shutdown. Connections still
// open after the drain timeout are closed.
type BaseAdapter struct {
	Config BaseConfig

	// Metrics is optional.
	Metrics MetricsRecorder

	protocol string
	slots    *semaphore.Weighted

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup

	ready    chan struct{}
	stopping chan struct{}
	stopOnce sync.Once

	// connCtx is handed to every connection and cancelled on shutdown.
	connCtx     context.Context
	cancelConns context.CancelFunc
}

// NewBaseAdapter creates a stopped adapter named protocol.
func NewBaseAdapter(cfg BaseConfig, protocol string) *BaseAdapter {
	b := &BaseAdapter{
		Config:   cfg,
		protocol: protocol,
		conns:    make(map[net.Conn]struct{}),
		ready:    make(chan struct{}),
		stopping: make(chan struct{}),
	}
	if cfg.MaxConnections > 0 {
		b.slots = semaphore.NewWeighted(int64(cfg.MaxConnections))
	}
	b.connCtx, b.cancelConns = context.WithCancel(context.Background())
	logger.Debug(protocol+" connection limit", "max_connections", cfg.MaxConnections)
	return b
}

// ServeWithFactory listens and hands every accepted socket to factory until
// ctx is cancelled or Stop is called, then drains.
//
// admit, when set, may refuse a socket right after accept; it is closed
// untracked. onClose, when set, runs as each connection goroutine exits.
func (b *BaseAdapter) ServeWithFactory(ctx context.Context, factory ConnectionFactory,
	admit func(net.Conn) bool, onClose OnConnectionClose) error {
	ln, err := b.listen()
	if err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			logger.Info(b.protocol+" shutdown signal received", logger.KeyError, ctx.Err())
			b.stopAccepting()
		case <-b.stopping:
		}
	}()
	if b.Config.MetricsLogInterval > 0 {
		go b.logMetrics()
	}

	for {
		if b.slots != nil {
			if err := b.slots.Acquire(b.connCtx, 1); err != nil {
				return b.drain(b.Config.ShutdownTimeout)
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			b.release()
			if b.isStopping() {
				return b.drain(b.Config.ShutdownTimeout)
			}
			logger.Debug("Error accepting "+b.protocol+" connection", logger.KeyError, err)
			continue
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		if admit != nil && !admit(conn) {
			_ = conn.Close()
			b.release()
			continue
		}

		b.serve(factory.NewConnection(conn), conn, onClose)
	}
}

func (b *BaseAdapter) listen() (net.Listener, error) {
	addr := net.JoinHostPort(b.Config.BindAddress, strconv.Itoa(b.Config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s listener on %s: %w", b.protocol, addr, err)
	}
	if b.Config.TLS != nil {
		ln = tls.NewListener(ln, b.Config.TLS)
	}

	b.mu.Lock()
	b.ln = ln
	b.mu.Unlock()
	close(b.ready)

	logger.Info(b.protocol+" server listening", "address", ln.Addr().String(),
		logger.KeyTLS, b.Config.TLS != nil)
	return ln, nil
}

func (b *BaseAdapter) serve(h ConnectionHandler, conn net.Conn, onClose OnConnectionClose) {
	addr := conn.RemoteAddr().String()

	b.mu.Lock()
	b.conns[conn] = struct{}{}
	active := int32(len(b.conns))
	b.mu.Unlock()
	b.wg.Add(1)

	if b.Metrics != nil {
		b.Metrics.RecordConnectionAccepted()
		b.Metrics.SetActiveConnections(active)
	}
	logger.Debug(b.protocol+" connection accepted", logger.RemoteAddr(addr), "active", active)

	go func() {
		defer func() {
			if onClose != nil {
				onClose(addr)
			}
			b.mu.Lock()
			delete(b.conns, conn)
			active := int32(len(b.conns))
			b.mu.Unlock()
			b.release()
			b.wg.Done()

			if b.Metrics != nil {
				b.Metrics.RecordConnectionClosed()
				b.Metrics.SetActiveConnections(active)
			}
			logger.Debug(b.protocol+" connection closed", logger.RemoteAddr(addr), "active", active)
		}()
		h.Serve(b.connCtx)
	}()
}

func (b *BaseAdapter) release() {
	if b.slots != nil {
		b.slots.Release(1)
	}
}

func (b *BaseAdapter) isStopping() bool {
	select {
	case <-b.stopping:
		return true
	default:
		return false
	}
}

// stopAccepting closes the listener, cancels the connection context and
// unblocks pending reads. Idempotent.
func (b *BaseAdapter) stopAccepting() {
	b.stopOnce.Do(func() {
		close(b.stopping)
		b.cancelConns()

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.ln != nil {
			_ = b.ln.Close()
		}
		deadline := time.Now().Add(100 * time.Millisecond)
		for conn := range b.conns {
			_ = conn.SetReadDeadline(deadline)
		}
	})
}

func (b *BaseAdapter) drained() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	return done
}

// drain waits up to timeout for the connections to close, then forces them.
func (b *BaseAdapter) drain(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logger.Info(b.protocol+" draining connections", "active", b.ActiveConnections(), "timeout", timeout)
	if err := b.waitDrained(ctx); err != nil {
		return fmt.Errorf("%s shutdown timeout: %w", b.protocol, err)
	}
	return nil
}

func (b *BaseAdapter) waitDrained(ctx context.Context) error {
	select {
	case <-b.drained():
		logger.Info(b.protocol + " shutdown complete")
		return nil
	case <-ctx.Done():
		n := b.forceClose()
		logger.Warn(b.protocol+" connections force-closed", "count", n, logger.KeyError, ctx.Err())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%d connections force-closed", n)
		}
		return ctx.Err()
	}
}

func (b *BaseAdapter) forceClose() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for conn := range b.conns {
		if err := conn.Close(); err != nil {
			continue
		}
		n++
		if b.Metrics != nil {
			b.Metrics.RecordConnectionForceClosed()
		}
	}
	return n
}

// Stop stops accepting and waits for the connections until ctx is done. A
// nil ctx waits up to ShutdownTimeout.
func (b *BaseAdapter) Stop(ctx context.Context) error {
	b.stopAccepting()
	if ctx == nil {
		return b.drain(b.Config.ShutdownTimeout)
	}
	return b.waitDrained(ctx)
}

func (b *BaseAdapter) logMetrics() {
	ticker := time.NewTicker(b.Config.MetricsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopping:
			return
		case <-ticker.C:
			logger.Info(b.protocol+" metrics", "active_connections", b.ActiveConnections())
		}
	}
}

// ActiveConnections returns the number of open connections.
func (b *BaseAdapter) ActiveConnections() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int32(len(b.conns))
}

// Addr blocks until the listener is up and returns its address.
func (b *BaseAdapter) Addr() string {
	<-b.ready
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ln.Addr().String()
}

// Port returns the configured TCP port.
func (b *BaseAdapter) Port() int { return b.Config.Port }

// Protocol returns the adapter name used in logs.
func (b *BaseAdapter) Protocol() string { return b.protocol }

// MapError maps nothing; adapters with coded errors override it.
func (b *BaseAdapter) MapError(error) ProtocolError { return nil }
