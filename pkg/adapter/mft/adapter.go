package mft

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/multierr"

	"github.com/marmos91/dittomft/internal/adapter/mft/handlers"
	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/pkg/adapter"
	"github.com/marmos91/dittomft/pkg/metrics"
)

// Adapter is the MFT server: it accepts partner connections and runs their
// sessions through the engine.
//
// Addresses whose partner failed authentication are refused at accept for
// BlacklistDuration.
type Adapter struct {
	*adapter.BaseAdapter

	eng       *engine
	blacklist *expirable.LRU[string, struct{}]
}

var (
	_ adapter.Adapter           = (*Adapter)(nil)
	_ adapter.ConnectionFactory = (*Adapter)(nil)
)

// New creates a stopped server adapter around h. m may be nil.
func New(cfg Config, h *handlers.Handler, m metrics.MFTMetrics) (*Adapter, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	a := &Adapter{
		BaseAdapter: adapter.NewBaseAdapter(cfg.BaseConfig, "MFT"),
		eng:         newEngine(cfg, h, m),
		blacklist:   expirable.NewLRU[string, struct{}](cfg.BlacklistSize, nil, cfg.BlacklistDuration),
	}
	a.eng.blacklist = a.addToBlacklist
	if m != nil {
		a.Metrics = m
		h.Registry().SetObserver(m)
	}
	return a, nil
}

// Serve listens and serves connections until ctx is cancelled.
func (a *Adapter) Serve(ctx context.Context) error {
	return a.ServeWithFactory(ctx, a, a.allowed, nil)
}

// NewConnection wraps an accepted socket.
func (a *Adapter) NewConnection(conn net.Conn) adapter.ConnectionHandler {
	return newConnection(a.eng, conn)
}

// Stop interrupts every session, waits for running data pumps and drains
// the connections.
func (a *Adapter) Stop(ctx context.Context) error {
	a.eng.registry.ShutdownAll(ctx)
	return multierr.Combine(a.BaseAdapter.Stop(ctx), a.waitPumps(ctx))
}

func (a *Adapter) waitPumps(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.eng.handler.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("data pumps still running: %w", ctx.Err())
	}
}

// MapError extracts the result code carried by an engine error.
func (a *Adapter) MapError(err error) adapter.ProtocolError {
	var perr *handlers.Error
	if errors.As(err, &perr) {
		return perr
	}
	return nil
}

// Blacklisted reports whether addr is currently refused.
func (a *Adapter) Blacklisted(addr string) bool {
	return a.blacklist.Contains(hostOf(addr))
}

func (a *Adapter) addToBlacklist(addr string) {
	host := hostOf(addr)
	a.blacklist.Add(host, struct{}{})
	logger.Warn("address blacklisted", logger.RemoteAddr(host), "duration", a.eng.cfg.BlacklistDuration)
}

func (a *Adapter) allowed(conn net.Conn) bool {
	addr := conn.RemoteAddr().String()
	if a.Blacklisted(addr) {
		logger.Debug("blacklisted address refused", logger.RemoteAddr(addr))
		return false
	}
	return true
}

func hostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
