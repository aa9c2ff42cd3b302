package mft

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"

	"github.com/marmos91/dittomft/internal/adapter/mft/handlers"
	"github.com/marmos91/dittomft/internal/adapter/mft/session"
	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
	"github.com/marmos91/dittomft/pkg/metrics"
	"github.com/marmos91/dittomft/pkg/transfer"
)

// Client opens sessions towards partners and submits transfers on them.
// One connection per partner is kept and shared by its sessions.
type Client struct {
	eng *engine

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[string]*Connection

	wg sync.WaitGroup
}

// TransferRequest describes a transfer this host asks a partner for.
type TransferRequest struct {
	Partner  string
	Rule     string
	Filename string
	Info     string

	// BlockSize 0 selects the engine default.
	BlockSize int32

	// SpecialID resumes an existing transfer when set.
	SpecialID int64
}

// NewClient creates a client around h. m may be nil.
func NewClient(cfg Config, h *handlers.Handler, m metrics.MFTMetrics) *Client {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		eng:    newEngine(cfg, h, m),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*Connection),
	}
}

// Connect returns the live connection to partner, dialing it when needed.
func (c *Client) Connect(ctx context.Context, partner *transfer.Host) (*Connection, error) {
	c.mu.Lock()
	if conn, ok := c.conns[partner.HostID]; ok && !conn.isClosed() {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	nc, err := c.dial(ctx, partner)
	if err != nil {
		return nil, err
	}
	conn := newConnection(c.eng, nc)

	c.mu.Lock()
	if existing, ok := c.conns[partner.HostID]; ok && !existing.isClosed() {
		c.mu.Unlock()
		_ = nc.Close()
		return existing, nil
	}
	c.conns[partner.HostID] = conn
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		conn.Serve(c.ctx)
		c.mu.Lock()
		if c.conns[partner.HostID] == conn {
			delete(c.conns, partner.HostID)
		}
		c.mu.Unlock()
	}()
	return conn, nil
}

func (c *Client) dial(ctx context.Context, partner *transfer.Host) (net.Conn, error) {
	addr := partner.HostPort()
	dialer := &net.Dialer{Timeout: c.eng.handler.Config().ConnectTimeout}

	var nc net.Conn
	attempt := 0
	op := func() error {
		attempt++
		var err error
		if partner.TLS {
			cfg := &tls.Config{MinVersion: tls.VersionTLS12}
			if c.eng.cfg.ClientTLS != nil {
				cfg = c.eng.cfg.ClientTLS.Clone()
			}
			if cfg.ServerName == "" {
				cfg.ServerName = partner.Address
			}
			td := &tls.Dialer{NetDialer: dialer, Config: cfg}
			nc, err = td.DialContext(ctx, "tcp", addr)
		} else {
			nc, err = dialer.DialContext(ctx, "tcp", addr)
		}
		if err != nil {
			logger.Debug("dial failed", logger.HostID(partner.HostID), logger.RemoteAddr(addr),
				logger.KeyAttempt, attempt, logger.Err(err))
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.eng.cfg.ConnectRetryDelay), uint64(c.eng.cfg.ConnectRetries)),
		ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, &session.NoConnectionError{Addr: addr, Attempts: attempt}
	}
	return nc, nil
}

// Open opens a session towards partner and authenticates this host on it.
func (c *Client) Open(ctx context.Context, partner *transfer.Host) (*session.Session, error) {
	conn, err := c.Connect(ctx, partner)
	if err != nil {
		return nil, err
	}
	s, err := c.eng.registry.CreateSession(ctx, conn, 0, nil)
	if err != nil {
		return nil, err
	}

	timeout := c.eng.handler.Config().ConnectTimeout
	if !s.StartupSignal().AwaitTimeout(timeout) || !s.StartupSignal().IsSuccess() {
		c.closeSession(ctx, s)
		return nil, fmt.Errorf("session towards %s not started", partner.HostID)
	}

	cfg := c.eng.handler.Config()
	auth := &packet.Authent{
		HostID:  cfg.HostID,
		Key:     cfg.HostKey,
		LocalID: s.LocalID(),
		Way:     packet.WayToValidate,
		Version: packet.Version,
	}
	s.SetStatus(session.StateAuthent, session.RoleValidating)
	if err := s.Send(ctx, auth); err != nil {
		c.closeSession(ctx, s)
		return nil, fmt.Errorf("send authentication to %s: %w", partner.HostID, err)
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sig := s.ConnectionSignal()
	if _, err := sig.Await(actx); err != nil || !sig.IsSuccess() {
		if err == nil {
			err = sig.Err()
		}
		c.closeSession(ctx, s)
		return nil, fmt.Errorf("authentication with %s failed: %w", partner.HostID, err)
	}
	logger.Debug("session authenticated", logger.HostID(partner.HostID), logger.LocalID(s.LocalID()))
	return s, nil
}

// Transfer runs req to completion and returns its result. The returned error
// is non-nil when the transfer did not succeed; the result then carries the
// failure code.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (session.Result, error) {
	h := c.eng.handler

	partner, err := h.Store().GetHost(ctx, req.Partner)
	if err != nil {
		return session.Result{Code: codes.QueryRemotelyUnknown, Err: err}, fmt.Errorf("load partner %s: %w", req.Partner, err)
	}
	rule, err := h.Rules().Get(req.Rule)
	if err != nil {
		return session.Result{Code: codes.QueryRemotelyUnknown, Err: err}, fmt.Errorf("load rule %s: %w", req.Rule, err)
	}

	d, err := c.descriptor(ctx, req, rule)
	if err != nil {
		return session.Result{Code: codes.QueryAlreadyFinished, Err: err}, err
	}

	s, err := c.Open(ctx, partner)
	if err != nil {
		d.SetErrorExecutionStatus(codes.ConnectionImpossible)
		_ = h.SaveDescriptor(ctx, d)
		return session.Result{Code: codes.ConnectionImpossible, Err: err, Descriptor: d}, err
	}
	defer c.closeSession(ctx, s)

	if err := h.StartRequest(ctx, s, d, rule); err != nil {
		return session.Result{Code: codes.ConnectionImpossible, Err: err, Descriptor: d}, err
	}

	r, err := s.RequestSignal().Await(ctx)
	if err != nil {
		return session.Result{Code: codes.Disconnection, Err: err, Descriptor: s.Descriptor()}, err
	}
	if !s.RequestSignal().IsSuccess() {
		cause := s.RequestSignal().Err()
		if cause == nil {
			cause = &session.ResultError{Code: r.Code}
		}
		return r, cause
	}
	logger.Info("transfer done", logger.HostID(partner.HostID), logger.SpecialID(d.SpecialID),
		logger.Rule(rule.Name))
	return r, nil
}

// descriptor creates the transfer of req, or reloads it for a restart.
func (c *Client) descriptor(ctx context.Context, req TransferRequest, rule *transfer.Rule) (*transfer.Descriptor, error) {
	h := c.eng.handler
	cfg := h.Config()
	if req.SpecialID != 0 {
		d, err := h.Store().GetDescriptor(ctx, req.SpecialID, cfg.HostID, req.Partner)
		switch {
		case err == nil:
			if d.IsAllDone() {
				return nil, fmt.Errorf("transfer %d: %w", req.SpecialID, errAlreadyDone)
			}
			d.Restart(false, cfg.RankRestart)
			return d, nil
		case !errors.Is(err, transfer.ErrDescriptorNotFound):
			return nil, err
		}
	}
	p := packet.NewRequest(rule.Name, rule.Mode, req.Filename, req.BlockSize, cfg.DefaultBlockSize,
		0, req.SpecialID, req.Info, 0)
	return transfer.NewDescriptor(cfg.HostID, cfg.HostID, req.Partner, rule, rule.Mode.IsSend(), p), nil
}

var errAlreadyDone = errors.New("transfer already finished")

func (c *Client) closeSession(ctx context.Context, s *session.Session) {
	c.eng.handler.ChannelClosed(s.Context(context.WithoutCancel(ctx)), s)
	s.Close()
}

// Close interrupts the client's sessions and closes every connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conns := make([]*Connection, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	var err error
	for _, conn := range conns {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	c.cancel()
	c.wg.Wait()
	return err
}
