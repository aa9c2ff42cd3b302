// Package handlers implements the MFT protocol engine: the per-session state
// machine that authenticates partners, negotiates requests, accepts data
// blocks, verifies integrity and finalizes transfers, plus the sender-side
// data pump.
//
// Every packet of a session is processed on its connection's ordered path
// through Handler.Dispatch. Handlers never return errors to the connection:
// failures are classified and answered by exceptionCaught.
package handlers

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/marmos91/dittomft/internal/adapter/mft/session"
	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/digest"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
	"github.com/marmos91/dittomft/pkg/metrics"
	"github.com/marmos91/dittomft/pkg/transfer"
	"github.com/marmos91/dittomft/pkg/transfer/tasks"
)

// Config holds the engine settings.
type Config struct {
	// HostID and HostKey identify this host to partners.
	HostID  string
	HostKey []byte

	// AdminKey authorizes Shutdown and BlockRequest packets.
	AdminKey []byte

	// DefaultBlockSize replaces block sizes below packet.MinBlockSize.
	DefaultBlockSize int32
	// MaxBlockSize caps the block size a partner may ask for.
	MaxBlockSize int32

	// MaxRankMismatch bounds how many out-of-order data packets a receiver
	// tolerates before aborting.
	MaxRankMismatch int
	// RankRestart is how many blocks a self-requested receiver backs off on
	// restart. 0 resumes at the last acknowledged block.
	RankRestart int32

	// DigestAlgo is the locally preferred digest.
	DigestAlgo digest.Algorithm
	// GlobalDigest enables the whole-transfer digest.
	GlobalDigest bool
	// LocalDigest re-hashes a received file once it is in place.
	LocalDigest bool

	// CheckRemoteAddress verifies that a partner connects from one of the
	// addresses its host resolves to.
	CheckRemoteAddress bool
	// CheckClientAddress also verifies client-only partners that declare an
	// address.
	CheckClientAddress bool

	// TestEchoCount is how many times a Test packet bounces before it is
	// validated.
	TestEchoCount int32

	ConnectTimeout time.Duration
	// RequestTimeout bounds the sender's wait for the end of request.
	RequestTimeout time.Duration
	// CloseDelay is the grace period before a closed session's pump is
	// interrupted.
	CloseDelay time.Duration

	// SessionLimit is the local per-session bandwidth in bytes per second.
	SessionLimit int64

	// WorkPath, RecvPath and SendPath are the default directories when a
	// rule does not set its own.
	WorkPath string
	RecvPath string
	SendPath string
}

// DefaultConfig returns the stock engine settings.
func DefaultConfig() Config {
	return Config{
		DefaultBlockSize: 64 << 10,
		MaxBlockSize:     1 << 20,
		MaxRankMismatch:  3,
		DigestAlgo:       digest.Default,
		GlobalDigest:     true,
		TestEchoCount:    10,
		ConnectTimeout:   30 * time.Second,
		RequestTimeout:   30 * time.Second,
		CloseDelay:       400 * time.Millisecond,
		WorkPath:         "/work",
		RecvPath:         "/in",
		SendPath:         "/out",
	}
}

// Resolver resolves partner host names for address checks.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Handler is the protocol engine shared by every connection of a server or
// client.
type Handler struct {
	cfg      Config
	registry *session.Registry
	store    transfer.Store
	rules    *transfer.RuleSet
	fs       afero.Fs

	admin    Admin
	resolver Resolver
	metrics  metrics.MFTMetrics
	objects  tasks.ObjectStore

	shutdownMu sync.Mutex
	shutdownFn func()

	pumps sync.WaitGroup
}

// New creates the engine and registers it as the registry's finalizer.
func New(cfg Config, reg *session.Registry, store transfer.Store, rules *transfer.RuleSet, fs afero.Fs) *Handler {
	def := DefaultConfig()
	if cfg.DefaultBlockSize <= 0 {
		cfg.DefaultBlockSize = def.DefaultBlockSize
	}
	if cfg.MaxBlockSize <= 0 {
		cfg.MaxBlockSize = def.MaxBlockSize
	}
	if cfg.MaxRankMismatch <= 0 {
		cfg.MaxRankMismatch = def.MaxRankMismatch
	}
	if cfg.DigestAlgo == "" {
		cfg.DigestAlgo = def.DigestAlgo
	}
	if cfg.TestEchoCount <= 0 {
		cfg.TestEchoCount = def.TestEchoCount
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.CloseDelay <= 0 {
		cfg.CloseDelay = 2 * reg.Config().WaitForNetOp
	}
	if rules == nil {
		rules = transfer.NewRuleSet()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	h := &Handler{
		cfg:      cfg,
		registry: reg,
		store:    store,
		rules:    rules,
		fs:       fs,
		resolver: net.DefaultResolver,
	}
	h.admin = &DefaultAdmin{h: h}
	h.shutdownFn = func() {
		go reg.ShutdownAll(context.Background())
	}
	reg.SetFinalizer(h)
	return h
}

// SetAdmin replaces the administrative layer.
func (h *Handler) SetAdmin(a Admin) { h.admin = a }

// SetResolver replaces the resolver used for partner address checks.
func (h *Handler) SetResolver(r Resolver) { h.resolver = r }

// SetMetrics installs a metrics sink. nil disables collection.
func (h *Handler) SetMetrics(m metrics.MFTMetrics) { h.metrics = m }

// SetObjectStore installs the store used by the S3 tasks.
func (h *Handler) SetObjectStore(o tasks.ObjectStore) { h.objects = o }

// SetShutdownFunc replaces what a Shutdown order triggers. The default
// interrupts every session of the registry.
func (h *Handler) SetShutdownFunc(fn func()) {
	h.shutdownMu.Lock()
	h.shutdownFn = fn
	h.shutdownMu.Unlock()
}

func (h *Handler) Config() Config              { return h.cfg }
func (h *Handler) Registry() *session.Registry { return h.registry }
func (h *Handler) Store() transfer.Store       { return h.store }
func (h *Handler) Rules() *transfer.RuleSet    { return h.rules }
func (h *Handler) Fs() afero.Fs                { return h.fs }

// Wait blocks until every data pump started by the engine returned.
func (h *Handler) Wait() { h.pumps.Wait() }

func (h *Handler) triggerShutdown() {
	h.shutdownMu.Lock()
	fn := h.shutdownFn
	h.shutdownMu.Unlock()
	if fn != nil {
		logger.Warn("shutdown order received")
		fn()
	}
}

// =============================================================================
// Metrics helpers
// =============================================================================

func (h *Handler) recordTransfer(code string, start time.Time) {
	if h.metrics != nil {
		h.metrics.RecordTransfer(code, time.Since(start))
	}
}

func (h *Handler) recordRankResync() {
	if h.metrics != nil {
		h.metrics.RecordRankResync()
	}
}

func (h *Handler) recordDigestFailure() {
	if h.metrics != nil {
		h.metrics.RecordDigestFailure()
	}
}

// =============================================================================
// Send helpers
// =============================================================================

// send writes p to the session's peer. A failure is logged and returned;
// the caller's state machine decides what a lost packet means.
func (h *Handler) send(ctx context.Context, s *session.Session, p packet.Packet) error {
	if err := s.Send(ctx, p); err != nil {
		logger.DebugCtx(ctx, "packet not sent", logger.PacketType(p.Type().String()), logger.Err(err))
		return err
	}
	return nil
}

// sendError writes an Error packet that closes the peer session.
func (h *Handler) sendError(ctx context.Context, s *session.Session, msg string, code codes.ErrorCode) {
	_ = h.send(ctx, s, packet.NewError(msg, code, packet.ErrorForwardClose))
}
