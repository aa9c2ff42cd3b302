package handlers

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/marmos91/dittomft/internal/adapter/mft/session"
	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/digest"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
	"github.com/marmos91/dittomft/internal/telemetry"
	"github.com/marmos91/dittomft/pkg/bufpool"
	"github.com/marmos91/dittomft/pkg/transfer"
)

// pump streams the blocks of a sending transfer. It runs on its own
// goroutine, off the connection's ordered path.
type pump struct {
	stopped atomic.Bool
}

func (p *pump) Stop() { p.stopped.Store(true) }

var errPumpStopped = errors.New("data pump stopped")

// startPump starts the data pump of a sending session. A pump that cannot
// be scheduled fails the transfer at once.
func (h *Handler) startPump(ctx context.Context, s *session.Session) {
	if h.registry.IsShuttingDown() || s.IsClosed() {
		h.notStartPump(ctx, s)
		return
	}
	p := &pump{}
	s.SetPump(p)
	ctx = context.WithoutCancel(ctx)
	h.pumps.Add(1)
	go func() {
		defer h.pumps.Done()
		h.runPump(ctx, s, p)
	}()
}

func (h *Handler) runPump(ctx context.Context, s *session.Session, p *pump) {
	d := snapshot(s)
	if d == nil {
		return
	}
	ctx, span := telemetry.StartTransferSpan(ctx, d.SpecialID, d.Rule, true,
		telemetry.Rank(d.Rank), telemetry.BlockSize(d.BlockSize))
	defer span.End()

	var hash string
	if d.LastGlobalStep != transfer.StepPost {
		var err error
		hash, err = h.sendBlocks(ctx, s, p, d)
		if err != nil {
			if errors.Is(err, errPumpStopped) || p.stopped.Load() {
				logger.DebugCtx(ctx, "data pump interrupted")
				return
			}
			telemetry.RecordError(ctx, err)
			h.pumpFailed(ctx, s, err)
			return
		}
	}

	s.SetStatus(session.StateEndTransfer, session.RoleValidating)
	et := &packet.EndTransfer{Request: packet.TypeRequest, Way: packet.WayToValidate, Optional: hash}
	if err := h.send(ctx, s, et); err != nil {
		h.pumpFailed(ctx, s, wrapError(KindNetwork, codes.Disconnection, "cannot send end of transfer", err))
		return
	}

	sig := s.EndTransferSignal()
	if _, err := sig.Await(ctx); err != nil || !sig.IsSuccess() {
		r := sig.Result()
		if !r.Answered && !s.IsClosed() {
			msg := "End of transfer in error"
			if r.Err != nil {
				msg = r.Err.Error()
			}
			h.sendError(ctx, s, msg, r.Code)
		}
		s.InvalidateRequest(session.Result{Code: codes.TransferError, Err: r.Err, Answered: true,
			Descriptor: s.Descriptor()})
		return
	}

	if err := h.send(ctx, s, packet.NewEndRequest(codes.CompleteOk, s.Business().Info(s))); err != nil {
		logger.DebugCtx(ctx, "end request not sent", logger.Err(err))
	}
	if !s.RequestSignal().AwaitTimeout(h.cfg.RequestTimeout) {
		logger.InfoCtx(ctx, "end request not acknowledged in time")
		h.tryFinalizeRequest(ctx, s, session.Result{Code: codes.TransferOk, Answered: true,
			Descriptor: s.Descriptor()})
	}
}

// sendBlocks reads the file from the descriptor's rank and sends every block.
// It returns the hex global digest when enabled.
func (h *Handler) sendBlocks(ctx context.Context, s *session.Session, p *pump, d *transfer.Descriptor) (string, error) {
	f := s.File()
	if f == nil {
		return "", newError(KindInternal, codes.Internal, "no file bound")
	}
	bs := int(d.BlockSize)
	if bs <= 0 {
		bs = int(h.cfg.DefaultBlockSize)
	}
	var acc *digest.Accumulator
	if h.cfg.GlobalDigest {
		acc = digest.NewAccumulator(h.cfg.DigestAlgo, h.cfg.DigestAlgo, d.Rank > 0)
	}
	withKey := d.Mode.IsMD5()
	s.SetStatus(session.StateData, session.RoleNone)

	buf := bufpool.Get(bs)
	defer bufpool.Put(buf)
	for {
		if p.stopped.Load() || s.IsClosed() {
			return "", errPumpStopped
		}
		n, err := f.ReadBlock(buf[:bs])
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", wrapError(KindRunner, codes.TransferError, "cannot read file", err)
		}
		block := buf[:n]
		if acc != nil {
			acc.Write(block)
		}

		var (
			rank       int32
			checkpoint bool
		)
		s.WithDescriptor(func(d *transfer.Descriptor) {
			rank = d.Rank
			checkpoint = d.IncrementRank()
		})
		if err := s.Send(ctx, packet.NewData(rank, block, h.cfg.DigestAlgo, withKey)); err != nil {
			return "", wrapError(KindNetwork, codes.Disconnection, "cannot send block", err)
		}
		if checkpoint {
			_ = h.save(ctx, s)
		}
	}
	_ = h.save(ctx, s)
	if acc == nil {
		return "", nil
	}
	return acc.PeerHex(), nil
}

// pumpFailed aborts a sending transfer from the pump goroutine.
func (h *Handler) pumpFailed(ctx context.Context, s *session.Session, err error) {
	perr := asError(err)
	logger.WarnCtx(ctx, "transfer in error", logger.Err(err))
	code := perr.ErrorCode()
	answered := perr.Kind == KindNetwork
	if !answered {
		h.sendError(ctx, s, "Transfer in error", codes.TransferError)
		code = codes.TransferError
	}
	s.SetStatus(session.StateError, session.RoleNone)
	r := session.Result{Code: code, Err: perr, Answered: true, Descriptor: s.Descriptor()}
	_ = h.setFinalizeTransfer(ctx, s, false, r)
	s.InvalidateRequest(r)
	h.closeSession(ctx, s)
}

// notStartPump fails a sending transfer whose pump could not be scheduled.
func (h *Handler) notStartPump(ctx context.Context, s *session.Session) {
	err := newError(KindRunner, codes.TransferError, "Data pump cannot be started")
	logger.InfoCtx(ctx, "data pump not started", logger.Err(err))
	s.SetStatus(session.StateError, session.RoleNone)
	h.sendError(ctx, s, err.Error(), codes.TransferError)
	r := session.Result{Code: codes.TransferError, Err: err, Answered: true, Descriptor: s.Descriptor()}
	_ = h.setFinalizeTransfer(ctx, s, false, r)
	s.InvalidateRequest(r)
	h.closeSession(ctx, s)
}
