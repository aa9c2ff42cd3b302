package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/marmos91/dittomft/internal/adapter/mft/session"
	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/digest"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
	"github.com/marmos91/dittomft/pkg/transfer"
	"github.com/marmos91/dittomft/pkg/transfer/tasks"
)

// ============================================================================
// Request negotiation
// ============================================================================

// request negotiates a transfer. On the validating side it loads or creates
// the descriptor, runs the pre tasks and answers the request; on the
// requesting side it adopts the partner's answer and starts the data phase.
func (h *Handler) request(ctx context.Context, s *session.Session, p *packet.Request) error {
	if !s.IsAuthenticated() {
		return newError(KindNotAuthenticated, codes.BadAuthent, "Not authenticated while Request received")
	}
	if p.ToValidate() {
		s.SetStatus(session.StateRequest, session.RoleValidating)
	}
	if done := h.checkRequest(ctx, s, p); done {
		return nil
	}

	rule, err := h.rules.Get(p.Rule)
	if err != nil {
		h.endInitRequestInError(ctx, s, p, codes.QueryRemotelyUnknown,
			wrapError(KindBusiness, codes.QueryRemotelyUnknown, "Rule unknown", err))
		return nil
	}
	if p.ToValidate() {
		if !rule.IsHostAllowed(s.HostID()) {
			return wrapError(KindBusiness, codes.BadAuthent, "Rule "+rule.Name+" not allowed for "+s.HostID(),
				transfer.ErrHostNotAllowed)
		}
		if p.BlockSize > h.cfg.MaxBlockSize {
			p.BlockSize = h.cfg.MaxBlockSize
		}
		if p.BlockSize < packet.MinBlockSize {
			p.BlockSize = h.cfg.DefaultBlockSize
		}
		if !packet.IsCompatible(rule.Mode, p.Mode) {
			return wrapError(KindBusiness, codes.IncorrectCommand,
				"Mode "+p.Mode.String()+" incompatible with rule "+rule.Name, transfer.ErrModeIncompatible)
		}
	}

	var d *transfer.Descriptor
	if p.ToValidate() {
		var handled bool
		d, handled = h.loadRequested(ctx, s, p, rule)
		if handled {
			return nil
		}
	} else {
		d = s.Descriptor()
		if d == nil {
			return newError(KindInternal, codes.Internal, "Request answer without local transfer")
		}
		s.WithDescriptor(func(d *transfer.Descriptor) {
			if !d.IsSender {
				d.OriginalFilename = p.Filename
				if d.Rank == 0 {
					d.Filename = p.Filename
				}
			}
		})
	}
	s.SetDescriptor(d)

	if code := p.ErrorCode(); code != codes.InitOk && code != codes.Unknown {
		s.WithDescriptor(func(d *transfer.Descriptor) { d.SetErrorExecutionStatus(code) })
		_ = h.save(ctx, s)
		s.SetStatus(session.StateError, session.RoleNone)
		return h.errorMesg(ctx, s, packet.NewError(code.Message(), code, packet.ErrorForwardClose))
	}

	s.WithDescriptor(func(d *transfer.Descriptor) {
		if d.IsSender {
			d.SetRankAtStartup(p.Rank)
		} else {
			if p.Rank < d.Rank {
				d.Rank = p.Rank
			}
			if p.OriginalSize > 0 {
				d.OriginalSize = p.OriginalSize
			}
		}
		d.BlockSize = p.BlockSize
	})
	s.SetRule(rule)
	_ = h.save(ctx, s)

	if lc := logger.FromContext(ctx); lc != nil {
		ctx = logger.WithContext(ctx, lc.WithTransfer(d.SpecialID, rule.Name))
	}
	before := snapshot(s)
	if err := h.startup(ctx, s, rule); err != nil {
		_ = h.save(ctx, s)
		perr := asError(err)
		code := perr.ErrorCode()
		msg := "PreTask in error: " + perr.Error()
		logger.WarnCtx(ctx, "pre tasks failed", logger.Err(err))
		s.SetStatus(session.StateError, session.RoleNone)
		h.sendError(ctx, s, msg, code)
		_ = h.setFinalizeTransfer(ctx, s, false, session.Result{Code: code, Err: perr, Answered: true, Descriptor: s.Descriptor()})
		h.closeSession(ctx, s)
		return nil
	}
	after := snapshot(s)

	shouldInformBack := (after.IsSender && after.OriginalSize != p.OriginalSize && !after.IsSendThrough()) ||
		after.TransferInfo != after.FileInfo
	if after.IsSender {
		p.OriginalSize = after.OriginalSize
	}

	if !p.ToValidate() && after.IsSender && after.Rank == 0 {
		renamed := after.FileMoved || after.Filename != before.Filename
		if renamed || after.IsSelfRequest() || shouldInformBack {
			if err := h.sendChangeRequest(ctx, s, after); err != nil {
				return wrapError(KindNetwork, codes.Disconnection, "cannot send file change", err)
			}
		}
	}

	if other, ok := h.registry.BindTransferKey(after, s); !ok {
		logger.WarnCtx(ctx, "transfer already bound to another session", logger.LocalID(other.LocalID()))
	}

	local := h.cfg.SessionLimit
	switch remote := p.Limit; {
	case local <= 0:
		local = remote
	case remote > 0 && remote < local:
		local = remote
	}
	s.SetLimit(local)
	p.Limit = local

	if p.ToValidate() {
		if after.IsSender {
			p.Filename = after.OriginalFilename
		}
		p.Rank = after.Rank
		p.SpecialID = after.SpecialID
		p.Validate()
		s.SetStatus(session.StateRequest, session.RoleAcknowledging)
		if err := h.send(ctx, s, p); err != nil {
			return wrapError(KindNetwork, codes.Disconnection, "cannot answer request", err)
		}
	} else {
		s.SetStatus(session.StateRequest, session.RoleAcknowledging)
		s.ValidRequestSignal().Succeed(session.NewResult(codes.InitOk, s.Descriptor()))
	}

	if after.IsSender {
		if after.IsSendThrough() {
			s.ValidateEndTransfer(session.NewResult(codes.PreProcessingOk, s.Descriptor()))
			return nil
		}
		h.startPump(ctx, s)
	}
	return nil
}

// checkRequest refuses requests while the host is overloaded. It reports
// whether the packet was fully handled.
func (h *Handler) checkRequest(ctx context.Context, s *session.Session, p *packet.Request) bool {
	if p.ToValidate() {
		if h.registry.IsShuttingDown() || h.registry.IsBlocked() || s.Conn().IsShuttingDown() {
			h.endInitRequestInError(ctx, s, p, codes.ServerOverloaded,
				newError(KindBusiness, codes.ServerOverloaded, "Server is overloaded or shutting down"))
			return true
		}
		return false
	}
	if p.ErrorCode() == codes.ServerOverloaded {
		logger.InfoCtx(ctx, "partner is overloaded")
		s.InvalidateRequest(session.Result{
			Code:       codes.ServerOverloaded,
			Err:        newError(KindBusiness, codes.ServerOverloaded, "Partner is overloaded"),
			Answered:   true,
			Descriptor: s.Descriptor(),
		})
		h.closeSession(ctx, s)
		return true
	}
	return false
}

// loadRequested loads or creates the requested side's descriptor. It reports
// true when the request was answered already.
func (h *Handler) loadRequested(ctx context.Context, s *session.Session, p *packet.Request, rule *transfer.Rule) (*transfer.Descriptor, bool) {
	requester, requested := s.HostID(), h.cfg.HostID
	isSender := p.Mode.IsRecv()

	d, err := h.store.GetDescriptor(ctx, p.SpecialID, requester, requested)
	switch {
	case errors.Is(err, transfer.ErrDescriptorNotFound):
		d = transfer.NewDescriptor(h.cfg.HostID, requester, requested, rule, isSender, p)
		if err := h.store.CreateDescriptor(ctx, d); err != nil {
			if !errors.Is(err, transfer.ErrDuplicateDescriptor) {
				h.endInitRequestInError(ctx, s, p, codes.QueryRemotelyUnknown,
					wrapError(KindInternal, codes.QueryRemotelyUnknown, "cannot create transfer", err))
				return nil, true
			}
			if d, err = h.store.GetDescriptor(ctx, d.SpecialID, requester, requested); err != nil {
				h.endInitRequestInError(ctx, s, p, codes.QueryRemotelyUnknown,
					wrapError(KindInternal, codes.QueryRemotelyUnknown, "cannot load transfer", err))
				return nil, true
			}
		}
	case err != nil:
		h.endInitRequestInError(ctx, s, p, codes.QueryRemotelyUnknown,
			wrapError(KindInternal, codes.QueryRemotelyUnknown, "cannot load transfer", err))
		return nil, true
	}
	d.IsSender = isSender
	d.SetThrough(true)

	if other, ok := h.registry.GetByTransferKey(d.Key()); ok && other != s {
		if d.IsAllDone() {
			logger.InfoCtx(ctx, "closing stale session of a finished transfer", logger.LocalID(other.LocalID()))
			h.tryFinalizeRequest(ctx, other, session.Result{Code: codes.QueryAlreadyFinished, Answered: true,
				Descriptor: other.Descriptor()})
			h.closeSession(ctx, other)
		} else {
			s.SetDescriptor(d)
			h.endInitRequestInError(ctx, s, p, codes.QueryStillRunning,
				newError(KindStillRunning, codes.QueryStillRunning, "Transfer still running on another session"))
			return nil, true
		}
	}
	if d.IsAllDone() {
		s.SetDescriptor(d)
		h.endInitRequestInError(ctx, s, p, codes.QueryAlreadyFinished,
			newError(KindAlreadyFinished, codes.QueryAlreadyFinished, "Transfer already finished"))
		return nil, true
	}
	if d.Restart(false, h.cfg.RankRestart) {
		_ = h.SaveDescriptor(ctx, d)
	}
	return d, false
}

// endInitRequestInError answers a request that cannot be accepted and closes
// the session.
func (h *Handler) endInitRequestInError(ctx context.Context, s *session.Session, p *packet.Request, code codes.ErrorCode, err error) {
	logger.InfoCtx(ctx, "request refused", logger.ErrorCode(byte(code)), logger.Err(err))
	s.InvalidateRequest(session.Result{Code: code, Err: err, Answered: true, Descriptor: s.Descriptor()})
	if p.ToValidate() {
		answer := p.Clone()
		answer.SetErrorCode(code)
		if d := snapshot(s); d != nil {
			answer.Rank = d.Rank
		}
		answer.Validate()
		_ = h.send(ctx, s, answer)
	} else {
		h.sendError(ctx, s, "TaskRunner initialisation in error: "+err.Error(), code)
	}
	s.SetStatus(session.StateError, session.RoleNone)
	h.closeSession(ctx, s)
}

// sendChangeRequest tells the receiver the name, size or information the
// sender ended up with after its pre tasks.
func (h *Handler) sendChangeRequest(ctx context.Context, s *session.Session, d *transfer.Descriptor) error {
	if s.PartnerVersion() != packet.LegacyVersion {
		jr, err := packet.NewJSONRequest(packet.TypeRequest, packet.ChangeRequest{
			Comment:  "Change Filename by Pre action on sender",
			Filename: d.Filename,
			Filesize: d.OriginalSize,
			FileInfo: d.FileInfo,
		})
		if err != nil {
			return err
		}
		return h.send(ctx, s, jr)
	}
	middle := d.Filename + packet.BarSeparator + strconv.FormatInt(d.OriginalSize, 10)
	if d.FileInfo != d.TransferInfo {
		middle += packet.BarSeparator + d.FileInfo
	}
	return h.send(ctx, s, &packet.Valid{
		Header:  "Change Filename by Pre action on sender",
		Middle:  middle,
		SubType: packet.TypeRequest,
	})
}

// ============================================================================
// Data
// ============================================================================

// data writes one block on the receiving side.
func (h *Handler) data(ctx context.Context, s *session.Session, p *packet.Data) error {
	if !s.IsAuthenticated() {
		return newError(KindNotAuthenticated, codes.BadAuthent, "Not authenticated while Data received")
	}
	d := s.Descriptor()
	if d == nil || !d.Ready() {
		return newError(KindBusiness, codes.IncorrectCommand, "No request prepared")
	}
	if d.IsSender {
		return newError(KindBusiness, codes.IncorrectCommand, "Not in receive MODE but receive a packet")
	}
	if !d.ContinueTransfer() {
		if et := s.EndTransferSignal(); et.IsDone() && !et.IsSuccess() {
			return nil
		}
		h.errorToSend(ctx, s, "Transfer in error due previously aborted transmission", codes.TransferError)
		return nil
	}

	if p.Rank != d.Rank {
		if !h.addError(s) {
			h.errorToSend(ctx, s, "Too much Bad Rank in transmission: "+strconv.Itoa(int(p.Rank)), codes.TransferError)
			return nil
		}
		if p.Rank > d.Rank {
			h.errorToSend(ctx, s, "Bad Rank in transmission: "+strconv.Itoa(int(p.Rank))+" > "+
				strconv.Itoa(int(d.Rank)), codes.TransferError)
			return nil
		}
		s.WithDescriptor(func(d *transfer.Descriptor) { d.SetRankAtStartup(p.Rank) })
		h.recordRankResync()
		logger.InfoCtx(ctx, "resynchronizing rank", logger.Rank(p.Rank))
		if f := s.File(); f != nil {
			if err := f.RestartMarker(int64(d.BlockSize) * int64(p.Rank)); err != nil {
				h.errorToSend(ctx, s, "Bad Rank in transmission even after retry: "+strconv.Itoa(int(p.Rank)),
					codes.TransferError)
				return nil
			}
		}
	}

	if d.OriginalSize >= 0 && int64(d.BlockSize)*int64(d.Rank-1) > d.OriginalSize {
		h.errorToSend(ctx, s, "Too much data transferred", codes.TransferError)
		return nil
	}

	partner := s.Partner()
	peerAlgo := h.cfg.DigestAlgo
	if partner != nil && partner.DigestAlgo != "" {
		if a, err := digest.Parse(partner.DigestAlgo); err == nil {
			peerAlgo = a
		}
	}
	if d.Mode.IsMD5() && !p.KeyValid(peerAlgo) {
		h.recordDigestFailure()
		h.errorToSend(ctx, s, "Transfer in error due to bad Hash on data packet ("+string(peerAlgo)+")", codes.MD5Error)
		return nil
	}
	if h.cfg.GlobalDigest {
		acc := s.Digest()
		if acc == nil {
			acc = digest.NewAccumulator(peerAlgo, h.cfg.DigestAlgo, d.Rank > 0)
			s.SetDigest(acc)
		}
		acc.Write(p.Data)
	}

	var werr error
	if rt := s.RecvThrough(); d.IsRecvThrough() && rt != nil {
		werr = rt.WriteBlock(p.Rank, p.Data)
	} else if f := s.File(); f != nil {
		werr = f.WriteBlock(p.Data)
	} else {
		werr = errors.New("no file bound")
	}
	if werr != nil {
		logger.WarnCtx(ctx, "cannot write block", logger.Rank(p.Rank), logger.Err(werr))
		h.errorToSend(ctx, s, "Transfer in error", codes.TransferError)
		return nil
	}

	var checkpoint bool
	s.WithDescriptor(func(d *transfer.Descriptor) { checkpoint = d.IncrementRank() })
	if checkpoint {
		_ = h.save(ctx, s)
	}
	if st := s.Status(); st.State != session.StateData || p.Rank%100 == 1 {
		s.SetStatus(session.StateData, session.RoleValidating)
	}
	return nil
}

// errorToSend aborts a receiving transfer and tells the sender.
func (h *Handler) errorToSend(ctx context.Context, s *session.Session, msg string, code codes.ErrorCode) {
	logger.WarnCtx(ctx, "receive aborted", logger.ErrorCode(byte(code)), logger.KeyError, msg)
	s.SetStatus(session.StateError, session.RoleNone)
	err := newError(KindRunner, code, msg)
	if ferr := h.setFinalizeTransfer(ctx, s, false, session.Result{Code: code, Err: err, Answered: true,
		Descriptor: s.Descriptor()}); ferr != nil {
		s.InvalidateRequest(session.Result{Code: code, Err: err, Answered: true, Descriptor: s.Descriptor()})
	}
	h.sendError(ctx, s, msg, code)
	h.closeSession(ctx, s)
}

// ============================================================================
// End of transfer
// ============================================================================

// endTransfer closes the data phase. The receiver validates the final size
// and the global digest, runs the post tasks and echoes the packet; the
// sender only records the acknowledgement.
func (h *Handler) endTransfer(ctx context.Context, s *session.Session, p *packet.EndTransfer) error {
	if !s.IsAuthenticated() {
		return newError(KindNotAuthenticated, codes.BadAuthent, "Not authenticated while EndTransfer received")
	}
	if s.Descriptor() == nil {
		return newError(KindBusiness, codes.IncorrectCommand, "No request prepared")
	}

	if !p.ToValidate() {
		s.SetStatus(session.StateEndTransfer, session.RoleAcknowledging)
		if !s.RequestSignal().IsDone() {
			if err := h.setFinalizeTransfer(ctx, s, true, session.NewResult(codes.TransferOk, s.Descriptor())); err != nil {
				return err
			}
		}
		return nil
	}

	d := snapshot(s)
	if d.OriginalSize > 0 && !d.IsSender {
		var length int64 = -1
		if f := s.File(); f != nil && !d.IsRecvThrough() {
			length, _ = f.Length()
		}
		if (!d.IsRecvThrough() && length != d.OriginalSize) || length == 0 {
			logger.WarnCtx(ctx, "final size mismatch", logger.Size(length), "expected", d.OriginalSize)
			err := newError(KindRunner, codes.TransferError, "Final size in error")
			_ = h.setFinalizeTransfer(ctx, s, false, session.Result{Code: codes.TransferError, Err: err,
				Answered: true, Descriptor: s.Descriptor()})
			h.sendError(ctx, s, "Final size in error, transfer in error and rank should be reset to 0", codes.TransferError)
			h.closeSession(ctx, s)
			return nil
		}
	}

	if acc := s.Digest(); acc != nil {
		if p.Optional != "" && !strings.EqualFold(p.Optional, acc.PeerHex()) {
			h.recordDigestFailure()
			algo := string(acc.PeerAlgorithm())
			logger.WarnCtx(ctx, "global digest mismatch", logger.KeyDigestAlgo, algo)
			err := newError(KindRunner, codes.MD5Error, "Global Hash in error")
			_ = h.setFinalizeTransfer(ctx, s, false, session.Result{Code: codes.MD5Error, Err: err,
				Answered: true, Descriptor: s.Descriptor()})
			h.sendError(ctx, s, "Global Hash in error, transfer in error and rank should be reset to 0 (using "+
				algo+")", codes.MD5Error)
			h.closeSession(ctx, s)
			return nil
		}
		s.SetTransferHash(acc.LocalHex(), acc.Partial())
	}

	s.SetStatus(session.StateEndTransfer, session.RoleValidating)
	if s.RequestSignal().IsDone() {
		h.closeSession(ctx, s)
		return nil
	}
	s.SetStatus(session.StateEndTransfer, session.RoleAcknowledging)
	if err := h.setFinalizeTransfer(ctx, s, true, session.NewResult(codes.TransferOk, s.Descriptor())); err != nil {
		perr := asError(err)
		code := codes.FinalOp
		if req := s.RequestSignal(); req.IsDone() {
			code = req.Result().Code
		}
		s.SetStatus(session.StateError, session.RoleNone)
		h.sendError(ctx, s, "Error while finalizing transfer: "+perr.Error(), code)
		h.closeSession(ctx, s)
		return nil
	}
	p.Validate()
	if err := h.send(ctx, s, p); err != nil {
		return wrapError(KindNetwork, codes.Disconnection, "cannot acknowledge end of transfer", err)
	}
	return nil
}

// endRequest closes the request once both sides finished their post
// processing.
func (h *Handler) endRequest(ctx context.Context, s *session.Session, p *packet.EndRequest) error {
	if !s.IsAuthenticated() {
		return newError(KindNotAuthenticated, codes.BadAuthent, "Not authenticated while EndRequest received")
	}
	s.WithDescriptor(func(d *transfer.Descriptor) {
		if d != nil {
			d.SetAllDone()
		}
	})
	_ = h.save(ctx, s)
	s.WithDescriptor(func(d *transfer.Descriptor) {
		if d != nil {
			d.Clean()
		}
	})

	biz := s.Business()
	if !s.RequestSignal().IsDone() {
		et := s.EndTransferSignal()
		if et.AwaitTimeout(h.cfg.RequestTimeout) && et.IsSuccess() {
			r := et.Result()
			if info := biz.Info(s); info == "" {
				biz.SetInfo(s, p.Optional)
				r.Other = p.Optional
			} else {
				biz.SetInfo(s, p.Optional)
				r.Other = info
			}
			r.Code = codes.CompleteOk
			r.Descriptor = s.Descriptor()
			s.ValidateRequest(r)
		} else {
			s.InvalidateRequest(session.Result{Code: codes.FinalOp, Answered: true, Descriptor: s.Descriptor(),
				Err: newError(KindInternal, codes.FinalOp, "End of request before end of transfer")})
		}
	}

	if p.ToValidate() {
		s.SetStatus(session.StateEndRequest, session.RoleValidating)
		p.Validate()
		p.Optional = biz.Info(s)
		s.SetStatus(session.StateEndRequest, session.RoleAcknowledging)
		if err := h.send(ctx, s, p); err != nil {
			logger.DebugCtx(ctx, "end request not acknowledged", logger.Err(err))
		}
	} else if !s.IsClosed() {
		s.SetStatus(session.StateEndRequest, session.RoleAcknowledging)
	}

	if d := snapshot(s); d != nil && (d.IsSelfRequest() || d.IsSelfRequested()) {
		h.closeSession(ctx, s)
	}
	return nil
}

// ============================================================================
// Change requests
// ============================================================================

// requestChangeFileInfo replaces the file information of the transfer.
func (h *Handler) requestChangeFileInfo(ctx context.Context, s *session.Session, info string) error {
	s.WithDescriptor(func(d *transfer.Descriptor) {
		if d != nil {
			d.FileInfo = info
		}
	})
	if err := h.save(ctx, s); err != nil {
		perr := wrapError(KindRunner, codes.ExternalOp, "File changing information in error", err)
		s.SetStatus(session.StateError, session.RoleNone)
		h.sendError(ctx, s, perr.Error(), codes.ExternalOp)
		_ = h.setFinalizeTransfer(ctx, s, false, session.Result{Code: codes.ExternalOp, Err: perr,
			Answered: true, Descriptor: s.Descriptor()})
		h.closeSession(ctx, s)
		return nil
	}
	return nil
}

// requestChangeNameSize adopts the name and size the sender ended up with.
// A rename is only possible before the first block.
func (h *Handler) requestChangeNameSize(ctx context.Context, s *session.Session, name string, size int64) error {
	s.SetStatus(session.StateValid, session.RoleNone)
	d := snapshot(s)
	if d == nil {
		return newError(KindBusiness, codes.IncorrectCommand, "No request prepared")
	}

	if size > 0 {
		var err error
		s.WithDescriptor(func(d *transfer.Descriptor) {
			d.OriginalSize = size
			if rule := s.Rule(); rule != nil && !d.IsSender {
				var checks []transfer.TaskSpec
				for _, t := range rule.PreTasks(false) {
					if strings.EqualFold(t.Type, string(tasks.TypeChkFile)) {
						checks = append(checks, t)
					}
				}
				if len(checks) > 0 {
					err = tasks.Run(ctx, h.taskEnv(s, d), checks)
				}
			}
		})
		if err != nil {
			perr := wrapError(KindRunner, codes.SizeNotAllowed, "File size not allowed", err)
			s.SetStatus(session.StateError, session.RoleNone)
			h.sendError(ctx, s, perr.Error(), codes.SizeNotAllowed)
			_ = h.setFinalizeTransfer(ctx, s, false, session.Result{Code: codes.SizeNotAllowed, Err: perr,
				Answered: true, Descriptor: s.Descriptor()})
			h.closeSession(ctx, s)
			return nil
		}
		_ = h.save(ctx, s)
	}

	if d.Rank > 0 {
		logger.DebugCtx(ctx, "file name change ignored once transfer started", logger.Filename(name))
		return nil
	}
	if name == "" || name == d.OriginalFilename {
		return nil
	}
	if err := h.renameReceiverFile(s, name); err != nil {
		perr := wrapError(KindRunner, codes.FileNotFound, "File renaming in error", err)
		s.SetStatus(session.StateError, session.RoleNone)
		h.sendError(ctx, s, perr.Error(), codes.FileNotFound)
		_ = h.setFinalizeTransfer(ctx, s, false, session.Result{Code: codes.FileNotFound, Err: perr,
			Answered: true, Descriptor: s.Descriptor()})
		h.closeSession(ctx, s)
		return nil
	}
	_ = h.save(ctx, s)
	return nil
}

// ============================================================================
// Requesting side
// ============================================================================

// StartRequest binds d to an authenticated session and sends its request.
// The partner's answer is handled by request on the session's ordered path.
// A sender announces the size of its source when it can stat it.
func (h *Handler) StartRequest(ctx context.Context, s *session.Session, d *transfer.Descriptor, rule *transfer.Rule) error {
	if !s.IsAuthenticated() {
		return newError(KindNotAuthenticated, codes.BadAuthent, "Not authenticated before request")
	}
	if d.IsSender && !d.IsSendThrough() && d.Rank == 0 {
		if name, err := resolveIn(h.sendDir(rule), d.Filename); err == nil {
			if fi, err := h.fs.Stat(name); err == nil {
				d.OriginalSize = fi.Size()
			}
		}
	}
	if d.BlockSize < packet.MinBlockSize {
		d.BlockSize = h.cfg.DefaultBlockSize
	}
	s.SetDescriptor(d)
	s.SetRule(rule)
	if err := h.save(ctx, s); err != nil {
		return wrapError(KindInternal, codes.Internal, "cannot save transfer", err)
	}

	snap := snapshot(s)
	req := packet.NewRequest(rule.Name, snap.Mode, snap.OriginalFilename, snap.BlockSize, h.cfg.DefaultBlockSize,
		snap.Rank, snap.SpecialID, snap.TransferInfo, snap.OriginalSize)
	req.Limit = h.cfg.SessionLimit
	s.SetStatus(session.StateRequest, session.RoleValidating)
	if lc := logger.FromContext(ctx); lc != nil {
		ctx = logger.WithContext(ctx, lc.WithTransfer(snap.SpecialID, rule.Name))
	}
	logger.InfoCtx(ctx, "requesting transfer", logger.Filename(snap.OriginalFilename),
		logger.Rank(snap.Rank), logger.Size(snap.OriginalSize))
	if err := h.send(ctx, s, req); err != nil {
		return wrapError(KindNetwork, codes.Disconnection, "cannot send request", err)
	}
	return nil
}
