package handlers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dittomft/internal/adapter/mft/session"
	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
	"github.com/marmos91/dittomft/pkg/transfer"
)

// ============================================================================
// Startup
// ============================================================================

// openSession opens a session once its Startup packet reaches the ordered path.
// A business refusal answers ConnectionImpossible and leaves the session
// without state.
func (h *Handler) openSession(ctx context.Context, s *session.Session, p *packet.Startup) error {
	if err := s.Business().CheckAtConnection(ctx, s); err != nil {
		logger.WarnCtx(ctx, "connection refused by business logic", logger.Err(err))
		s.SetStatus(session.StateError, session.RoleNone)
		h.sendError(ctx, s, "Connection refused by business logic", codes.ConnectionImpossible)
		return nil
	}
	s.SetStatus(session.StateStartup, session.RoleNone)
	s.ValidateStartup(true)
	logger.DebugCtx(ctx, "session started", logger.LocalID(p.LocalID))
	return nil
}

// ============================================================================
// Authentication
// ============================================================================

// authenticate validates the partner's identity and shared secret.
func (h *Handler) authenticate(ctx context.Context, s *session.Session, p *packet.Authent) error {
	if p.ToValidate() {
		s.SetStatus(session.StateAuthent, session.RoleValidating)
	}

	host, err := h.store.GetHost(ctx, p.HostID)
	if err != nil {
		if errors.Is(err, transfer.ErrHostNotFound) {
			return h.refuse(ctx, s, p.HostID, nil, "Connection not allowed: unknown host "+p.HostID)
		}
		logger.WarnCtx(ctx, "cannot load partner", logger.HostID(p.HostID), logger.Err(err))
		s.SetStatus(session.StateError, session.RoleNone)
		h.sendError(ctx, s, "Service unavailable", codes.ConnectionImpossible)
		s.InvalidateRequest(session.Result{Code: codes.ConnectionImpossible, Err: err, Answered: true})
		h.closeSession(ctx, s)
		return nil
	}

	switch {
	case host.VerifyKey(p.Key) != nil:
		return h.refuse(ctx, s, p.HostID, host, "Connection not allowed: bad key")
	case !host.Active:
		return h.refuse(ctx, s, p.HostID, host, "Connection not allowed: host inactive")
	case host.TLS && !s.Conn().IsTLS():
		return h.refuse(ctx, s, p.HostID, host, "Connection not allowed: TLS required")
	}

	s.Conn().SetHostID(host.HostID)
	s.SetAuthenticated(host, p.PeerVersion())

	if err := h.checkAddress(ctx, s, host); err != nil {
		return h.refuse(ctx, s, p.HostID, host, err.Error())
	}
	if err := s.Business().CheckAtAuthentication(ctx, s); err != nil {
		return h.refuse(ctx, s, p.HostID, host, "Connection refused by business logic: "+err.Error())
	}

	s.SetStatus(session.StateAuthent, session.RoleAcknowledging)
	s.ValidateConnection(true, session.Result{Code: codes.InitOk})
	logger.InfoCtx(ctx, "partner authenticated", logger.HostID(host.HostID), logger.KeyTLS, s.Conn().IsTLS())

	if p.ToValidate() {
		reply := &packet.Authent{LocalID: s.LocalID()}
		reply.Validate(h.cfg.HostID, h.cfg.HostKey)
		return h.send(ctx, s, reply)
	}
	return nil
}

// refuse fails the authentication and blacklists the connection.
func (h *Handler) refuse(ctx context.Context, s *session.Session, hostID string, host *transfer.Host, cause string) error {
	if host != nil && !host.Active {
		cause = transfer.ErrHostInactive.Error()
		cause = strings.ToUpper(cause[:1]) + cause[1:]
	}
	logger.WarnCtx(ctx, "authentication refused", logger.HostID(hostID),
		logger.RemoteAddr(s.RemoteAddr()), logger.KeyError, cause)

	err := newError(KindNotAuthenticated, codes.BadAuthent, cause)
	s.InvalidateRequest(session.Result{Code: codes.BadAuthent, Err: err, Answered: true})
	s.SetStatus(session.StateError, session.RoleNone)
	h.sendError(ctx, s, cause, codes.BadAuthent)
	s.Business().CheckAtError(ctx, s)
	h.closeSession(ctx, s)
	s.Conn().ShutdownBlacklist()
	return nil
}

// checkAddress verifies that the partner connects from one of its host's
// addresses.
func (h *Handler) checkAddress(ctx context.Context, s *session.Session, host *transfer.Host) error {
	if !h.cfg.CheckRemoteAddress || host.Proxified {
		return nil
	}
	if host.Client && (!h.cfg.CheckClientAddress || host.NoAddress()) {
		return nil
	}
	if host.NoAddress() {
		return nil
	}
	remote := s.RemoteAddr()
	if ip, _, err := net.SplitHostPort(remote); err == nil {
		remote = ip
	}
	addrs, err := h.resolver.LookupHost(ctx, host.Address)
	if err != nil {
		logger.DebugCtx(ctx, "partner address not resolved, check skipped",
			logger.HostID(host.HostID), logger.Err(err))
		return nil
	}
	if slices.Contains(addrs, remote) {
		return nil
	}
	return fmt.Errorf("Server IP not authenticated: %s compare to %s", remote, strings.Join(addrs, ","))
}

// ============================================================================
// Close
// ============================================================================

// closeSession runs the close handling of s and unregisters it.
func (h *Handler) closeSession(ctx context.Context, s *session.Session) {
	h.ChannelClosed(ctx, s)
	s.Close()
}

// ChannelClosed finishes whatever the session left open. It is idempotent.
func (h *Handler) ChannelClosed(ctx context.Context, s *session.Session) {
	if s.Status().State == session.StateClosedChannel {
		return
	}

	mustFinalize := !s.RequestSignal().IsDone()
	if vr := s.ValidRequestSignal(); vr.IsDone() && !vr.IsSuccess() && vr.Result().Code == codes.ServerOverloaded {
		mustFinalize = false
	}
	if mustFinalize {
		s.SetStatus(session.StateError, session.RoleNone)
		msg := "Finalize transfer while channel closed"
		if s.Descriptor() == nil {
			msg = "Channel closed before any request"
		}
		h.tryFinalizeRequest(ctx, s, session.Result{
			Code:       codes.FinalOp,
			Err:        newError(KindInternal, codes.FinalOp, msg),
			Answered:   true,
			Descriptor: s.Descriptor(),
		})
	}

	d := snapshot(s)
	if d != nil {
		req := s.RequestSignal()
		code := req.Result().Code
		if !req.IsDone() {
			code = codes.FinalOp
		}
		if d.Requester == h.cfg.HostID {
			if req.IsDone() && req.IsSuccess() {
				logger.InfoCtx(ctx, "transfer requested result: success", logger.SpecialID(d.SpecialID))
			} else {
				logger.WarnCtx(ctx, "transfer requested result: failure", logger.SpecialID(d.SpecialID),
					logger.ErrorCode(byte(code)))
			}
		}
		h.recordTransfer(code.String(), d.StartAt)
	}

	s.SetStatus(session.StateClosedChannel, session.RoleNone)
	_ = closeFile(s)

	if mustFinalize && !s.RequestSignal().IsDone() {
		s.InvalidateRequest(session.Result{
			Code:       codes.FinalOp,
			Err:        newError(KindInternal, codes.FinalOp, "Channel closed while transfer running"),
			Answered:   true,
			Descriptor: s.Descriptor(),
		})
		time.AfterFunc(h.cfg.CloseDelay, s.StopPump)
	}
	s.WithDescriptor(func(d *transfer.Descriptor) {
		if d != nil {
			d.Clean()
		}
	})
	h.registry.UnbindTransferKey(s)
}

// ============================================================================
// Error packets
// ============================================================================

// connectionError handles a ConnectError from the partner: the session it
// targeted does not exist on the other side.
func (h *Handler) connectionError(ctx context.Context, s *session.Session, p *packet.ConnectError) error {
	code := p.ErrorCode()
	logger.WarnCtx(ctx, "connection error from partner", logger.ErrorCode(byte(code)), logger.KeyError, p.Header)
	err := newError(KindNoWriteBack, code, p.Header)
	s.InvalidateRequest(session.Result{Code: code, Err: err, Answered: true, Descriptor: s.Descriptor()})
	s.SetStatus(session.StateError, session.RoleNone)
	s.Business().CheckAtError(ctx, s)
	h.closeSession(ctx, s)
	return nil
}

// errorMesg handles an Error packet. Cancel and stop orders interrupt the
// transfer; other codes become a typed error for the dispatch boundary.
func (h *Handler) errorMesg(ctx context.Context, s *session.Session, p *packet.Error) error {
	if s.RequestSignal().IsDone() {
		return nil
	}
	code := p.ErrorCode()
	s.SetErrorMessage(p.Header, code)
	logger.WarnCtx(ctx, "error from partner", logger.ErrorCode(byte(code)), logger.KeyError, p.Header)

	switch code {
	case codes.CanceledTransfer, codes.StoppedTransfer:
		s.StopPump()
		kind := KindCancel
		if code == codes.StoppedTransfer {
			kind = KindStop
		}
		rank := int32(0)
		if code == codes.StoppedTransfer {
			fields := strings.Fields(p.Header)
			if len(fields) > 0 {
				if n, err := strconv.ParseInt(fields[len(fields)-1], 10, 32); err == nil {
					rank = int32(n)
				} else {
					rank = -1
				}
			}
		}
		s.WithDescriptor(func(d *transfer.Descriptor) {
			if d == nil {
				return
			}
			if rank >= 0 {
				d.SetRankAtStartup(rank)
			}
			d.StopOrCancel(code)
		})
		_ = h.save(ctx, s)
		r := session.Result{Code: code, Err: newError(kind, code, p.Header), Answered: true, Descriptor: s.Descriptor()}
		_ = h.setFinalizeTransfer(ctx, s, false, r)
		if p.Way == packet.ErrorForward {
			_ = h.send(ctx, s, packet.NewError(p.Header, code, packet.ErrorForwardClose))
		}
		s.InvalidateRequest(r)
		h.closeSession(ctx, s)
		return nil

	case codes.QueryAlreadyFinished:
		d := s.Descriptor()
		if d == nil || !d.IsSender {
			return newError(KindCancel, code, p.Header)
		}
		err := newError(KindAlreadyFinished, code, p.Header)
		s.WithDescriptor(func(d *transfer.Descriptor) { d.FinishTransferTask(code) })
		h.tryFinalizeRequest(ctx, s, session.Result{Code: code, Err: err, Answered: true, Descriptor: d})
		return err

	case codes.QueryStillRunning:
		return newError(KindStillRunning, code, p.Header)
	}

	var err *Error
	switch code {
	case codes.BadAuthent:
		err = newError(KindNotAuthenticated, code, p.Header)
	case codes.QueryRemotelyUnknown:
		err = newError(KindCancel, code, p.Header)
	case codes.FileNotFound:
		err = newError(KindRemoteFileNotFound, code, p.Header)
	default:
		err = newError(KindNoWriteBack, code, p.Header)
	}
	_ = h.setFinalizeTransfer(ctx, s, false, session.Result{Code: code, Err: err, Answered: true, Descriptor: s.Descriptor()})
	return err
}
