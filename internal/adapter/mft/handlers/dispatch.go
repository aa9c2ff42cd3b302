package handlers

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/marmos91/dittomft/internal/adapter/mft/session"
	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
	"github.com/marmos91/dittomft/internal/telemetry"
	"github.com/marmos91/dittomft/pkg/transfer"
)

// ============================================================================
// Packet Dispatch Types
// ============================================================================

// PacketHandler processes one packet for a session.
type PacketHandler func(ctx context.Context, h *Handler, s *session.Session, p packet.Packet) error

// Procedure contains metadata about a packet type for dispatch.
type Procedure struct {
	// Name is the packet name for logging (e.g., "REQUEST", "DATA")
	Name string

	// Handler is the function that processes this packet
	Handler PacketHandler

	// NeedsAuth indicates whether the session must be authenticated first.
	NeedsAuth bool
}

// DispatchTable maps packet types to their handlers.
var DispatchTable map[packet.Type]*Procedure

func init() {
	initDispatchTable()
}

// ============================================================================
// Dispatch Table Initialization
// ============================================================================

func initDispatchTable() {
	DispatchTable = map[packet.Type]*Procedure{
		packet.TypeStartup: {
			Name: "STARTUP",
			Handler: func(ctx context.Context, h *Handler, s *session.Session, p packet.Packet) error {
				return h.openSession(ctx, s, p.(*packet.Startup))
			},
		},
		packet.TypeAuthent: {
			Name: "AUTHENT",
			Handler: func(ctx context.Context, h *Handler, s *session.Session, p packet.Packet) error {
				return h.authenticate(ctx, s, p.(*packet.Authent))
			},
		},
		packet.TypeData: {
			Name: "DATA",
			Handler: func(ctx context.Context, h *Handler, s *session.Session, p packet.Packet) error {
				return h.data(ctx, s, p.(*packet.Data))
			},
			NeedsAuth: true,
		},
		packet.TypeValid: {
			Name:    "VALID",
			Handler: handleValid,
		},
		packet.TypeError: {
			Name: "ERROR",
			Handler: func(ctx context.Context, h *Handler, s *session.Session, p packet.Packet) error {
				s.SetStatus(session.StateError, session.RoleNone)
				return h.errorMesg(ctx, s, p.(*packet.Error))
			},
		},
		packet.TypeConnectError: {
			Name: "CONNECTERROR",
			Handler: func(ctx context.Context, h *Handler, s *session.Session, p packet.Packet) error {
				return h.connectionError(ctx, s, p.(*packet.ConnectError))
			},
		},
		packet.TypeRequest: {
			Name: "REQUEST",
			Handler: func(ctx context.Context, h *Handler, s *session.Session, p packet.Packet) error {
				return h.request(ctx, s, p.(*packet.Request))
			},
			NeedsAuth: true,
		},
		packet.TypeShutdown: {
			Name:    "SHUTDOWN",
			Handler: handleShutdown,
		},
		packet.TypeTest: {
			Name: "TEST",
			Handler: func(ctx context.Context, h *Handler, s *session.Session, p packet.Packet) error {
				return h.test(ctx, s, p.(*packet.Test))
			},
			NeedsAuth: true,
		},
		packet.TypeEndTransfer: {
			Name: "ENDTRANSFER",
			Handler: func(ctx context.Context, h *Handler, s *session.Session, p packet.Packet) error {
				return h.endTransfer(ctx, s, p.(*packet.EndTransfer))
			},
			NeedsAuth: true,
		},
		packet.TypeEndRequest: {
			Name: "ENDREQUEST",
			Handler: func(ctx context.Context, h *Handler, s *session.Session, p packet.Packet) error {
				return h.endRequest(ctx, s, p.(*packet.EndRequest))
			},
			NeedsAuth: true,
		},
		packet.TypeInformation: {
			Name: "INFORMATION",
			Handler: func(ctx context.Context, h *Handler, s *session.Session, p packet.Packet) error {
				s.SetStatus(session.StateInformation, session.RoleNone)
				return h.admin.Information(ctx, s, p.(*packet.Information))
			},
			NeedsAuth: true,
		},
		packet.TypeBlockRequest: {
			Name: "BLOCKREQUEST",
			Handler: func(ctx context.Context, h *Handler, s *session.Session, p packet.Packet) error {
				return h.admin.BlockRequest(ctx, s, p.(*packet.BlockRequest))
			},
			NeedsAuth: true,
		},
		packet.TypeJSONRequest: {
			Name:      "JSONREQUEST",
			Handler:   handleJSONRequest,
			NeedsAuth: true,
		},
		packet.TypeBusinessRequest: {
			Name:      "BUSINESSREQUEST",
			Handler:   handleUnimplemented,
			NeedsAuth: true,
		},
		packet.TypeKeepAlive: {
			Name:    "KEEPALIVE",
			Handler: handleKeepAlive,
		},
		packet.TypeNoOp: {
			Name:    "NOOP",
			Handler: func(context.Context, *Handler, *session.Session, packet.Packet) error { return nil },
		},
	}

	for _, t := range []packet.Type{
		packet.TypeStop, packet.TypeCancel, packet.TypeConfigSend, packet.TypeConfigRecv,
		packet.TypeBandwidth, packet.TypeRequestUser, packet.TypeLog, packet.TypeLogPurge,
	} {
		DispatchTable[t] = &Procedure{Name: t.String(), Handler: handleUnimplemented}
	}
}

// ============================================================================
// Dispatch
// ============================================================================

// Dispatch processes one packet for s. It is called from the connection's
// ordered path; failures are answered here and never returned.
func (h *Handler) Dispatch(ctx context.Context, s *session.Session, p packet.Packet) {
	ctx = s.Context(ctx)
	ctx, span := telemetry.StartPacketSpan(ctx, p.Type().String(), s.LocalID(), s.RemoteID(),
		telemetry.State(s.Status().String()))
	defer span.End()

	if lc := logger.FromContext(ctx); lc != nil {
		lc = lc.WithPacket(p.Type().String())
		lc.TraceID, lc.SpanID = telemetry.TraceID(ctx), telemetry.SpanID(ctx)
		ctx = logger.WithContext(ctx, lc)
	}

	proc, ok := DispatchTable[p.Type()]
	if !ok {
		logger.WarnCtx(ctx, "unknown packet type", logger.PacketType(p.Type().String()))
		proc = &Procedure{Name: p.Type().String(), Handler: handleUnimplemented}
	}

	if s.IsClosed() && p.Type() != packet.TypeStartup {
		logger.DebugCtx(ctx, "packet for closed session dropped")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "panic in packet handler", "panic", r, "stack", string(debug.Stack()))
			err := newError(KindInternal, codes.Internal, fmt.Sprintf("%s handler failed: %v", proc.Name, r))
			telemetry.RecordError(ctx, err)
			h.exceptionCaught(ctx, s, err)
		}
	}()

	var err error
	if proc.NeedsAuth && !s.IsAuthenticated() {
		err = newError(KindNotAuthenticated, codes.BadAuthent, "Not authenticated while "+proc.Name+" received")
	} else {
		logger.DebugCtx(ctx, "packet received", logger.State(s.Status().String()))
		err = proc.Handler(ctx, h, s, p)
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		h.exceptionCaught(ctx, s, err)
	}
}

// ============================================================================
// Exception handling
// ============================================================================

// exceptionCaught classifies a handler failure, answers the partner when it
// must be told, and closes the session.
func (h *Handler) exceptionCaught(ctx context.Context, s *session.Session, err error) {
	perr := asError(err)
	if s.RequestSignal().IsDone() {
		logger.DebugCtx(ctx, "error after request completion", logger.Err(err))
		h.closeSession(ctx, s)
		return
	}

	if perr.Kind == KindShutdown {
		logger.WarnCtx(ctx, "shutdown requested by partner", logger.HostID(s.HostID()))
		h.tryFinalizeRequest(ctx, s, session.Result{Code: codes.Shutdown, Err: perr, Answered: true,
			Descriptor: s.Descriptor()})
		h.triggerShutdown()
		return
	}

	code := perr.ErrorCode()
	answered := false
	switch perr.Kind {
	case KindNoConnection:
		code = codes.ConnectionImpossible
		h.stopOrCancel(ctx, s, code)
	case KindCancel:
		code = codes.CanceledTransfer
		h.stopOrCancel(ctx, s, code)
	case KindStop:
		code = codes.StoppedTransfer
		h.stopOrCancel(ctx, s, code)
	case KindAlreadyFinished:
		h.tryFinalizeRequest(ctx, s, session.Result{Code: codes.QueryAlreadyFinished, Err: perr, Answered: true,
			Descriptor: s.Descriptor()})
		h.closeSession(ctx, s)
		return
	case KindStillRunning:
		s.InvalidateRequest(session.Result{Code: codes.QueryStillRunning, Err: perr, Answered: true,
			Descriptor: s.Descriptor()})
		h.closeSession(ctx, s)
		return
	case KindRemoteFileNotFound, KindNoData:
		code = codes.FileNotFound
	case KindNotAuthenticated:
		code = codes.BadAuthent
		answered = true
		h.sendError(ctx, s, perr.Error(), code)
	case KindNetwork:
		code = codes.Disconnection
		h.tryFinalizeRequest(ctx, s, session.Result{Code: code, Err: perr, Answered: true,
			Descriptor: s.Descriptor()})
	case KindRemoteShutdown:
		code = codes.RemoteShutdown
		h.stopOrCancel(ctx, s, code)
	case KindRunner, KindBusiness, KindNoWriteBack:
	default:
		if perr.Status == codes.Unknown || perr.Status == 0 {
			code = codes.Internal
			if d := snapshot(s); d != nil && d.InfoStatus.IsError() {
				code = d.InfoStatus
			}
		}
	}

	logger.WarnCtx(ctx, "session in error", logger.KeyError, perr.Error(),
		logger.ErrorCode(byte(code)), "kind", perr.Kind.String())

	switch perr.Kind {
	case KindNoWriteBack, KindNoConnection, KindNetwork:
		answered = true
	}
	if !answered {
		wire := code
		if wire == codes.Internal {
			wire = codes.RemoteError
		}
		h.sendError(ctx, s, perr.Error(), wire)
	}

	s.SetStatus(session.StateError, session.RoleNone)
	r := session.Result{Code: code, Err: perr, Answered: true, Descriptor: s.Descriptor()}
	_ = h.setFinalizeTransfer(ctx, s, false, r)
	s.InvalidateRequest(r)
	h.closeSession(ctx, s)
}

// stopOrCancel interrupts the local transfer.
func (h *Handler) stopOrCancel(ctx context.Context, s *session.Session, code codes.ErrorCode) {
	s.StopPump()
	var changed bool
	s.WithDescriptor(func(d *transfer.Descriptor) {
		if d != nil {
			changed = d.StopOrCancel(code)
		}
	})
	if changed {
		_ = h.save(ctx, s)
	}
}

// ============================================================================
// Control packets
// ============================================================================

func handleValid(ctx context.Context, h *Handler, s *session.Session, pkt packet.Packet) error {
	p := pkt.(*packet.Valid)
	if p.SubType != packet.TypeShutdown && !s.IsAuthenticated() {
		return newError(KindNotAuthenticated, codes.BadAuthent, "Not authenticated while Valid received")
	}

	switch p.SubType {
	case packet.TypeRequest:
		name, size, info, hasInfo := parseChange(p.Middle)
		if hasInfo {
			if d := snapshot(s); d != nil && d.FileInfo != info {
				if err := h.requestChangeFileInfo(ctx, s, info); err != nil || s.IsClosed() {
					return err
				}
			}
		}
		return h.requestChangeNameSize(ctx, s, name, size)

	case packet.TypeTest:
		logger.InfoCtx(ctx, "test validated", "message", p.Header)
		s.SetStatus(session.StateValidOther, session.RoleNone)
		r := session.NewResult(codes.CompleteOk, s.Descriptor())
		r.Other = p.Header
		s.ValidateRequest(r)
		h.closeSession(ctx, s)
		return nil
	}

	s.SetStatus(session.StateValid, session.RoleNone)
	return h.admin.Valid(ctx, s, p)
}

// parseChange splits a "name|size[|info]" change middle. A size that is not
// a number belongs to the name.
func parseChange(middle string) (name string, size int64, info string, hasInfo bool) {
	fields := strings.Split(middle, packet.BarSeparator)
	name, size = fields[0], -1
	if len(fields) < 2 {
		return name, size, "", false
	}
	n, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return middle, -1, "", false
	}
	size = n
	if len(fields) > 2 {
		return name, size, strings.Join(fields[2:], packet.BarSeparator), true
	}
	return name, size, "", false
}

func handleShutdown(ctx context.Context, h *Handler, s *session.Session, pkt packet.Packet) error {
	p := pkt.(*packet.Shutdown)
	s.SetStatus(session.StateShutdown, session.RoleNone)
	partner := s.Partner()
	if !s.IsAuthenticated() || partner == nil || !partner.Admin || len(h.cfg.AdminKey) == 0 ||
		string(p.Key) != string(h.cfg.AdminKey) {
		return newError(KindBusiness, codes.BadAuthent, "Invalid Shutdown command")
	}
	return newError(KindShutdown, codes.Shutdown, "Shutdown order received")
}

func handleKeepAlive(ctx context.Context, h *Handler, s *session.Session, pkt packet.Packet) error {
	p := pkt.(*packet.KeepAlive)
	if p.Way != packet.WayToValidate {
		return nil
	}
	return h.send(ctx, s, &packet.KeepAlive{Way: packet.WayValidated})
}

func handleUnimplemented(ctx context.Context, h *Handler, s *session.Session, p packet.Packet) error {
	logger.InfoCtx(ctx, "unimplemented packet", logger.PacketType(p.Type().String()))
	s.SetStatus(session.StateError, session.RoleNone)
	err := newError(KindBusiness, codes.Unimplemented, "Unimplemented Mesg: "+p.Type().String())
	s.InvalidateRequest(session.Result{Code: codes.Unimplemented, Err: err, Answered: true, Descriptor: s.Descriptor()})
	h.sendError(ctx, s, err.Error(), codes.Unimplemented)
	h.closeSession(ctx, s)
	return nil
}

func handleJSONRequest(ctx context.Context, h *Handler, s *session.Session, pkt packet.Packet) error {
	p := pkt.(*packet.JSONRequest)
	if len(p.Body) == 0 {
		r := session.NewResult(codes.CommandNotFound, s.Descriptor())
		s.ValidateRequest(r)
		_ = h.send(ctx, s, &packet.Valid{
			Header:  "Empty JSON request",
			Middle:  codes.CommandNotFound.String(),
			SubType: packet.TypeRequestUser,
		})
		h.closeSession(ctx, s)
		return nil
	}

	if p.SubType != packet.TypeRequest {
		return h.admin.JSON(ctx, s, p)
	}

	var change packet.ChangeRequest
	if err := p.Decode(&change); err != nil {
		return wrapError(KindBusiness, codes.IncorrectCommand, "Incorrect JSON request", err)
	}
	if d := snapshot(s); d != nil && change.FileInfo != "" && change.FileInfo != d.FileInfo {
		if err := h.requestChangeFileInfo(ctx, s, change.FileInfo); err != nil || s.IsClosed() {
			return err
		}
	}
	if change.Filename == "" {
		if change.Filesize > 0 {
			return h.requestChangeNameSize(ctx, s, "", change.Filesize)
		}
		return nil
	}
	return h.requestChangeNameSize(ctx, s, change.Filename, change.Filesize)
}

// ============================================================================
// Test
// ============================================================================

// test echoes a Test packet until it bounced often enough, then validates it.
func (h *Handler) test(ctx context.Context, s *session.Session, p *packet.Test) error {
	s.SetStatus(session.StateTest, session.RoleNone)
	p.Count++
	if p.Count < h.cfg.TestEchoCount {
		return h.send(ctx, s, p)
	}

	logger.InfoCtx(ctx, "test completed", "message", p.Header)
	valid := &packet.Valid{Header: p.Header, Middle: p.Middle, SubType: packet.TypeTest}
	s.SetStatus(session.StateValidOther, session.RoleNone)
	r := session.NewResult(codes.CompleteOk, s.Descriptor())
	r.Other = p.Header
	s.ValidateRequest(r)
	_ = h.send(ctx, s, valid)
	h.closeSession(ctx, s)
	return nil
}
