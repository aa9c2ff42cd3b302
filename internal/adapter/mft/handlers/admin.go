package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dittomft/internal/adapter/mft/session"
	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
	"github.com/marmos91/dittomft/pkg/transfer"
)

// Admin handles the administrative side of the protocol: control packets
// that act on other transfers or on the host itself.
type Admin interface {
	// Valid handles a Valid packet whose sub-type is not part of a transfer.
	Valid(ctx context.Context, s *session.Session, p *packet.Valid) error

	// Information answers a file or transfer information request.
	Information(ctx context.Context, s *session.Session, p *packet.Information) error

	// JSON handles a JSON command other than a file change.
	JSON(ctx context.Context, s *session.Session, p *packet.JSONRequest) error

	// BlockRequest blocks or unblocks new requests.
	BlockRequest(ctx context.Context, s *session.Session, p *packet.BlockRequest) error
}

// DefaultAdmin implements the administrative commands against the engine's
// registry and store.
type DefaultAdmin struct {
	h *Handler
}

var _ Admin = (*DefaultAdmin)(nil)

// NewDefaultAdmin returns the stock administrative layer of h.
func NewDefaultAdmin(h *Handler) *DefaultAdmin { return &DefaultAdmin{h: h} }

// TransferCommand is the JSON body of stop, cancel and restart commands.
type TransferCommand struct {
	Requested string `json:"requested"`
	Requester string `json:"requester"`
	SpecialID int64  `json:"specialid"`
	// RestartAt delays a restart, RFC 3339.
	RestartAt string `json:"restarttime,omitempty"`
}

// ============================================================================
// Valid
// ============================================================================

func (a *DefaultAdmin) Valid(ctx context.Context, s *session.Session, p *packet.Valid) error {
	switch p.SubType {
	case packet.TypeShutdown:
		return a.remoteShutdown(ctx, s, p)

	case packet.TypeStop, packet.TypeCancel:
		keys := strings.Fields(p.Middle)
		if len(keys) < 3 {
			return a.answerCommand(ctx, s, p.Middle, codes.IncorrectCommand, p,
				newError(KindBusiness, codes.IncorrectCommand, "Not enough arguments"))
		}
		id, err := strconv.ParseInt(keys[2], 10, 64)
		if err != nil {
			return a.answerCommand(ctx, s, p.Middle, codes.IncorrectCommand, p,
				wrapError(KindBusiness, codes.IncorrectCommand, "Incorrect transfer id", err))
		}
		s.SetStatus(session.StateValidOther, session.RoleNone)
		code, err := a.stopOrCancel(ctx, s, p.SubType, keys[0], keys[1], id)
		if err != nil {
			return err
		}
		return a.answerCommand(ctx, s, p.Middle, code, p, nil)

	case packet.TypeValid:
		keys := strings.Fields(p.Middle)
		if len(keys) < 3 {
			return a.answerCommand(ctx, s, p.Middle, codes.IncorrectCommand, p,
				newError(KindBusiness, codes.IncorrectCommand, "Not enough arguments"))
		}
		id, err := strconv.ParseInt(keys[2], 10, 64)
		if err != nil {
			return a.answerCommand(ctx, s, p.Middle, codes.IncorrectCommand, p,
				wrapError(KindBusiness, codes.IncorrectCommand, "Incorrect transfer id", err))
		}
		var at time.Time
		if len(keys) > 3 {
			at = parseRestartTime(keys[3])
		}
		s.SetStatus(session.StateValidOther, session.RoleNone)
		code, err := a.restart(ctx, s, keys[0], keys[1], id, at)
		var cause error
		if err != nil {
			cause = err
		} else if !isCodeValid(code) {
			cause = newError(KindBusiness, code, code.Message())
		}
		return a.answerCommand(ctx, s, p.Middle, code, p, cause)

	case packet.TypeRequestUser:
		s.SetStatus(session.StateValidOther, session.RoleNone)
		code := codes.FromString(p.Middle)
		r := session.NewResult(code, s.Descriptor())
		r.Other = p.Header
		if isCodeValid(code) {
			s.ValidateRequest(r)
		} else {
			r.Err = newError(KindBusiness, code, p.Header)
			r.Answered = true
			s.InvalidateRequest(r)
		}
		a.h.closeSession(ctx, s)
		return nil
	}

	return handleUnimplemented(ctx, a.h, s, &packet.Raw{Kind: p.SubType})
}

// remoteShutdown handles the partner's notice that it shuts down. A receiver
// tells back the rank to resume from.
func (a *DefaultAdmin) remoteShutdown(ctx context.Context, s *session.Session, p *packet.Valid) error {
	h := a.h
	s.SetStatus(session.StateShutdown, session.RoleNone)
	logger.WarnCtx(ctx, "partner shutting down, closing session", logger.KeyError, p.Header)

	rank := int32(-1)
	d := snapshot(s)
	if d != nil && d.IsInTransfer() && p.Middle != "" {
		if n, err := strconv.ParseInt(p.Middle, 10, 32); err == nil {
			rank = int32(n)
		}
	}
	r := session.Result{
		Code:       codes.Shutdown,
		Err:        newError(KindRemoteShutdown, codes.Shutdown, "Partner is shutting down"),
		Answered:   true,
		Descriptor: s.Descriptor(),
	}

	informBack := int32(-1)
	if d != nil && d.IsInTransfer() {
		switch {
		case rank >= 0:
			s.WithDescriptor(func(d *transfer.Descriptor) { d.SetRankAtStartup(rank) })
			_ = h.save(ctx, s)
		case !d.IsSender:
			informBack = d.Rank
			_ = h.save(ctx, s)
		}
	}
	s.StopPump()
	_ = h.setFinalizeTransfer(ctx, s, false, r)

	if informBack >= 0 {
		_ = h.send(ctx, s, &packet.Valid{
			Header:  p.Header,
			Middle:  strconv.Itoa(int(informBack)),
			SubType: packet.TypeShutdown,
		})
	}
	h.closeSession(ctx, s)
	return nil
}

// stopOrCancel interrupts the transfer (requested, requester, id). A running
// transfer is told through its own session; a stored one is updated in
// place.
func (a *DefaultAdmin) stopOrCancel(ctx context.Context, s *session.Session, kind packet.Type, requested, requester string, id int64) (codes.ErrorCode, error) {
	h := a.h
	partner := s.Partner()
	if partner == nil || (!partner.Admin && partner.HostID != requester && partner.HostID != requested) {
		return codes.Unknown, newError(KindNotAuthenticated, codes.BadAuthent, "Not correctly authenticated")
	}
	code := codes.CanceledTransfer
	if kind == packet.TypeStop {
		code = codes.StoppedTransfer
	}

	if target, ok := h.registry.GetByTransferKey(transfer.TransferKey(requested, requester, id)); ok {
		rank := int32(0)
		if code == codes.StoppedTransfer {
			if d := snapshot(target); d != nil {
				rank = d.Rank
			}
		}
		msg := "StoppedTransfer"
		if code == codes.CanceledTransfer {
			msg = "CanceledTransfer"
		}
		injected := target.Conn().Inject(packet.Frame{
			Dest:   target.LocalID(),
			Src:    0,
			Packet: packet.NewError(msg+" "+strconv.Itoa(int(rank)), code, packet.ErrorForward),
		})
		if !injected {
			logger.WarnCtx(ctx, "cannot reach running transfer", logger.SpecialID(id))
		}
		return codes.CompleteOk, nil
	}

	d, err := h.store.GetDescriptor(ctx, id, requester, requested)
	if err != nil {
		if errors.Is(err, transfer.ErrDescriptorNotFound) {
			return codes.TransferOk, nil
		}
		return codes.Unknown, wrapError(KindInternal, codes.Internal, "cannot load transfer", err)
	}
	if !d.StopOrCancel(code) {
		return codes.TransferOk, nil
	}
	if err := h.SaveDescriptor(ctx, d); err != nil {
		return codes.Unknown, wrapError(KindInternal, codes.Internal, "cannot save transfer", err)
	}
	return codes.CompleteOk, nil
}

// restart schedules the stored transfer (requested, requester, id) again.
func (a *DefaultAdmin) restart(ctx context.Context, s *session.Session, requested, requester string, id int64, at time.Time) (codes.ErrorCode, error) {
	h := a.h
	partner := s.Partner()
	if partner == nil || (!partner.Admin && partner.HostID != requester && partner.HostID != requested) {
		return codes.BadAuthent, newError(KindNotAuthenticated, codes.BadAuthent, "Not correctly authenticated")
	}
	if _, ok := h.registry.GetByTransferKey(transfer.TransferKey(requested, requester, id)); ok {
		return codes.QueryStillRunning, nil
	}
	d, err := h.store.GetDescriptor(ctx, id, requester, requested)
	if err != nil {
		if errors.Is(err, transfer.ErrDescriptorNotFound) {
			return codes.QueryRemotelyUnknown, nil
		}
		return codes.Internal, wrapError(KindInternal, codes.Internal, "cannot load transfer", err)
	}
	if !at.IsZero() {
		d.StartAt = at
	}
	code := codes.QueryAlreadyFinished
	if d.Restart(true, h.cfg.RankRestart) {
		code = codes.CompleteOk
	}
	if err := h.SaveDescriptor(ctx, d); err != nil {
		return codes.Internal, wrapError(KindInternal, codes.Internal, "cannot save transfer", err)
	}
	logger.InfoCtx(ctx, "transfer restart requested", logger.SpecialID(id), logger.ErrorCode(byte(code)))
	return code, nil
}

// answerCommand tells the requester the outcome of an administrative command
// and closes the session.
func (a *DefaultAdmin) answerCommand(ctx context.Context, s *session.Session, middle string, code codes.ErrorCode, p packet.Packet, cause error) error {
	h := a.h
	r := session.NewResult(code, s.Descriptor())
	if v, ok := p.(*packet.Valid); ok {
		r.Other = v.Middle
	}
	if cause != nil {
		var perr *Error
		if errors.As(cause, &perr) && perr.Kind == KindNotAuthenticated {
			return cause
		}
		r.Err = cause
		r.Answered = true
		s.InvalidateRequest(r)
	} else {
		s.ValidateRequest(r)
	}
	_ = h.send(ctx, s, &packet.Valid{Header: middle, Middle: code.String(), SubType: packet.TypeRequestUser})
	h.closeSession(ctx, s)
	return nil
}

func isCodeValid(code codes.ErrorCode) bool {
	switch code {
	case codes.CompleteOk, codes.InitOk, codes.PostProcessingOk, codes.PreProcessingOk,
		codes.QueryAlreadyFinished, codes.QueryStillRunning, codes.Running, codes.TransferOk:
		return true
	}
	return false
}

func parseRestartTime(v string) time.Time {
	for _, layout := range []string{time.RFC3339, "20060102150405"} {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ============================================================================
// JSON commands
// ============================================================================

func (a *DefaultAdmin) JSON(ctx context.Context, s *session.Session, p *packet.JSONRequest) error {
	switch p.SubType {
	case packet.TypeStop, packet.TypeCancel, packet.TypeValid:
		var cmd TransferCommand
		if err := p.Decode(&cmd); err != nil {
			return wrapError(KindBusiness, codes.IncorrectCommand, "Incorrect JSON request", err)
		}
		middle := cmd.Requested + " " + cmd.Requester + " " + strconv.FormatInt(cmd.SpecialID, 10)
		s.SetStatus(session.StateValidOther, session.RoleNone)
		var (
			code codes.ErrorCode
			err  error
		)
		if p.SubType == packet.TypeValid {
			var at time.Time
			if cmd.RestartAt != "" {
				at = parseRestartTime(cmd.RestartAt)
			}
			code, err = a.restart(ctx, s, cmd.Requested, cmd.Requester, cmd.SpecialID, at)
			if err == nil && !isCodeValid(code) {
				err = newError(KindBusiness, code, code.Message())
			}
			return a.answerCommand(ctx, s, middle, code, p, err)
		}
		code, err = a.stopOrCancel(ctx, s, p.SubType, cmd.Requested, cmd.Requester, cmd.SpecialID)
		if err != nil {
			return err
		}
		return a.answerCommand(ctx, s, middle, code, p, nil)

	case packet.TypeInformation:
		var info packet.Information
		if err := p.Decode(&info); err != nil {
			return wrapError(KindBusiness, codes.IncorrectCommand, "Incorrect JSON request", err)
		}
		s.SetStatus(session.StateInformation, session.RoleNone)
		return a.Information(ctx, s, &info)
	}
	return handleUnimplemented(ctx, a.h, s, &packet.Raw{Kind: p.SubType})
}

// ============================================================================
// Information
// ============================================================================

// FileEntry describes one file in an information answer.
type FileEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modtime"`
}

func (a *DefaultAdmin) Information(ctx context.Context, s *session.Session, p *packet.Information) error {
	h := a.h
	var (
		body []byte
		err  error
	)
	if p.Mode == packet.InfoRequestCheck {
		body, err = a.transferInfo(ctx, s, p)
	} else {
		body, err = a.fileInfo(p)
	}
	if err != nil {
		logger.InfoCtx(ctx, "information request failed", logger.Err(err))
		perr := asError(err)
		code := perr.ErrorCode()
		if perr.Kind == KindInternal {
			code = codes.Internal
		}
		s.SetStatus(session.StateError, session.RoleNone)
		r := session.Result{Code: code, Err: perr, Answered: true, Descriptor: s.Descriptor()}
		s.InvalidateRequest(r)
		h.sendError(ctx, s, "Error while Request "+strconv.Itoa(int(p.Mode))+": "+perr.Error(), code)
		h.closeSession(ctx, s)
		return nil
	}

	r := session.NewResult(codes.CompleteOk, s.Descriptor())
	r.Other = string(body)
	s.ValidateRequest(r)
	_ = h.send(ctx, s, &packet.Valid{Header: string(body), Middle: codes.CompleteOk.String(),
		SubType: packet.TypeInformation})
	h.closeSession(ctx, s)
	return nil
}

// transferInfo answers a request check: Rule carries the transfer ID and
// Filename, when set, the requested host.
func (a *DefaultAdmin) transferInfo(ctx context.Context, s *session.Session, p *packet.Information) ([]byte, error) {
	h := a.h
	id, err := strconv.ParseInt(strings.TrimSpace(p.Rule), 10, 64)
	if err != nil {
		return nil, wrapError(KindBusiness, codes.IncorrectCommand, "Incorrect transfer id", err)
	}
	partner := s.HostID()
	candidates := [][2]string{{partner, h.cfg.HostID}, {h.cfg.HostID, partner}}
	if p.Filename != "" {
		candidates = [][2]string{{partner, p.Filename}, {p.Filename, partner}}
	}
	for _, c := range candidates {
		d, err := h.store.GetDescriptor(ctx, id, c[0], c[1])
		if errors.Is(err, transfer.ErrDescriptorNotFound) {
			continue
		}
		if err != nil {
			return nil, wrapError(KindInternal, codes.Internal, "cannot load transfer", err)
		}
		return json.Marshal(d)
	}
	return nil, newError(KindNoData, codes.FileNotFound, "Transfer not found")
}

// fileInfo answers a file information request on the rule's send directory.
func (a *DefaultAdmin) fileInfo(p *packet.Information) ([]byte, error) {
	h := a.h
	rule, err := h.rules.Get(p.Rule)
	if err != nil {
		return nil, wrapError(KindBusiness, codes.QueryRemotelyUnknown, "Rule unknown", err)
	}
	dir := h.sendDir(rule)

	switch p.Mode {
	case packet.InfoFileInfo:
		name, err := dir.Resolve(p.Filename)
		if err != nil {
			return nil, wrapError(KindBusiness, codes.FileNotAllowed, "File not allowed", err)
		}
		fi, err := h.fs.Stat(name)
		if err != nil {
			return nil, wrapError(KindNoData, codes.FileNotFound, "File not found", err)
		}
		return json.Marshal(FileEntry{Name: fi.Name(), Size: fi.Size(), ModTime: fi.ModTime()})

	case packet.InfoFileList, packet.InfoFileMList, packet.InfoFileMListDir:
		names, err := dir.List(p.Filename)
		if err != nil {
			return nil, wrapError(KindNoData, codes.FileNotFound, "Directory not readable", err)
		}
		if p.Mode == packet.InfoFileList {
			return json.Marshal(names)
		}
		entries := make([]FileEntry, 0, len(names))
		for _, n := range names {
			full, err := dir.Resolve(n)
			if err != nil {
				continue
			}
			fi, err := h.fs.Stat(full)
			if err != nil {
				continue
			}
			entries = append(entries, FileEntry{Name: n, Size: fi.Size(), ModTime: fi.ModTime()})
		}
		return json.Marshal(entries)
	}
	return nil, newError(KindBusiness, codes.IncorrectCommand, "Unknown information mode")
}

// ============================================================================
// Block requests
// ============================================================================

func (a *DefaultAdmin) BlockRequest(ctx context.Context, s *session.Session, p *packet.BlockRequest) error {
	h := a.h
	partner := s.Partner()
	if partner == nil || !partner.Admin || len(h.cfg.AdminKey) == 0 || string(p.Key) != string(h.cfg.AdminKey) {
		return newError(KindBusiness, codes.BadAuthent, "Not correctly authenticated")
	}
	h.registry.SetBlocked(p.Block)
	msg := "Unblock new request"
	if p.Block {
		msg = "Block new request"
	}
	logger.WarnCtx(ctx, msg, logger.HostID(partner.HostID))
	s.SetStatus(session.StateValidOther, session.RoleNone)
	r := session.NewResult(codes.CompleteOk, s.Descriptor())
	r.Other = msg
	s.ValidateRequest(r)
	_ = h.send(ctx, s, &packet.Valid{Header: msg, Middle: codes.CompleteOk.String(), SubType: packet.TypeBlockRequest})
	h.closeSession(ctx, s)
	return nil
}
