package handlers

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/marmos91/dittomft/internal/adapter/mft/session"
	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/digest"
	"github.com/marmos91/dittomft/pkg/files"
	"github.com/marmos91/dittomft/pkg/transfer"
	"github.com/marmos91/dittomft/pkg/transfer/tasks"
)

// =============================================================================
// Persistence
// =============================================================================

// save persists a snapshot of the session's descriptor.
func (h *Handler) save(ctx context.Context, s *session.Session) error {
	var snap *transfer.Descriptor
	s.WithDescriptor(func(d *transfer.Descriptor) {
		if d != nil {
			snap = d.Clone()
		}
	})
	if snap == nil {
		return nil
	}
	return h.SaveDescriptor(ctx, snap)
}

// SaveDescriptor persists d.
func (h *Handler) SaveDescriptor(ctx context.Context, d *transfer.Descriptor) error {
	if err := h.store.SaveDescriptor(ctx, d); err != nil {
		logger.WarnCtx(ctx, "cannot save transfer", logger.SpecialID(d.SpecialID), logger.Err(err))
		return err
	}
	return nil
}

// snapshot returns a copy of the session's descriptor, nil when none is bound.
func snapshot(s *session.Session) *transfer.Descriptor {
	var snap *transfer.Descriptor
	s.WithDescriptor(func(d *transfer.Descriptor) {
		if d != nil {
			snap = d.Clone()
		}
	})
	return snap
}

// =============================================================================
// Directories
// =============================================================================

func (h *Handler) workDir(rule *transfer.Rule) *files.Dir {
	if rule != nil && rule.WorkPath != "" {
		return files.NewDir(h.fs, rule.WorkPath)
	}
	return files.NewDir(h.fs, h.cfg.WorkPath)
}

func (h *Handler) recvDir(rule *transfer.Rule) *files.Dir {
	if rule != nil && rule.RecvPath != "" {
		return files.NewDir(h.fs, rule.RecvPath)
	}
	return files.NewDir(h.fs, h.cfg.RecvPath)
}

func (h *Handler) sendDir(rule *transfer.Rule) *files.Dir {
	if rule != nil && rule.SendPath != "" {
		return files.NewDir(h.fs, rule.SendPath)
	}
	return files.NewDir(h.fs, h.cfg.SendPath)
}

// resolveIn maps name into dir. A name already under the directory root is
// kept as is.
func resolveIn(dir *files.Dir, name string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	if strings.HasPrefix(clean, strings.TrimSuffix(dir.Root, "/")+"/") {
		return clean, nil
	}
	return dir.Resolve(name)
}

func (h *Handler) taskEnv(s *session.Session, d *transfer.Descriptor) *tasks.Env {
	env := &tasks.Env{
		Fs:         h.fs,
		Descriptor: d,
		Dir:        h.workDir(s.Rule()),
		LocalHost:  h.cfg.HostID,
		RemoteHost: s.HostID(),
		Objects:    h.objects,
	}
	if f := s.File(); f != nil {
		env.File = f
	}
	return env
}

// =============================================================================
// Startup
// =============================================================================

// startup runs the pre tasks and opens the transfer file, positioned for the
// descriptor's rank.
func (h *Handler) startup(ctx context.Context, s *session.Session, rule *transfer.Rule) error {
	d := s.Descriptor()
	if d == nil {
		return newError(KindInternal, codes.Internal, "no transfer bound")
	}

	if d.GlobalStep == transfer.StepNone || d.GlobalStep == transfer.StepPre {
		var err error
		s.WithDescriptor(func(d *transfer.Descriptor) {
			d.SetPreTask()
			err = tasks.Run(ctx, h.taskEnv(s, d), rule.PreTasks(d.IsSender))
			if err == nil {
				d.SetTransferTask(d.Rank)
			}
		})
		if err != nil {
			return err
		}
		_ = h.save(ctx, s)
	}

	if d.IsSendThrough() || d.IsRecvThrough() {
		return nil
	}
	if err := h.openFile(ctx, s, rule); err != nil {
		return err
	}

	if d.LastGlobalStep == transfer.StepTransfer {
		if !d.IsSender {
			if err := h.checkFreeSpace(s, rule); err != nil {
				return err
			}
			if err := h.checkPosition(s); err != nil {
				return err
			}
		}
		f := s.File()
		var offset int64
		s.WithDescriptor(func(d *transfer.Descriptor) {
			offset = int64(d.BlockSize) * int64(d.Rank)
		})
		if err := f.RestartMarker(offset); err != nil {
			return wrapError(KindRunner, codes.TransferError, "cannot restart at rank", err)
		}
	}
	return h.save(ctx, s)
}

// openFile binds the transfer file. A sender opens the source; a receiver
// opens its in-progress file in the work directory.
func (h *Handler) openFile(ctx context.Context, s *session.Session, rule *transfer.Rule) error {
	d := s.Descriptor()
	if d.IsSender {
		name, err := resolveIn(h.sendDir(rule), d.Filename)
		if err != nil {
			return wrapError(KindRunner, codes.FileNotAllowed, "File not allowed", err)
		}
		f, err := files.Open(h.fs, name)
		if err != nil {
			if errors.Is(err, files.ErrNotFound) {
				return wrapError(KindRunner, codes.FileNotFound, "File not found", err)
			}
			return wrapError(KindRunner, codes.Internal, "cannot open file", err)
		}
		s.SetFile(f)
		if size, err := f.Length(); err == nil {
			s.WithDescriptor(func(d *transfer.Descriptor) {
				d.Filename = name
				d.OriginalSize = size
			})
		}
		logger.DebugCtx(ctx, "source opened", logger.Path(name))
		return nil
	}

	name, err := h.workDir(rule).TempName(d.OriginalFilename, d.SpecialID, d.Requester)
	if err != nil {
		return wrapError(KindRunner, codes.FileNotAllowed, "File not allowed", err)
	}
	f, err := files.Create(h.fs, name)
	if err != nil {
		return wrapError(KindRunner, codes.Internal, "cannot create file", err)
	}
	s.SetFile(f)
	s.WithDescriptor(func(d *transfer.Descriptor) {
		d.Filename = name
	})
	logger.DebugCtx(ctx, "receive file opened", logger.Path(name))
	return nil
}

func (h *Handler) checkFreeSpace(s *session.Session, rule *transfer.Rule) error {
	d := snapshot(s)
	if d.OriginalSize <= 0 {
		return nil
	}
	free, err := files.FreeSpace(h.fs, h.workDir(rule).Root)
	if err != nil || free < 0 {
		return nil
	}
	need := d.OriginalSize - int64(d.BlockSize)*int64(d.Rank)
	if need > free {
		return newError(KindRunner, codes.SizeNotAllowed, "Not enough free space")
	}
	return nil
}

// checkPosition rewinds the rank when the in-progress file is shorter than
// the restart position.
func (h *Handler) checkPosition(s *session.Session) error {
	f := s.File()
	length, err := f.Length()
	if err != nil {
		return nil
	}
	s.WithDescriptor(func(d *transfer.Descriptor) {
		if d.BlockSize <= 0 {
			return
		}
		if int64(d.BlockSize)*int64(d.Rank) > length {
			d.Rank = int32(length / int64(d.BlockSize))
		}
	})
	return nil
}

// renameReceiverFile adopts a new name for the received file. It is refused
// once data has been written.
func (h *Handler) renameReceiverFile(s *session.Session, name string) error {
	d := snapshot(s)
	if d == nil {
		return nil
	}
	if d.Rank > 0 {
		return newError(KindRunner, codes.FileNotAllowed, "Transfer already started")
	}
	s.WithDescriptor(func(d *transfer.Descriptor) {
		d.OriginalFilename = name
	})
	f := s.File()
	if f == nil {
		return nil
	}
	target, err := h.workDir(s.Rule()).TempName(name, d.SpecialID, d.Requester)
	if err != nil {
		return wrapError(KindRunner, codes.FileNotAllowed, "File not allowed", err)
	}
	if err := f.RenameTo(target); err != nil {
		return wrapError(KindRunner, codes.FileNotFound, "cannot rename file", err)
	}
	s.WithDescriptor(func(d *transfer.Descriptor) {
		d.Filename = target
	})
	return nil
}

// deleteTempFile removes the partial file of a receiver that never got
// past rank 0.
func (h *Handler) deleteTempFile(s *session.Session) {
	d := snapshot(s)
	if d == nil || d.IsSender || d.Rank != 0 || d.IsRecvThrough() {
		return
	}
	if f := s.File(); f != nil {
		if err := f.Delete(); err != nil {
			logger.Debug("cannot delete temporary file", logger.Path(f.Path()), logger.Err(err))
		}
	}
}

// addError counts a rank mismatch and reports whether more are tolerated.
func (h *Handler) addError(s *session.Session) bool {
	return s.AddMismatch() <= h.cfg.MaxRankMismatch
}

func closeFile(s *session.Session) error {
	var err error
	if f := s.File(); f != nil {
		err = f.Close()
	}
	if rt := s.RecvThrough(); rt != nil {
		if cerr := rt.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// =============================================================================
// Finalization
// =============================================================================

// setFinalizeTransfer closes the data phase with status and runs the post
// or error processing.
func (h *Handler) setFinalizeTransfer(ctx context.Context, s *session.Session, status bool, r session.Result) error {
	biz := s.Business()
	d := s.Descriptor()
	if d == nil {
		if status {
			s.ValidateRequest(r)
			_ = biz.CheckAfterTransfer(ctx, s)
		} else {
			s.InvalidateRequest(r)
			biz.CheckAtError(ctx, s)
		}
		return nil
	}
	if status {
		if err := biz.CheckAfterTransfer(ctx, s); err != nil {
			status = false
			r = session.Result{Code: codes.ExternalOp, Err: err, Descriptor: d}
		}
	} else {
		biz.CheckAtError(ctx, s)
	}

	var finished bool
	s.WithDescriptor(func(d *transfer.Descriptor) {
		finished = d.IsAllDone() || d.IsInError()
	})
	if finished || s.RequestSignal().IsDone() {
		return nil
	}

	if !status {
		h.deleteTempFile(s)
	}
	var ready bool
	s.WithDescriptor(func(d *transfer.Descriptor) {
		if status {
			d.FinishTransferTask(codes.TransferOk)
		} else {
			d.SetErrorExecutionStatus(r.Code)
			d.FinishTransferTask(r.Code)
		}
		ready = d.Ready()
	})
	_ = h.save(ctx, s)

	if !ready {
		err := wrapError(KindRunner, r.Code, "Pre task in error (or even before)", r.Err)
		r.Err = err
		logger.InfoCtx(ctx, "pre task in error (or even before)", logger.Err(r.Err))
		s.InvalidateRequest(r)
		return err
	}

	if err := closeFile(s); err != nil {
		if status {
			r = session.Result{Code: codes.Internal, Err: err, Descriptor: d}
		}
		s.InvalidateRequest(r)
		return wrapError(KindInternal, r.Code, "cannot close file", err)
	}

	if err := h.finalizeTransfer(ctx, s, status, r); err != nil {
		return err
	}
	if status {
		if err := biz.CheckAfterPost(ctx, s); err != nil {
			return wrapError(KindBusiness, codes.ExternalOp, "post processing refused", err)
		}
	}
	return nil
}

// finalizeTransfer runs the post tasks, moving a received file to its final
// place, or the error tasks.
func (h *Handler) finalizeTransfer(ctx context.Context, s *session.Session, status bool, r session.Result) error {
	if !status {
		return h.errorTransfer(ctx, s, r)
	}
	rule := s.Rule()
	d := s.Descriptor()

	s.WithDescriptor(func(d *transfer.Descriptor) { d.SetPostTask() })
	_ = h.save(ctx, s)

	if !d.IsSender && !d.IsRecvThrough() {
		if err := h.moveReceivedFile(ctx, s, rule); err != nil {
			r = session.Result{Code: codes.FinalOp, Err: err, Descriptor: d, Answered: r.Answered}
			_ = h.errorTransfer(ctx, s, r)
			return wrapError(KindRunner, codes.FinalOp, "cannot move received file", err)
		}
		if err := h.checkLocalDigest(ctx, s); err != nil {
			r = session.Result{Code: codes.FinalOp, Err: err, Descriptor: d, Answered: r.Answered}
			_ = h.errorTransfer(ctx, s, r)
			return err
		}
	}
	if !d.IsSendThrough() && !d.IsRecvThrough() {
		if f := s.File(); f == nil || !f.Exists() {
			r = session.Result{Code: codes.FileNotFound, Descriptor: d, Answered: r.Answered,
				Err: newError(KindRunner, codes.FileNotFound, "File not found")}
			_ = h.errorTransfer(ctx, s, r)
			return r.Err
		}
	}

	var err error
	s.WithDescriptor(func(d *transfer.Descriptor) {
		var specs []transfer.TaskSpec
		if rule != nil {
			specs = rule.PostTasks(d.IsSender)
		}
		err = tasks.Run(ctx, h.taskEnv(s, d), specs)
	})
	if err != nil {
		perr := asError(err)
		r = session.Result{Code: perr.ErrorCode(), Err: err, Descriptor: d, Answered: r.Answered}
		_ = h.errorTransfer(ctx, s, r)
		return perr
	}

	s.WithDescriptor(func(d *transfer.Descriptor) {
		d.SetStepStatus(codes.PostProcessingOk)
		d.InfoStatus = codes.TransferOk
	})
	_ = h.save(ctx, s)
	res := session.NewResult(codes.TransferOk, d)
	if f := s.File(); f != nil {
		res.File = f.Path()
	}
	s.ValidateEndTransfer(res)
	return nil
}

func (h *Handler) moveReceivedFile(ctx context.Context, s *session.Session, rule *transfer.Rule) error {
	f := s.File()
	if f == nil {
		return files.ErrNotFound
	}
	d := snapshot(s)
	target, err := h.recvDir(rule).UniqueName(path.Base(d.OriginalFilename))
	if err != nil {
		return err
	}
	if err := f.RenameTo(target); err != nil {
		return err
	}
	s.WithDescriptor(func(d *transfer.Descriptor) {
		d.Filename = target
		d.FileMoved = true
	})
	logger.DebugCtx(ctx, "received file moved", logger.Path(target))
	return nil
}

// checkLocalDigest re-hashes the file in place and compares it with the hash
// computed while receiving.
func (h *Handler) checkLocalDigest(ctx context.Context, s *session.Session) error {
	if !h.cfg.LocalDigest {
		return nil
	}
	hash, partial := s.TransferHash()
	if hash == "" || partial {
		return nil
	}
	f := s.File()
	in, err := h.fs.Open(f.Path())
	if err != nil {
		return wrapError(KindRunner, codes.FinalOp, "cannot read received file", err)
	}
	defer in.Close()
	sum, err := digest.SumReader(h.cfg.DigestAlgo, in)
	if err != nil {
		return wrapError(KindRunner, codes.FinalOp, "cannot read received file", err)
	}
	if !strings.EqualFold(digest.Hex(sum), hash) {
		h.recordDigestFailure()
		logger.WarnCtx(ctx, "final digest mismatch", logger.Path(f.Path()))
		return newError(KindRunner, codes.FinalOp, "Bad final digest on receive operation")
	}
	return nil
}

// errorTransfer runs the error processing of a failed transfer.
func (h *Handler) errorTransfer(ctx context.Context, s *session.Session, r session.Result) error {
	rule := s.Rule()
	var runTasks bool
	s.WithDescriptor(func(d *transfer.Descriptor) {
		switch {
		case r.Code == codes.CanceledTransfer:
			d.Rank = 0
		case r.Code == codes.StoppedTransfer || r.Code == codes.Shutdown:
		default:
			runTasks = d.GlobalStep != transfer.StepError
		}
	})
	if r.Code == codes.CanceledTransfer {
		h.deleteTempFile(s)
		r.Answered = true
	}
	if r.Code == codes.StoppedTransfer || r.Code == codes.Shutdown {
		r.Answered = true
	}

	if runTasks {
		msg := r.Code.Message()
		if r.Err != nil {
			msg = r.Err.Error()
		}
		s.SetErrorMessage(msg, r.Code)
		if !r.Answered {
			h.sendError(ctx, s, msg, r.Code)
			r.Answered = true
		}
		var err error
		s.WithDescriptor(func(d *transfer.Descriptor) {
			d.SetErrorTask()
		})
		_ = h.save(ctx, s)
		s.WithDescriptor(func(d *transfer.Descriptor) {
			var specs []transfer.TaskSpec
			if rule != nil {
				specs = rule.ErrorTasks(d.IsSender)
			}
			err = tasks.Run(ctx, h.taskEnv(s, d), specs)
		})
		if err != nil {
			logger.WarnCtx(ctx, "error tasks failed", logger.Err(err))
		}
	}

	s.WithDescriptor(func(d *transfer.Descriptor) {
		d.ChangeUpdatedInfo(transfer.InfoInError)
		d.SetErrorExecutionStatus(r.Code)
		if d.GlobalStep == transfer.StepError {
			d.SetStepStatus(r.Code)
		}
	})
	_ = h.save(ctx, s)
	s.InvalidateRequest(r)
	return nil
}

// tryFinalizeRequest resolves the request from what the descriptor already
// achieved: completed, transferred, or failed with r.
func (h *Handler) tryFinalizeRequest(ctx context.Context, s *session.Session, r session.Result) {
	if s.RequestSignal().IsDone() {
		return
	}
	d := snapshot(s)
	if d == nil {
		s.InvalidateRequest(r)
		return
	}

	switch {
	case d.InfoStatus == codes.CompleteOk:
		s.WithDescriptor(func(d *transfer.Descriptor) { d.SetAllDone() })
		_ = h.save(ctx, s)
		s.ValidateRequest(session.NewResult(codes.CompleteOk, s.Descriptor()))

	case d.InfoStatus == codes.TransferOk && (!d.IsSender || r.Code == codes.QueryAlreadyFinished):
		err := h.setFinalizeTransfer(ctx, s, true, session.Result{Code: codes.CompleteOk, Answered: true, Descriptor: s.Descriptor()})
		if err == nil {
			s.ValidateRequest(s.EndTransferSignal().Result())
			return
		}
		logger.WarnCtx(ctx, "cannot validate transfer", logger.Err(err))
		s.WithDescriptor(func(d *transfer.Descriptor) {
			d.ChangeUpdatedInfo(transfer.InfoInError)
			d.SetErrorExecutionStatus(r.Code)
		})
		_ = h.save(ctx, s)
		_ = h.setFinalizeTransfer(ctx, s, false, r)

	default:
		logger.InfoCtx(ctx, "transfer interrupted",
			logger.SpecialID(d.SpecialID), logger.ErrorCode(byte(r.Code)))
		_ = h.setFinalizeTransfer(ctx, s, false, r)
	}
}

// FinalizeShutdown closes the transfer of s as interrupted by shutdown.
func (h *Handler) FinalizeShutdown(ctx context.Context, s *session.Session, r session.Result) {
	if r.Err == nil {
		r.Err = newError(KindShutdown, codes.Shutdown, "Shutdown forced")
	}
	r.Answered = true
	h.tryFinalizeRequest(ctx, s, r)
}
