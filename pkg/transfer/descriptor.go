// Package transfer holds the persisted state of managed file transfers: the
// transfer descriptor, the partner hosts and the transfer rules, together with
// the Store contract the protocol engine persists them through.
package transfer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
)

// Step is the global stage a transfer has reached.
type Step int

const (
	StepNone     Step = 0
	StepPre      Step = 1
	StepTransfer Step = 2
	StepPost     Step = 3
	StepAllDone  Step = 4
	StepError    Step = 5
)

func (s Step) String() string {
	switch s {
	case StepNone:
		return "NOTASK"
	case StepPre:
		return "PRETASK"
	case StepTransfer:
		return "TRANSFERTASK"
	case StepPost:
		return "POSTTASK"
	case StepAllDone:
		return "ALLDONETASK"
	case StepError:
		return "ERRORTASK"
	}
	return "Step(" + strconv.Itoa(int(s)) + ")"
}

// UpdatedInfo is the scheduling status of a descriptor.
type UpdatedInfo int

const (
	InfoUnknown UpdatedInfo = iota
	InfoNotUpdated
	InfoInterrupted
	InfoToSubmit
	InfoInError
	InfoRunning
	InfoDone
)

var updatedInfoNames = [...]string{
	InfoUnknown:     "UNKNOWN",
	InfoNotUpdated:  "NOTUPDATED",
	InfoInterrupted: "INTERRUPTED",
	InfoToSubmit:    "TOSUBMIT",
	InfoInError:     "INERROR",
	InfoRunning:     "RUNNING",
	InfoDone:        "DONE",
}

func (u UpdatedInfo) String() string {
	if u >= 0 && int(u) < len(updatedInfoNames) {
		return updatedInfoNames[u]
	}
	return "UpdatedInfo(" + strconv.Itoa(int(u)) + ")"
}

// ParseUpdatedInfo is the inverse of UpdatedInfo.String, case-insensitive.
func ParseUpdatedInfo(s string) (UpdatedInfo, bool) {
	for i, name := range updatedInfoNames {
		if strings.EqualFold(name, s) {
			return UpdatedInfo(i), true
		}
	}
	return InfoUnknown, false
}

// Descriptor is the persisted record of one transfer.
//
// A descriptor is identified by (SpecialID, Requester, Requested); Owner is the
// host that persisted it. The rank is the index of the next block to send or
// receive and is the resumption checkpoint.
type Descriptor struct {
	SpecialID        int64           `gorm:"primaryKey;autoIncrement:false" json:"special_id"`
	Requester        string          `gorm:"primaryKey;size:255" json:"requester"`
	Requested        string          `gorm:"primaryKey;size:255" json:"requested"`
	Owner            string          `gorm:"size:255;index" json:"owner"`
	Rule             string          `gorm:"size:255;index" json:"rule"`
	Mode             packet.Mode     `json:"mode"`
	IsSender         bool            `json:"is_sender"`
	Filename         string          `gorm:"size:4096" json:"filename"`
	OriginalFilename string          `gorm:"size:4096" json:"original_filename"`
	FileInfo         string          `json:"file_info,omitempty"`
	TransferInfo     string          `json:"transfer_info,omitempty"`
	FileMoved        bool            `json:"file_moved"`
	BlockSize        int32           `json:"block_size"`
	Rank             int32           `json:"rank"`
	OriginalSize     int64           `json:"original_size"`
	GlobalStep       Step            `gorm:"index" json:"global_step"`
	LastGlobalStep   Step            `json:"last_global_step"`
	TaskStep         int             `json:"task_step"`
	StepStatus       codes.ErrorCode `json:"step_status"`
	InfoStatus       codes.ErrorCode `json:"info_status"`
	UpdatedInfo      UpdatedInfo     `gorm:"index" json:"updated_info"`
	StartAt          time.Time       `json:"start_at"`
	StopAt           time.Time       `json:"stop_at"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	stopped          bool
	through          throughDirection
}

type throughDirection uint8

const (
	throughNone throughDirection = iota
	throughSend
	throughRecv
)

// TableName returns the table name for Descriptor.
func (Descriptor) TableName() string {
	return "transfers"
}

// NewDescriptor creates a fresh descriptor from a negotiation request.
// isSender tells whether the local host sends the file; owner is the local host ID.
func NewDescriptor(owner, requester, requested string, rule *Rule, isSender bool, req *packet.Request) *Descriptor {
	d := &Descriptor{
		SpecialID:        req.SpecialID,
		Requester:        requester,
		Requested:        requested,
		Owner:            owner,
		Rule:             rule.Name,
		Mode:             req.Mode,
		IsSender:         isSender,
		Filename:         req.Filename,
		OriginalFilename: req.Filename,
		TransferInfo:     req.TransferInfo,
		FileInfo:         req.TransferInfo,
		BlockSize:        req.BlockSize,
		Rank:             req.Rank,
		OriginalSize:     req.OriginalSize,
		GlobalStep:       StepNone,
		LastGlobalStep:   StepNone,
		StepStatus:       codes.Unknown,
		InfoStatus:       codes.Unknown,
		UpdatedInfo:      InfoUnknown,
		StartAt:          time.Now(),
	}
	if d.SpecialID == 0 {
		d.SpecialID = NewSpecialID()
	}
	d.SetThrough(requested == owner)
	return d
}

// Key returns the registry key binding a live session to this descriptor.
func (d *Descriptor) Key() string {
	return TransferKey(d.Requested, d.Requester, d.SpecialID)
}

// TransferKey formats the registry key for a transfer.
func TransferKey(requested, requester string, specialID int64) string {
	return requested + " " + requester + " " + strconv.FormatInt(specialID, 10)
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("transfer %d [%s -> %s] rule=%s mode=%s rank=%d step=%s status=%s",
		d.SpecialID, d.Requester, d.Requested, d.Rule, d.Mode, d.Rank, d.GlobalStep, d.InfoStatus)
}

// =============================================================================
// Role predicates
// =============================================================================

// IsSelfRequest reports whether both ends of the transfer are the local host.
func (d *Descriptor) IsSelfRequest() bool {
	return d.Requester == d.Owner && d.Requested == d.Owner
}

// IsSelfRequested reports whether the local host answered a remote request.
func (d *Descriptor) IsSelfRequested() bool {
	return d.Requested == d.Owner && d.Requester != d.Owner
}

// SetThrough recomputes the pass-through direction. isRequested is true on
// the answering side.
func (d *Descriptor) SetThrough(isRequested bool) {
	switch {
	case packet.IsSendThrough(d.Mode, isRequested):
		d.through = throughSend
	case packet.IsRecvThrough(d.Mode, isRequested):
		d.through = throughRecv
	default:
		d.through = throughNone
	}
}

// IsSendThrough reports whether the local side sends through a handler.
func (d *Descriptor) IsSendThrough() bool { return d.through == throughSend }

// IsRecvThrough reports whether the local side receives through a handler.
func (d *Descriptor) IsRecvThrough() bool { return d.through == throughRecv }

// =============================================================================
// Step predicates
// =============================================================================

func (d *Descriptor) IsAllDone() bool    { return d.GlobalStep == StepAllDone }
func (d *Descriptor) IsInTransfer() bool { return d.GlobalStep == StepTransfer }

// IsInError reports whether error tasks ran to completion.
func (d *Descriptor) IsInError() bool {
	return d.GlobalStep == StepError && d.StepStatus != codes.Running
}

// IsFinished reports whether the descriptor is terminal.
func (d *Descriptor) IsFinished() bool { return d.IsAllDone() || d.IsInError() }

// Ready reports whether pre tasks are over.
func (d *Descriptor) Ready() bool {
	return d.GlobalStep != StepNone && d.GlobalStep != StepPre
}

// ContinueTransfer reports whether data may still be accepted. It turns false
// once the transfer step finished in error.
func (d *Descriptor) ContinueTransfer() bool { return !d.stopped }

// =============================================================================
// Step transitions
// =============================================================================

func (d *Descriptor) stopNow() { d.StopAt = time.Now() }

func (d *Descriptor) stepBack() {
	if d.TaskStep <= 0 {
		d.TaskStep = 0
	} else {
		d.TaskStep--
	}
}

// SetInitialTask resets the descriptor to its first stage.
func (d *Descriptor) SetInitialTask() {
	d.stopNow()
	d.GlobalStep = StepNone
	d.LastGlobalStep = StepNone
	d.TaskStep = -1
	d.StepStatus = codes.Running
	d.InfoStatus = codes.Unknown
	d.UpdatedInfo = InfoRunning
}

// SetPreTask enters the pre-processing stage.
func (d *Descriptor) SetPreTask() {
	d.stopNow()
	d.GlobalStep = StepPre
	d.LastGlobalStep = StepPre
	d.stepBack()
	d.StepStatus = codes.Running
	d.InfoStatus = codes.InitOk
	d.UpdatedInfo = InfoRunning
}

// SetTransferTask enters the data stage, never advancing past rank.
func (d *Descriptor) SetTransferTask(rank int32) {
	d.stopNow()
	d.GlobalStep = StepTransfer
	d.LastGlobalStep = StepTransfer
	if d.Rank > rank {
		d.Rank = rank
	}
	d.StepStatus = codes.Running
	d.InfoStatus = codes.PreProcessingOk
}

// SetPostTask enters the post-processing stage.
func (d *Descriptor) SetPostTask() {
	d.stopNow()
	d.GlobalStep = StepPost
	d.LastGlobalStep = StepPost
	d.stepBack()
	d.StepStatus = codes.Running
	d.InfoStatus = codes.TransferOk
}

// SetErrorTask enters the error-processing stage.
func (d *Descriptor) SetErrorTask() {
	d.stopNow()
	d.GlobalStep = StepError
	d.TaskStep = 0
	d.StepStatus = codes.Running
}

// SetAllDone marks the descriptor as completed.
func (d *Descriptor) SetAllDone() {
	d.stopNow()
	d.GlobalStep = StepAllDone
	d.LastGlobalStep = StepAllDone
	d.TaskStep = 0
	d.StepStatus = codes.CompleteOk
	d.InfoStatus = codes.CompleteOk
	d.UpdatedInfo = InfoDone
}

// SetErrorExecutionStatus records code as the descriptor's status.
func (d *Descriptor) SetErrorExecutionStatus(code codes.ErrorCode) {
	d.stopNow()
	d.InfoStatus = code
}

// SetStepStatus records the status of the current step.
func (d *Descriptor) SetStepStatus(code codes.ErrorCode) {
	d.StepStatus = code
}

// ChangeUpdatedInfo sets the scheduling status.
func (d *Descriptor) ChangeUpdatedInfo(info UpdatedInfo) {
	d.stopNow()
	d.UpdatedInfo = info
}

// FinishTransferTask closes the data stage with code and returns the rank.
func (d *Descriptor) FinishTransferTask(code codes.ErrorCode) int32 {
	d.stopNow()
	if code == codes.TransferOk {
		d.StepStatus = code
		d.InfoStatus = code
		return d.Rank
	}
	d.stopped = true
	switch d.InfoStatus {
	case codes.InitOk, codes.PostProcessingOk, codes.PreProcessingOk, codes.Running, codes.TransferOk:
		d.InfoStatus = code
	}
	if d.UpdatedInfo != InfoInterrupted {
		d.UpdatedInfo = InfoInError
	}
	return d.Rank
}

// IncrementRank accounts one more block. It reports whether the rank reached
// a checkpoint worth persisting.
func (d *Descriptor) IncrementRank() bool {
	d.Rank++
	return d.Rank%10 == 0
}

// SetRankAtStartup lowers the rank to rank; it never raises it.
func (d *Descriptor) SetRankAtStartup(rank int32) {
	if d.Rank > rank {
		d.Rank = rank
	}
}

// RestartRank backs a self-requested receiver off by rankRestart blocks,
// keeping at least rank 1.
func (d *Descriptor) RestartRank(rankRestart int32) {
	if d.IsSender {
		return
	}
	rank := d.Rank
	if rank > 0 {
		rank -= rankRestart
		if rank <= 0 {
			rank = 1
		}
	}
	d.SetTransferTask(rank)
}

// Reset moves an unfinished descriptor back to the start of its last stage.
// It returns false when the descriptor already completed.
func (d *Descriptor) Reset() bool {
	if d.InfoStatus == codes.CompleteOk {
		return false
	}
	switch d.LastGlobalStep {
	case StepPre:
		d.SetPreTask()
		d.StepStatus = codes.InitOk
	case StepTransfer:
		d.SetTransferTask(d.Rank)
		d.StepStatus = codes.PreProcessingOk
	case StepPost:
		d.SetPostTask()
		d.StepStatus = codes.TransferOk
	case StepNone:
		d.SetInitialTask()
		d.StepStatus = codes.Unknown
	}
	d.ChangeUpdatedInfo(InfoUnknown)
	d.InfoStatus = d.StepStatus
	d.stopped = false
	return true
}

// Restart prepares the descriptor to run again. submit schedules it for a
// later run instead of running now. It returns false when the descriptor is
// already finished (and then marks it so).
func (d *Descriptor) Restart(submit bool, rankRestart int32) bool {
	if submit && d.IsSelfRequested() {
		return false
	}
	if d.Reset() {
		if !submit && d.GlobalStep == StepTransfer && !d.IsSender && d.IsSelfRequested() {
			d.RestartRank(rankRestart)
		}
		if submit {
			d.ChangeUpdatedInfo(InfoToSubmit)
		} else {
			d.ChangeUpdatedInfo(InfoRunning)
		}
		return true
	}
	d.SetAllDone()
	d.SetErrorExecutionStatus(codes.QueryAlreadyFinished)
	return false
}

// StopOrCancel interrupts an unfinished descriptor. It reports false when the
// descriptor was already finished.
func (d *Descriptor) StopOrCancel(code codes.ErrorCode) bool {
	if d.IsFinished() {
		return false
	}
	d.Reset()
	switch code {
	case codes.CanceledTransfer, codes.StoppedTransfer, codes.RemoteShutdown:
		d.ChangeUpdatedInfo(InfoInError)
	default:
		d.ChangeUpdatedInfo(InfoInterrupted)
	}
	d.SetErrorExecutionStatus(code)
	return true
}

// Clean releases transient per-run state.
func (d *Descriptor) Clean() {
	d.stopped = false
}

// Clone returns a copy suitable for handing to another goroutine.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	return &c
}
