package handlers

import (
	"errors"
	"fmt"

	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/pkg/adapter"
	"github.com/marmos91/dittomft/pkg/transfer/tasks"
)

// Kind classifies an engine error for the dispatch boundary.
type Kind int

const (
	// KindInternal is an unexpected local failure.
	KindInternal Kind = iota
	// KindNoConnection means no local session could be opened.
	KindNoConnection
	// KindCancel is a transfer cancelled by the partner or an operator.
	KindCancel
	// KindStop is a transfer stopped by the partner or an operator.
	KindStop
	// KindAlreadyFinished means the partner already completed the transfer.
	KindAlreadyFinished
	// KindStillRunning means the partner still runs the transfer elsewhere.
	KindStillRunning
	// KindRemoteFileNotFound means the partner could not find the file.
	KindRemoteFileNotFound
	// KindRunner is a pre, post or error task failure.
	KindRunner
	// KindNotAuthenticated is a packet received before authentication.
	KindNotAuthenticated
	// KindNetwork is a transport failure.
	KindNetwork
	// KindRemoteShutdown means the partner is shutting down.
	KindRemoteShutdown
	// KindNoData means a requested item does not exist.
	KindNoData
	// KindShutdown asks for the process-wide shutdown.
	KindShutdown
	// KindNoWriteBack is a failure the partner must not be told about.
	KindNoWriteBack
	// KindBusiness is a refusal by protocol rules or business hooks.
	KindBusiness
)

var kindNames = map[Kind]string{
	KindInternal:           "internal",
	KindNoConnection:       "no connection",
	KindCancel:             "cancel",
	KindStop:               "stop",
	KindAlreadyFinished:    "already finished",
	KindStillRunning:       "still running",
	KindRemoteFileNotFound: "remote file not found",
	KindRunner:             "runner",
	KindNotAuthenticated:   "not authenticated",
	KindNetwork:            "network",
	KindRemoteShutdown:     "remote shutdown",
	KindNoData:             "no data",
	KindShutdown:           "shutdown",
	KindNoWriteBack:        "no write back",
	KindBusiness:           "business",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the typed error returned by packet handlers.
type Error struct {
	Kind Kind
	// Status is the result code to report, codes.Unknown when the kind
	// decides it.
	Status codes.ErrorCode
	Msg    string
	Err    error
}

var _ adapter.ProtocolError = (*Error)(nil)

func newError(kind Kind, status codes.ErrorCode, msg string) *Error {
	return &Error{Kind: kind, Status: status, Msg: msg}
}

func wrapError(kind Kind, status codes.ErrorCode, msg string, err error) *Error {
	return &Error{Kind: kind, Status: status, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Kind.String()
}

// Code returns the wire code as a number.
func (e *Error) Code() uint32 { return uint32(e.ErrorCode()) }

// Message returns the text sent to the partner.
func (e *Error) Message() string { return e.Error() }

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode returns Status, or a code derived from the kind when unset.
func (e *Error) ErrorCode() codes.ErrorCode {
	if e.Status != codes.Unknown && e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindNoConnection:
		return codes.ConnectionImpossible
	case KindCancel:
		return codes.CanceledTransfer
	case KindStop:
		return codes.StoppedTransfer
	case KindAlreadyFinished:
		return codes.QueryAlreadyFinished
	case KindStillRunning:
		return codes.QueryStillRunning
	case KindRemoteFileNotFound, KindNoData:
		return codes.FileNotFound
	case KindRunner:
		return codes.ExternalOp
	case KindNotAuthenticated:
		return codes.BadAuthent
	case KindNetwork:
		return codes.Disconnection
	case KindRemoteShutdown:
		return codes.RemoteShutdown
	case KindShutdown:
		return codes.Shutdown
	}
	return codes.Internal
}

// asError converts any handler failure to an *Error.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var te *tasks.Error
	if errors.As(err, &te) {
		return wrapError(KindRunner, te.Code, "", err)
	}
	return wrapError(KindInternal, codes.Unknown, "", err)
}
