// Package codes defines the single-character result codes exchanged between
// MFT peers in Error, ConnectError, RequestUser and Request packets.
package codes

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode is a transfer or protocol result code.
//
// On the wire an ErrorCode travels as one ASCII character (for example 'O' for
// CompleteOk). Not every code denotes a failure: IsError distinguishes the
// informational codes from the real errors.
type ErrorCode byte

const (
	// Success and progress codes

	// InitOk indicates the request was negotiated successfully.
	InitOk ErrorCode = 'i'

	// PreProcessingOk indicates pre tasks completed.
	PreProcessingOk ErrorCode = 'B'

	// TransferOk indicates all data blocks were exchanged.
	TransferOk ErrorCode = 'X'

	// PostProcessingOk indicates post tasks completed.
	PostProcessingOk ErrorCode = 'P'

	// CompleteOk indicates the whole request finished.
	CompleteOk ErrorCode = 'O'

	// Connection and authentication

	ConnectionImpossible ErrorCode = 'C'
	ServerOverloaded     ErrorCode = 'l'
	BadAuthent           ErrorCode = 'A'
	NotKnownHost         ErrorCode = 'N'
	Disconnection        ErrorCode = 'D'
	RemoteShutdown       ErrorCode = 'r'
	Shutdown             ErrorCode = 'S'

	// Negotiation

	QueryAlreadyFinished  ErrorCode = 'Q'
	QueryStillRunning     ErrorCode = 's'
	LoopSelfRequestedHost ErrorCode = 'L'
	QueryRemotelyUnknown  ErrorCode = 'u'
	CommandNotFound       ErrorCode = 'c'
	IncorrectCommand      ErrorCode = 'n'
	Unimplemented         ErrorCode = 'U'
	PassThroughMode       ErrorCode = 'p'

	// Transfer

	ExternalOp       ErrorCode = 'E'
	TransferError    ErrorCode = 'T'
	MD5Error         ErrorCode = 'M'
	FileNotFound     ErrorCode = 'f'
	FileNotAllowed   ErrorCode = 'a'
	SizeNotAllowed   ErrorCode = 'd'
	StoppedTransfer  ErrorCode = 'H'
	CanceledTransfer ErrorCode = 'K'
	Running          ErrorCode = 'z'

	// Finalization

	FinalOp     ErrorCode = 'F'
	RemoteError ErrorCode = 'R'
	Internal    ErrorCode = 'I'
	Warning     ErrorCode = 'W'
	Unknown     ErrorCode = '-'
)

var messages = map[ErrorCode]string{
	InitOk:                "Initialization step ok",
	PreProcessingOk:       "Preprocessing step ok",
	TransferOk:            "Transfer step ok",
	PostProcessingOk:      "Postprocessing step ok",
	CompleteOk:            "Operation completed",
	ConnectionImpossible:  "Connection is impossible",
	ServerOverloaded:      "Server is overloaded",
	BadAuthent:            "Bad authentication",
	NotKnownHost:          "Host is not known",
	Disconnection:         "Disconnection before end",
	RemoteShutdown:        "Remote shutdown",
	Shutdown:              "Shutdown in progress",
	QueryAlreadyFinished:  "Query is already finished",
	QueryStillRunning:     "Query is still running",
	LoopSelfRequestedHost: "Loop on self requested host",
	QueryRemotelyUnknown:  "Query is unknown on remote host",
	CommandNotFound:       "Command not found",
	IncorrectCommand:      "Incorrect command",
	Unimplemented:         "Command not implemented",
	PassThroughMode:       "Error in pass through mode",
	ExternalOp:            "External operation in error",
	TransferError:         "Bad transmission",
	MD5Error:              "Hash in error",
	FileNotFound:          "File not found",
	FileNotAllowed:        "File not allowed",
	SizeNotAllowed:        "Size not allowed",
	StoppedTransfer:       "Transfer stopped",
	CanceledTransfer:      "Transfer cancelled",
	Running:               "Current step in running",
	FinalOp:               "Final operation on transfer in error",
	RemoteError:           "Error due to remote",
	Internal:              "Internal error",
	Warning:               "Warning during transfer",
	Unknown:               "Unknown status",
}

// FromChar maps a wire character to its ErrorCode. Unknown characters map to Unknown.
func FromChar(c byte) ErrorCode {
	if _, ok := messages[ErrorCode(c)]; ok {
		return ErrorCode(c)
	}
	return Unknown
}

// FromString maps the first character of s to its ErrorCode.
func FromString(s string) ErrorCode {
	if s == "" {
		return Unknown
	}
	return FromChar(s[0])
}

// Char returns the wire character.
func (c ErrorCode) Char() byte { return byte(c) }

// String returns the single-character wire form.
func (c ErrorCode) String() string { return string(rune(c)) }

// Message returns a human-readable description.
func (c ErrorCode) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[Unknown]
}

// IsError reports whether the code denotes a failure.
func (c ErrorCode) IsError() bool {
	switch c {
	case CompleteOk, InitOk, PostProcessingOk, PreProcessingOk, Running, TransferOk, Unknown, Warning:
		return false
	}
	return true
}

// IsRequestUserSuccess reports whether a RequestUser answer carrying c
// should validate the pending request.
func (c ErrorCode) IsRequestUserSuccess() bool {
	switch c {
	case CompleteOk, InitOk, PostProcessingOk, PreProcessingOk,
		QueryAlreadyFinished, QueryStillRunning, Running, TransferOk:
		return true
	}
	return false
}
