package packet

import "strings"

// Mode is the transfer mode carried by a Request packet. The mode is always
// expressed from the requester's point of view: Send means the requester
// sends the file.
type Mode int32

const (
	ModeUnknown        Mode = 0
	ModeSend           Mode = 1
	ModeRecv           Mode = 2
	ModeSendMD5        Mode = 3
	ModeRecvMD5        Mode = 4
	ModeSendThrough    Mode = 5
	ModeRecvThrough    Mode = 6
	ModeSendMD5Through Mode = 7
	ModeRecvMD5Through Mode = 8
)

var modeNames = map[Mode]string{
	ModeUnknown:        "UNKNOWNMODE",
	ModeSend:           "SENDMODE",
	ModeRecv:           "RECVMODE",
	ModeSendMD5:        "SENDMD5MODE",
	ModeRecvMD5:        "RECVMD5MODE",
	ModeSendThrough:    "SENDTHROUGHMODE",
	ModeRecvThrough:    "RECVTHROUGHMODE",
	ModeSendMD5Through: "SENDMD5THROUGHMODE",
	ModeRecvMD5Through: "RECVMD5THROUGHMODE",
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return modeNames[ModeUnknown]
}

// ParseMode maps a mode name ("SENDMODE", "send", "recvmd5", ...) to a Mode.
func ParseMode(s string) Mode {
	u := strings.ToUpper(strings.TrimSpace(s))
	if u == "" {
		return ModeUnknown
	}
	for m, n := range modeNames {
		if u == n || u+"MODE" == n {
			return m
		}
	}
	return ModeUnknown
}

// IsRecv reports whether the requester receives the file.
func (m Mode) IsRecv() bool {
	return m == ModeRecv || m == ModeRecvMD5 || m == ModeRecvThrough || m == ModeRecvMD5Through
}

// IsSend reports whether the requester sends the file.
func (m Mode) IsSend() bool {
	return m == ModeSend || m == ModeSendMD5 || m == ModeSendThrough || m == ModeSendMD5Through
}

// IsMD5 reports whether every data block carries its own digest.
func (m Mode) IsMD5() bool {
	return m == ModeSendMD5 || m == ModeRecvMD5 || m == ModeSendMD5Through || m == ModeRecvMD5Through
}

// IsThrough reports whether the mode streams through a handler instead of a file.
func (m Mode) IsThrough() bool {
	return m >= ModeSendThrough && m <= ModeRecvMD5Through
}

// WithMD5 returns the per-block digest variant of m.
func (m Mode) WithMD5() Mode {
	switch m {
	case ModeSend, ModeRecv, ModeSendThrough, ModeRecvThrough:
		return m + 2
	}
	return m
}

// IsCompatible reports whether a request in mode request can run under a rule
// configured with mode rule.
func IsCompatible(rule, request Mode) bool {
	return (rule.IsRecv() && request.IsRecv()) || (rule.IsSend() && request.IsSend())
}

// IsSendThrough reports whether the local side sends in pass-through mode.
// isRequested is true on the side that answers the request, where the
// direction is inverted.
func IsSendThrough(m Mode, isRequested bool) bool {
	if isRequested {
		return m == ModeRecvThrough || m == ModeRecvMD5Through
	}
	return m == ModeSendThrough || m == ModeSendMD5Through
}

// IsRecvThrough is the receive-side counterpart of IsSendThrough.
func IsRecvThrough(m Mode, isRequested bool) bool {
	if isRequested {
		return m == ModeSendThrough || m == ModeSendMD5Through
	}
	return m == ModeRecvThrough || m == ModeRecvMD5Through
}
