// Package packet defines the typed packets exchanged between MFT peers and
// their wire framing.
//
// Every packet travels in a frame addressed by a pair of local session IDs:
// the destination ID names the receiving side's session (0 for a session that
// does not exist yet) and the source ID names the sender's session. The body
// is XDR-encoded (RFC 4506).
package packet

import "fmt"

// Type identifies a packet kind. The same numbering is used for the sub-type
// carried by Valid and JSONRequest packets.
type Type uint32

const (
	TypeAuthent         Type = 1
	TypeStartup         Type = 2
	TypeData            Type = 3
	TypeValid           Type = 4
	TypeError           Type = 5
	TypeConnectError    Type = 6
	TypeRequest         Type = 7
	TypeShutdown        Type = 8
	TypeStop            Type = 9
	TypeCancel          Type = 10
	TypeConfigSend      Type = 11
	TypeConfigRecv      Type = 12
	TypeTest            Type = 13
	TypeEndTransfer     Type = 14
	TypeRequestUser     Type = 15
	TypeLog             Type = 16
	TypeLogPurge        Type = 17
	TypeInformation     Type = 18
	TypeBandwidth       Type = 19
	TypeEndRequest      Type = 20
	TypeKeepAlive       Type = 21
	TypeBusinessRequest Type = 22
	TypeNoOp            Type = 23
	TypeBlockRequest    Type = 24
	TypeJSONRequest     Type = 25
)

var typeNames = map[Type]string{
	TypeAuthent:         "AUTHENT",
	TypeStartup:         "STARTUP",
	TypeData:            "DATA",
	TypeValid:           "VALID",
	TypeError:           "ERROR",
	TypeConnectError:    "CONNECTERROR",
	TypeRequest:         "REQUEST",
	TypeShutdown:        "SHUTDOWN",
	TypeStop:            "STOP",
	TypeCancel:          "CANCEL",
	TypeConfigSend:      "CONFIGSEND",
	TypeConfigRecv:      "CONFIGRECV",
	TypeTest:            "TEST",
	TypeEndTransfer:     "ENDTRANSFER",
	TypeRequestUser:     "REQUESTUSER",
	TypeLog:             "LOG",
	TypeLogPurge:        "LOGPURGE",
	TypeInformation:     "INFORMATION",
	TypeBandwidth:       "BANDWIDTH",
	TypeEndRequest:      "ENDREQUEST",
	TypeKeepAlive:       "KEEPALIVE",
	TypeBusinessRequest: "BUSINESSREQUEST",
	TypeNoOp:            "NOOP",
	TypeBlockRequest:    "BLOCKREQUEST",
	TypeJSONRequest:     "JSONREQUEST",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("TYPE(%d)", uint32(t))
}

// Way tells whether a negotiation packet asks the peer to validate it or
// carries the peer's validation back.
type Way uint32

const (
	WayToValidate Way = 0
	WayValidated  Way = 1
)

// ErrorWay controls what the receiver of an Error packet does with the channel.
type ErrorWay uint32

const (
	ErrorIgnore       ErrorWay = 0
	ErrorClose        ErrorWay = 1
	ErrorForward      ErrorWay = 2
	ErrorForwardClose ErrorWay = 3
)

// InformationMode selects what an Information request asks for.
type InformationMode uint32

const (
	InfoFileInfo     InformationMode = 0
	InfoFileList     InformationMode = 1
	InfoFileMList    InformationMode = 2
	InfoFileMListDir InformationMode = 3
	InfoRequestCheck InformationMode = 4
)

// LegacyVersion is assumed for peers that do not announce a protocol version.
const LegacyVersion = "2.4.12"

// Version is the protocol version announced by this implementation.
const Version = "3.6.0"

// BarSeparator separates fields inside Valid(RequestPacket) middles.
const BarSeparator = "|"
