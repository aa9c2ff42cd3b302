package packet

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/digest"
)

// Packet is implemented by every typed packet.
type Packet interface {
	Type() Type
}

// MinBlockSize is the smallest block size a Request may carry; smaller values
// fall back to the configured default.
const MinBlockSize = 100

// =============================================================================
// Session setup
// =============================================================================

// Startup is injected locally when a session endpoint opens. It never crosses
// the network.
type Startup struct {
	LocalID int32
	FromTLS bool
}

func (*Startup) Type() Type { return TypeStartup }

// Authent carries host identity and shared secret in both directions.
type Authent struct {
	HostID  string
	Key     []byte
	LocalID int32
	Way     Way
	Version string
}

func (*Authent) Type() Type { return TypeAuthent }

// ToValidate reports whether the peer asks this side to validate the packet.
func (p *Authent) ToValidate() bool { return p.Way == WayToValidate }

// Validate turns the packet into its answer, announcing this side's identity.
func (p *Authent) Validate(hostID string, key []byte) {
	p.Way = WayValidated
	p.HostID = hostID
	p.Key = key
	p.Version = Version
}

// PeerVersion returns the announced version or LegacyVersion when absent.
func (p *Authent) PeerVersion() string {
	if p.Version == "" {
		return LegacyVersion
	}
	return p.Version
}

// =============================================================================
// Data
// =============================================================================

// Data carries one block of file content.
type Data struct {
	Rank int32
	Data []byte
	// Key is the block digest in per-block integrity modes, empty otherwise.
	Key []byte
}

func (*Data) Type() Type { return TypeData }

// NewData builds a data packet, computing the block key with algo when algo is valid.
func NewData(rank int32, data []byte, algo digest.Algorithm, withKey bool) *Data {
	p := &Data{Rank: rank, Data: data}
	if withKey {
		p.Key = digest.Sum(algo, data)
	}
	return p
}

// KeyValid recomputes the block digest with algo and compares it to Key.
func (p *Data) KeyValid(algo digest.Algorithm) bool {
	if len(p.Key) == 0 {
		return false
	}
	return bytes.Equal(digest.Sum(algo, p.Data), p.Key)
}

// =============================================================================
// Request negotiation
// =============================================================================

// Request negotiates a transfer.
type Request struct {
	Rule         string
	Mode         Mode
	Filename     string
	BlockSize    int32
	Rank         int32
	SpecialID    int64
	Way          Way
	Code         uint32
	OriginalSize int64
	Limit        int64
	TransferInfo string
	Separator    string
}

func (*Request) Type() Type { return TypeRequest }

// NewRequest builds a request to validate. blockSize below MinBlockSize falls
// back to defaultBlockSize and an unknown size is expressed as -1.
func NewRequest(rule string, mode Mode, filename string, blockSize, defaultBlockSize int32, rank int32,
	specialID int64, info string, originalSize int64) *Request {
	if blockSize < MinBlockSize {
		blockSize = defaultBlockSize
	}
	return &Request{
		Rule:         rule,
		Mode:         mode,
		Filename:     filename,
		BlockSize:    blockSize,
		Rank:         rank,
		SpecialID:    specialID,
		Way:          WayToValidate,
		Code:         uint32(codes.InitOk),
		OriginalSize: originalSize,
		TransferInfo: info,
		Separator:    BarSeparator,
	}
}

func (p *Request) ToValidate() bool { return p.Way == WayToValidate }

// Validate turns the request into its answer.
func (p *Request) Validate() { p.Way = WayValidated }

// ErrorCode returns the status carried by the request.
func (p *Request) ErrorCode() codes.ErrorCode { return codes.FromChar(byte(p.Code)) }

// SetErrorCode sets the status carried by the request.
func (p *Request) SetErrorCode(c codes.ErrorCode) { p.Code = uint32(c) }

// Clone returns a shallow copy.
func (p *Request) Clone() *Request {
	c := *p
	return &c
}

// JSONRequest carries a JSON-encoded command. SubType names the command.
type JSONRequest struct {
	SubType Type
	Body    []byte
}

func (*JSONRequest) Type() Type { return TypeJSONRequest }

// ChangeRequest is the JSON body of a name/size/file-info change.
type ChangeRequest struct {
	Comment  string `json:"comment,omitempty"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	FileInfo string `json:"fileinfo,omitempty"`
}

// NewJSONRequest marshals body into a JSONRequest.
func NewJSONRequest(subType Type, body any) (*JSONRequest, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal json request: %w", err)
	}
	return &JSONRequest{SubType: subType, Body: raw}, nil
}

// Decode unmarshals the body into v.
func (p *JSONRequest) Decode(v any) error {
	if len(p.Body) == 0 {
		return fmt.Errorf("empty json request")
	}
	return json.Unmarshal(p.Body, v)
}

// =============================================================================
// Control
// =============================================================================

// Valid is the generic control packet; SubType tells what is validated.
type Valid struct {
	Header  string
	Middle  string
	SubType Type
}

func (*Valid) Type() Type { return TypeValid }

// Error reports a failure; Middle carries the ErrorCode character.
type Error struct {
	Header string
	Middle string
	Way    ErrorWay
}

func (*Error) Type() Type { return TypeError }

// NewError builds an Error packet.
func NewError(msg string, code codes.ErrorCode, way ErrorWay) *Error {
	return &Error{Header: msg, Middle: code.String(), Way: way}
}

// ErrorCode returns the carried code.
func (p *Error) ErrorCode() codes.ErrorCode { return codes.FromString(p.Middle) }

// ConnectError reports a failure to reach a local session.
type ConnectError struct {
	Header string
	Middle string
}

func (*ConnectError) Type() Type { return TypeConnectError }

// ErrorCode returns the carried code, ConnectionImpossible when absent.
func (p *ConnectError) ErrorCode() codes.ErrorCode {
	if p.Middle == "" {
		return codes.ConnectionImpossible
	}
	return codes.FromString(p.Middle)
}

// Test is echoed between peers to check a session end to end.
type Test struct {
	Header string
	Middle string
	Count  int32
}

func (*Test) Type() Type { return TypeTest }

// Information asks for file or transfer information.
type Information struct {
	Rule     string
	Mode     InformationMode
	Filename string
}

func (*Information) Type() Type { return TypeInformation }

// EndTransfer closes the data phase. Optional carries the sender's global hash.
type EndTransfer struct {
	Request  Type
	Way      Way
	Optional string
}

func (*EndTransfer) Type() Type { return TypeEndTransfer }

func (p *EndTransfer) ToValidate() bool { return p.Way == WayToValidate }
func (p *EndTransfer) Validate()        { p.Way = WayValidated }

// EndRequest closes the request. Optional carries business information.
type EndRequest struct {
	Code     uint32
	Way      Way
	Optional string
}

func (*EndRequest) Type() Type { return TypeEndRequest }

// NewEndRequest builds an EndRequest to validate.
func NewEndRequest(code codes.ErrorCode, optional string) *EndRequest {
	return &EndRequest{Code: uint32(code), Way: WayToValidate, Optional: optional}
}

func (p *EndRequest) ToValidate() bool { return p.Way == WayToValidate }
func (p *EndRequest) Validate()        { p.Way = WayValidated }

// ErrorCode returns the carried code.
func (p *EndRequest) ErrorCode() codes.ErrorCode { return codes.FromChar(byte(p.Code)) }

// Shutdown asks the remote host to shut down. Key is the admin key.
type Shutdown struct {
	Key     []byte
	Restart bool
}

func (*Shutdown) Type() Type { return TypeShutdown }

// KeepAlive probes an idle connection.
type KeepAlive struct {
	Way Way
}

func (*KeepAlive) Type() Type { return TypeKeepAlive }

// NoOp carries nothing and is used to measure round trips.
type NoOp struct {
	Stamp int64
}

func (*NoOp) Type() Type { return TypeNoOp }

// BusinessRequest asks the remote business layer to run a command.
type BusinessRequest struct {
	Header string
	Delay  int32
	Way    Way
}

func (*BusinessRequest) Type() Type { return TypeBusinessRequest }

// BlockRequest blocks or unblocks new requests on the remote host.
type BlockRequest struct {
	Block bool
	Key   []byte
}

func (*BlockRequest) Type() Type { return TypeBlockRequest }

// Raw carries the body of packet types this implementation does not model
// (Stop, Cancel, ConfigSend, ConfigRecv, Bandwidth, RequestUser, Log,
// LogPurge as top-level packets).
type Raw struct {
	Kind Type
	Body []byte
}

func (p *Raw) Type() Type { return p.Kind }
