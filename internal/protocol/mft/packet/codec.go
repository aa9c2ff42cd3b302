package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// headerSize is the fixed part of a frame after the length word:
// destination ID, source ID and type.
const headerSize = 4 + 4 + 1

// DefaultMaxFrameSize bounds a single frame when the caller does not set one.
const DefaultMaxFrameSize = 64 << 20

var (
	// ErrFrameTooLarge is returned when a frame exceeds the configured bound.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrUnknownType is returned for a frame whose type is not defined.
	ErrUnknownType = errors.New("unknown packet type")
)

// Frame is a packet together with its session addressing.
type Frame struct {
	// Dest is the receiver's local session ID, 0 for a new session.
	Dest int32
	// Src is the sender's local session ID.
	Src    int32
	Packet Packet
}

// Marshal encodes the packet body.
func Marshal(p Packet) ([]byte, error) {
	if raw, ok := p.(*Raw); ok {
		return raw.Body, nil
	}
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, p); err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Type(), err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a body of type t.
func Unmarshal(t Type, body []byte) (Packet, error) {
	p, err := newPacket(t)
	if err != nil {
		return nil, err
	}
	if raw, ok := p.(*Raw); ok {
		raw.Body = body
		return raw, nil
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(body), p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return p, nil
}

func newPacket(t Type) (Packet, error) {
	switch t {
	case TypeAuthent:
		return &Authent{}, nil
	case TypeStartup:
		return &Startup{}, nil
	case TypeData:
		return &Data{}, nil
	case TypeValid:
		return &Valid{}, nil
	case TypeError:
		return &Error{}, nil
	case TypeConnectError:
		return &ConnectError{}, nil
	case TypeRequest:
		return &Request{}, nil
	case TypeShutdown:
		return &Shutdown{}, nil
	case TypeTest:
		return &Test{}, nil
	case TypeEndTransfer:
		return &EndTransfer{}, nil
	case TypeInformation:
		return &Information{}, nil
	case TypeEndRequest:
		return &EndRequest{}, nil
	case TypeKeepAlive:
		return &KeepAlive{}, nil
	case TypeBusinessRequest:
		return &BusinessRequest{}, nil
	case TypeNoOp:
		return &NoOp{}, nil
	case TypeBlockRequest:
		return &BlockRequest{}, nil
	case TypeJSONRequest:
		return &JSONRequest{}, nil
	case TypeStop, TypeCancel, TypeConfigSend, TypeConfigRecv, TypeBandwidth,
		TypeRequestUser, TypeLog, TypeLogPurge:
		return &Raw{Kind: t}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint32(t))
}

// WriteFrame writes a length-prefixed frame to w in a single Write call.
func WriteFrame(w io.Writer, f Frame) (int, error) {
	body, err := Marshal(f.Packet)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 4+headerSize+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(headerSize+len(body)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(f.Dest))
	binary.BigEndian.PutUint32(buf[8:12], uint32(f.Src))
	buf[12] = byte(f.Packet.Type())
	copy(buf[13:], body)
	return w.Write(buf)
}

// ReadFrame reads one frame from r. maxSize <= 0 selects DefaultMaxFrameSize.
func ReadFrame(r io.Reader, maxSize int) (Frame, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	length := int(binary.BigEndian.Uint32(lenBuf[:]))
	if length < headerSize {
		return Frame{}, fmt.Errorf("short frame: %d bytes", length)
	}
	if length > maxSize {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Frame{}, err
	}
	f := Frame{
		Dest: int32(binary.BigEndian.Uint32(buf[0:4])),
		Src:  int32(binary.BigEndian.Uint32(buf[4:8])),
	}
	p, err := Unmarshal(Type(buf[8]), buf[headerSize:])
	if err != nil {
		return Frame{}, err
	}
	f.Packet = p
	return f, nil
}

// FrameSize returns the encoded size of the packet's frame, used for
// bandwidth accounting.
func FrameSize(p Packet) int {
	switch v := p.(type) {
	case *Data:
		// Data dominates traffic; avoid encoding twice.
		return 4 + headerSize + 12 + len(v.Data) + len(v.Key) + 8
	}
	body, err := Marshal(p)
	if err != nil {
		return 4 + headerSize
	}
	return 4 + headerSize + len(body)
}
