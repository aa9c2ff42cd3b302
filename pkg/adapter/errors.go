package adapter

// ProtocolError is an engine failure carrying the result code sent to the
// partner. The code travels as one character in Error packets ('A' bad
// authentication, 'M' digest mismatch, 'f' file not found...).
//
// Unwrap exposes the underlying cause so errors.Is still matches domain
// sentinels through the wrapper.
type ProtocolError interface {
	error

	// Code returns the wire character of the result code.
	Code() uint32

	Message() string
	Unwrap() error
}
