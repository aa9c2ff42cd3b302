package session

import (
	"context"
	"fmt"

	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
)

// Endpoint is the network connection a session is multiplexed over.
type Endpoint interface {
	// OpenEndpoint reserves a session slot without blocking. It reports
	// false when every slot is taken.
	OpenEndpoint() bool

	// ReleaseEndpoint returns a slot taken by OpenEndpoint.
	ReleaseEndpoint()

	// Send writes a frame to the peer. The packet, data blocks included, must
	// not be retained once Send returns: callers reuse their buffers.
	Send(ctx context.Context, f packet.Frame) error

	// Inject queues a frame on the connection's ordered processing path as
	// if it had been read from the network. It reports false once the
	// connection is closed.
	Inject(f packet.Frame) bool

	RemoteAddr() string
	IsTLS() bool

	// IsShuttingDown reports whether the connection is being torn down.
	IsShuttingDown() bool

	// SetHostID records the authenticated partner.
	SetHostID(hostID string)
	HostID() string

	// ShutdownBlacklist refuses the remote address for a while and closes
	// the connection.
	ShutdownBlacklist()

	Close() error
}

// NoConnectionError is returned when a session endpoint cannot be opened.
type NoConnectionError struct {
	Addr     string
	Attempts int
}

func (e *NoConnectionError) Error() string {
	return fmt.Sprintf("cannot open a local session towards %s after %d attempts", e.Addr, e.Attempts)
}
