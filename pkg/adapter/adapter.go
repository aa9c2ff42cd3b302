// Package adapter provides the shared server lifecycle of dittomft protocol
// adapters: listener management, connection tracking and graceful shutdown.
package adapter

import (
	"context"
)

// Adapter represents a protocol server that can be managed by the start
// command.
//
// Lifecycle:
//  1. Creation: the adapter is created with its configuration and engine
//  2. Startup: Serve() starts the listener and blocks until shutdown
//  3. Shutdown: Stop() interrupts the sessions and drains connections
//
// Thread safety:
// Implementations must be safe for concurrent use. Stop() may be called
// concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is
	// cancelled or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must stop accepting connections,
	// wait for active ones up to the shutdown timeout and return nil.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown. It is idempotent and respects the
	// context deadline.
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and
	// metrics.
	Protocol() string

	// Port returns the TCP port the adapter is listening on, 0 before Serve.
	Port() int

	// MapError translates an engine error into a ProtocolError carrying the
	// result code sent to partners. Returns nil if err carries no code.
	MapError(err error) ProtocolError
}
