// Package business defines the hooks a deployment can plug into the transfer
// engine to accept or refuse sessions at each protocol stage and to exchange
// free-form information with the partner.
//
// Any error returned by a Check* hook is a refusal at that stage.
package business

import (
	"context"
	"sync"

	"github.com/marmos91/dittomft/pkg/transfer"
)

// Session is the view of a live session handed to hooks.
type Session interface {
	LocalID() int32
	HostID() string
	RemoteAddr() string
	Descriptor() *transfer.Descriptor
}

// Handler receives the lifecycle events of one session.
type Handler interface {
	// CheckAtConnection runs when the session starts, before authentication.
	CheckAtConnection(ctx context.Context, s Session) error

	// CheckAtAuthentication runs once the partner's credentials were accepted.
	CheckAtAuthentication(ctx context.Context, s Session) error

	// CheckAtError runs when the session fails.
	CheckAtError(ctx context.Context, s Session)

	// CheckAfterTransfer runs after the data phase succeeded.
	CheckAfterTransfer(ctx context.Context, s Session) error

	// CheckAfterPost runs after post tasks succeeded.
	CheckAfterPost(ctx context.Context, s Session) error

	// Info returns the information to send to the partner at end of request.
	Info(s Session) string

	// SetInfo stores the information received from the partner.
	SetInfo(s Session, info string)
}

// Factory creates one Handler per session.
type Factory interface {
	New() Handler
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func() Handler

func (f FactoryFunc) New() Handler { return f() }

// NoopFactory creates Noop handlers.
var NoopFactory Factory = FactoryFunc(func() Handler { return &Noop{} })

// Noop accepts everything and echoes back the last information it was given.
type Noop struct {
	mu   sync.Mutex
	info string
}

func (*Noop) CheckAtConnection(context.Context, Session) error     { return nil }
func (*Noop) CheckAtAuthentication(context.Context, Session) error { return nil }
func (*Noop) CheckAtError(context.Context, Session)                {}
func (*Noop) CheckAfterTransfer(context.Context, Session) error    { return nil }
func (*Noop) CheckAfterPost(context.Context, Session) error        { return nil }

func (n *Noop) Info(Session) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.info
}

func (n *Noop) SetInfo(_ Session, info string) {
	n.mu.Lock()
	n.info = info
	n.mu.Unlock()
}
