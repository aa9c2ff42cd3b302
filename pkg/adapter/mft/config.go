// Package mft is the network side of the transfer protocol: the TCP server
// adapter that accepts partner connections, the multiplexed connection that
// carries many sessions, and the client that opens sessions towards
// partners.
package mft

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
	"github.com/marmos91/dittomft/pkg/adapter"
)

// Config holds the network settings of an MFT endpoint.
//
// Zero values select defaults, see applyDefaults.
type Config struct {
	adapter.BaseConfig

	// KeepAliveInterval is how long a connection may stay silent before a
	// keepalive probe is sent. A second silent interval closes it. 0
	// disables probing.
	KeepAliveInterval time.Duration

	// MaxFrameSize bounds one incoming frame.
	MaxFrameSize int

	// MaxSessionsPerConn bounds the sessions multiplexed on one connection.
	MaxSessionsPerConn int

	// BlacklistDuration is how long an address that failed authentication
	// is refused.
	BlacklistDuration time.Duration
	// BlacklistSize bounds the number of remembered addresses.
	BlacklistSize int

	// ReadLimit and WriteLimit are the global bandwidth in bytes per second
	// across every connection. 0 means unlimited.
	ReadLimit  int64
	WriteLimit int64

	// WriteTimeout bounds one frame write.
	WriteTimeout time.Duration

	// ConnectRetries is how many times a client dial is retried.
	ConnectRetries int
	// ConnectRetryDelay separates dial attempts.
	ConnectRetryDelay time.Duration

	// ClientTLS is used when dialing partners that require TLS.
	ClientTLS *tls.Config

	// ResolverTTL is how long a resolved partner address is cached.
	ResolverTTL time.Duration
}

// DefaultConfig returns the stock network settings on the standard port.
func DefaultConfig() Config {
	var cfg Config
	cfg.Port = 6666
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.KeepAliveInterval < 0 {
		c.KeepAliveInterval = 0
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = packet.DefaultMaxFrameSize
	}
	if c.MaxSessionsPerConn <= 0 {
		c.MaxSessionsPerConn = 1024
	}
	if c.BlacklistDuration <= 0 {
		c.BlacklistDuration = 5 * time.Minute
	}
	if c.BlacklistSize <= 0 {
		c.BlacklistSize = 4096
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 3
	}
	if c.ConnectRetryDelay <= 0 {
		c.ConnectRetryDelay = time.Second
	}
	if c.ResolverTTL <= 0 {
		c.ResolverTTL = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid max connections %d", c.MaxConnections)
	}
	if c.ReadLimit < 0 || c.WriteLimit < 0 {
		return fmt.Errorf("bandwidth limits must not be negative")
	}
	return nil
}
