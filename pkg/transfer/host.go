package transfer

import (
	"net"
	"strconv"
	"time"
)

// Host is a partner known to the local host.
//
// KeyHash holds the bcrypt hash of the partner's shared secret; the clear key
// is only kept in memory for partners this host dials (Key).
type Host struct {
	HostID       string    `gorm:"primaryKey;size:255" json:"host_id"`
	Address      string    `gorm:"size:255" json:"address"`
	Port         int       `json:"port"`
	KeyHash      string    `gorm:"not null" json:"-"`
	Key          []byte    `gorm:"-" json:"-"`
	TLS          bool      `json:"tls"`
	Client       bool      `json:"client"`
	Proxified    bool      `json:"proxified"`
	Active       bool      `json:"active"`
	Admin        bool      `json:"admin"`
	DigestAlgo   string    `gorm:"size:32" json:"digest_algo,omitempty"`
	UseFinalHash bool      `json:"use_final_hash"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Host.
func (Host) TableName() string {
	return "hosts"
}

// HostPort returns the dialable address of the host.
func (h *Host) HostPort() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

// NoAddress reports whether the host has no fixed address (client-only hosts).
func (h *Host) NoAddress() bool {
	return h.Address == "" || h.Address == "0.0.0.0"
}
