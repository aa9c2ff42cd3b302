package transfer

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DescriptorFilter narrows ListDescriptors. Zero values match everything.
type DescriptorFilter struct {
	Owner       string
	Rule        string
	UpdatedInfo *UpdatedInfo
	Limit       int
}

// Store persists descriptors and partner hosts.
//
// Implementations must be safe for concurrent use; each session only touches
// its own descriptor from its packet path.
type Store interface {
	// GetDescriptor loads a descriptor. Returns ErrDescriptorNotFound if absent.
	GetDescriptor(ctx context.Context, specialID int64, requester, requested string) (*Descriptor, error)

	// CreateDescriptor inserts a new descriptor. Returns ErrDuplicateDescriptor
	// when the key is already taken.
	CreateDescriptor(ctx context.Context, d *Descriptor) error

	// SaveDescriptor inserts or updates a descriptor.
	SaveDescriptor(ctx context.Context, d *Descriptor) error

	// ListDescriptors returns descriptors matching filter, newest first.
	ListDescriptors(ctx context.Context, filter DescriptorFilter) ([]*Descriptor, error)

	// GetHost loads a partner. Returns ErrHostNotFound if absent.
	GetHost(ctx context.Context, hostID string) (*Host, error)

	// PutHost inserts or updates a partner.
	PutHost(ctx context.Context, h *Host) error

	// ListHosts returns every partner.
	ListHosts(ctx context.Context) ([]*Host, error)

	// Healthcheck verifies the backing storage is reachable.
	Healthcheck(ctx context.Context) error

	// Close releases the backing storage.
	Close() error
}

// HashKey hashes a shared secret for storage.
func HashKey(key []byte) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(key, bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash host key: %w", err)
	}
	return string(hash), nil
}

// VerifyKey checks key against the host's stored hash.
func (h *Host) VerifyKey(key []byte) error {
	if h.KeyHash == "" {
		return ErrBadKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.KeyHash), key); err != nil {
		return ErrBadKey
	}
	return nil
}
