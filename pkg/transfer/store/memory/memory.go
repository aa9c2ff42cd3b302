// Package memory implements transfer.Store in process memory. It backs tests
// and nodes that keep no transfer history.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittomft/pkg/transfer"
)

// Store is an in-memory transfer.Store. Values are copied on the way in and
// out so callers never share a descriptor with the store.
type Store struct {
	mu          sync.RWMutex
	descriptors map[string]*transfer.Descriptor
	hosts       map[string]*transfer.Host
}

// New returns an empty store.
func New() *Store {
	return &Store{
		descriptors: make(map[string]*transfer.Descriptor),
		hosts:       make(map[string]*transfer.Host),
	}
}

func descriptorKey(specialID int64, requester, requested string) string {
	return transfer.TransferKey(requested, requester, specialID)
}

func (s *Store) GetDescriptor(ctx context.Context, specialID int64, requester, requested string) (*transfer.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.descriptors[descriptorKey(specialID, requester, requested)]
	if !ok {
		return nil, transfer.ErrDescriptorNotFound
	}
	return d.Clone(), nil
}

func (s *Store) CreateDescriptor(ctx context.Context, d *transfer.Descriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := descriptorKey(d.SpecialID, d.Requester, d.Requested)
	if _, ok := s.descriptors[key]; ok {
		return transfer.ErrDuplicateDescriptor
	}
	s.put(key, d)
	return nil
}

func (s *Store) SaveDescriptor(ctx context.Context, d *transfer.Descriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(descriptorKey(d.SpecialID, d.Requester, d.Requested), d)
	return nil
}

func (s *Store) put(key string, d *transfer.Descriptor) {
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	s.descriptors[key] = d.Clone()
}

func (s *Store) ListDescriptors(ctx context.Context, filter transfer.DescriptorFilter) ([]*transfer.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []*transfer.Descriptor{}
	for _, d := range s.descriptors {
		if filter.Owner != "" && d.Owner != filter.Owner {
			continue
		}
		if filter.Rule != "" && d.Rule != filter.Rule {
			continue
		}
		if filter.UpdatedInfo != nil && d.UpdatedInfo != *filter.UpdatedInfo {
			continue
		}
		results = append(results, d.Clone())
	}
	slices.SortFunc(results, func(a, b *transfer.Descriptor) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Key(), b.Key())
	})
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

func (s *Store) GetHost(ctx context.Context, hostID string) (*transfer.Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.hosts[hostID]
	if !ok {
		return nil, transfer.ErrHostNotFound
	}
	c := *h
	return &c, nil
}

func (s *Store) PutHost(ctx context.Context, h *transfer.Host) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now
	c := *h
	s.hosts[h.HostID] = &c
	return nil
}

func (s *Store) ListHosts(ctx context.Context) ([]*transfer.Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	hosts := make([]*transfer.Host, 0, len(s.hosts))
	for _, h := range s.hosts {
		c := *h
		hosts = append(hosts, &c)
	}
	slices.SortFunc(hosts, func(a, b *transfer.Host) int {
		return strings.Compare(a.HostID, b.HostID)
	})
	return hosts, nil
}

func (s *Store) Healthcheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

var _ transfer.Store = (*Store)(nil)
