package store

import (
	"context"

	"github.com/marmos91/dittomft/pkg/transfer"
)

func (s *GORMStore) GetHost(ctx context.Context, hostID string) (*transfer.Host, error) {
	var h transfer.Host
	if err := s.db.WithContext(ctx).Where("host_id = ?", hostID).First(&h).Error; err != nil {
		return nil, mapError(err, transfer.ErrHostNotFound, nil)
	}
	return &h, nil
}

// PutHost inserts or replaces a partner.
func (s *GORMStore) PutHost(ctx context.Context, h *transfer.Host) error {
	return s.db.WithContext(ctx).Save(h).Error
}

func (s *GORMStore) ListHosts(ctx context.Context) ([]*transfer.Host, error) {
	hosts := []*transfer.Host{}
	if err := s.db.WithContext(ctx).Order("host_id").Find(&hosts).Error; err != nil {
		return nil, err
	}
	return hosts, nil
}
