package store

import (
	"context"

	"github.com/marmos91/dittomft/pkg/transfer"
)

// GetDescriptor looks a transfer up by its key, the special ID and both
// endpoints.
func (s *GORMStore) GetDescriptor(ctx context.Context, specialID int64, requester, requested string) (*transfer.Descriptor, error) {
	var d transfer.Descriptor
	err := s.db.WithContext(ctx).
		Where("special_id = ? AND requester = ? AND requested = ?", specialID, requester, requested).
		First(&d).Error
	if err != nil {
		return nil, mapError(err, transfer.ErrDescriptorNotFound, nil)
	}
	d.SetThrough(d.Requested == d.Owner)
	return &d, nil
}

func (s *GORMStore) CreateDescriptor(ctx context.Context, d *transfer.Descriptor) error {
	return mapError(s.db.WithContext(ctx).Create(d).Error, nil, transfer.ErrDuplicateDescriptor)
}

func (s *GORMStore) SaveDescriptor(ctx context.Context, d *transfer.Descriptor) error {
	return s.db.WithContext(ctx).Save(d).Error
}

// ListDescriptors returns the matching transfers, most recently updated
// first.
func (s *GORMStore) ListDescriptors(ctx context.Context, filter transfer.DescriptorFilter) ([]*transfer.Descriptor, error) {
	q := s.db.WithContext(ctx).Order("updated_at DESC")
	if filter.Owner != "" {
		q = q.Where("owner = ?", filter.Owner)
	}
	if filter.Rule != "" {
		q = q.Where("rule = ?", filter.Rule)
	}
	if filter.UpdatedInfo != nil {
		q = q.Where("updated_info = ?", *filter.UpdatedInfo)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var results []*transfer.Descriptor
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	for _, d := range results {
		d.SetThrough(d.Requested == d.Owner)
	}
	return results, nil
}
