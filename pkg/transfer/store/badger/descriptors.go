package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittomft/pkg/transfer"
)

// ============================================================================
// Descriptors
// ============================================================================

func (s *Store) GetDescriptor(ctx context.Context, specialID int64, requester, requested string) (*transfer.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var d *transfer.Descriptor
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyDescriptor(specialID, requester, requested))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return transfer.ErrDescriptorNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			d, err = decodeDescriptor(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) CreateDescriptor(ctx context.Context, d *transfer.Descriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := keyDescriptor(d.SpecialID, d.Requester, d.Requested)
	return s.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return transfer.ErrDuplicateDescriptor
		}
		if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return putDescriptor(txn, key, d)
	})
}

func (s *Store) SaveDescriptor(ctx context.Context, d *transfer.Descriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		return putDescriptor(txn, keyDescriptor(d.SpecialID, d.Requester, d.Requested), d)
	})
}

func putDescriptor(txn *badgerdb.Txn, key []byte, d *transfer.Descriptor) error {
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	data, err := encodeDescriptor(d)
	if err != nil {
		return err
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("failed to store descriptor: %w", err)
	}
	return nil
}

func (s *Store) ListDescriptors(ctx context.Context, filter transfer.DescriptorFilter) ([]*transfer.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := []*transfer.Descriptor{}
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixDescriptor)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var d *transfer.Descriptor
			err := it.Item().Value(func(val []byte) error {
				var err error
				d, err = decodeDescriptor(val)
				return err
			})
			if err != nil {
				return err
			}
			if matches(d, filter) {
				results = append(results, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(results, func(a, b *transfer.Descriptor) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

func matches(d *transfer.Descriptor, f transfer.DescriptorFilter) bool {
	if f.Owner != "" && d.Owner != f.Owner {
		return false
	}
	if f.Rule != "" && d.Rule != f.Rule {
		return false
	}
	if f.UpdatedInfo != nil && d.UpdatedInfo != *f.UpdatedInfo {
		return false
	}
	return true
}
