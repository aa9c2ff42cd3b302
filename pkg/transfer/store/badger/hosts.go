package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittomft/pkg/transfer"
)

// ============================================================================
// Hosts
// ============================================================================

func (s *Store) GetHost(ctx context.Context, hostID string) (*transfer.Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var h *transfer.Host
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyHost(hostID))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return transfer.ErrHostNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			h, err = decodeHost(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Store) PutHost(ctx context.Context, h *transfer.Host) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now

	data, err := encodeHost(h)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(keyHost(h.HostID), data); err != nil {
			return fmt.Errorf("failed to store host: %w", err)
		}
		return nil
	})
}

// ListHosts returns hosts in key order, which is host ID order.
func (s *Store) ListHosts(ctx context.Context) ([]*transfer.Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hosts := []*transfer.Host{}
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixHost)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				h, err := decodeHost(val)
				if err != nil {
					return err
				}
				hosts = append(hosts, h)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hosts, nil
}
