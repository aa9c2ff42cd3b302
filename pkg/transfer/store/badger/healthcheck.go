package badger

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// Healthcheck verifies the database can serve a read transaction. It also
// samples the cache statistics when metrics are enabled.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return fmt.Errorf("badger database is closed")
	}
	if s.metrics != nil {
		block := s.db.BlockCacheMetrics()
		s.metrics.RecordCacheStats("block", block.Hits(), block.Misses(), block.Ratio())
		index := s.db.IndexCacheMetrics()
		s.metrics.RecordCacheStats("index", index.Hits(), index.Misses(), index.Ratio())
	}
	return s.db.View(func(txn *badgerdb.Txn) error {
		return nil
	})
}
