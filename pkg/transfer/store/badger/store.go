// Package badger implements transfer.Store on an embedded BadgerDB.
package badger

import (
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittomft/pkg/metrics"
	"github.com/marmos91/dittomft/pkg/transfer"
)

// Config contains BadgerDB configuration.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string `mapstructure:"path" yaml:"path"`

	// InMemory keeps everything in RAM; used by tests and throwaway nodes.
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory"`

	// SyncWrites forces an fsync on every commit.
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes"`
}

// Store is a BadgerDB-backed transfer.Store.
type Store struct {
	db      *badgerdb.DB
	metrics metrics.BadgerMetrics
}

// New opens (or creates) the database described by cfg.
func New(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger path is required")
	}

	opts := badgerdb.DefaultOptions(cfg.Path).
		WithLogger(nil).
		WithSyncWrites(cfg.SyncWrites)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &Store{db: db, metrics: metrics.NewBadgerMetrics()}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ transfer.Store = (*Store)(nil)
