package config

import (
	"fmt"

	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/pkg/transfer"
	"github.com/marmos91/dittomft/pkg/transfer/store"
	"github.com/marmos91/dittomft/pkg/transfer/store/badger"
)

// OpenStore opens the transfer store selected by cfg.Database.Type.
//
// Metrics must be initialized first for the badger store to report them.
func OpenStore(cfg *Config) (transfer.Store, error) {
	switch cfg.Database.Type {
	case DatabaseTypeBadger:
		s, err := badger.New(cfg.Badger)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		logger.Info("Transfer store opened", logger.KeyStoreType, "badger", logger.KeyPath, cfg.Badger.Path,
			"in_memory", cfg.Badger.InMemory)
		return s, nil

	case store.DatabaseTypeSQLite, store.DatabaseTypePostgres:
		s, err := store.New(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Database.Type, err)
		}
		logger.Info("Transfer store opened", logger.KeyStoreType, string(cfg.Database.Type))
		return s, nil

	default:
		return nil, fmt.Errorf("unknown database type: %q", cfg.Database.Type)
	}
}
