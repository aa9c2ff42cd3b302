// Package store persists transfer descriptors and partner hosts through GORM,
// on SQLite for a single node or PostgreSQL for shared deployments.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/dittomft/pkg/transfer"
)

// pgUniqueViolation is the SQLSTATE of a duplicate key.
const pgUniqueViolation = "23505"

// GORMStore is a transfer.Store on a SQL database.
type GORMStore struct {
	db *gorm.DB
}

var _ transfer.Store = (*GORMStore)(nil)

// New opens the database described by cfg and migrates the tables.
func New(cfg *Config) (*GORMStore, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	dialector, err := c.dialector()
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pool, err := db.DB()
	if err != nil {
		return nil, err
	}
	if c.Type == DatabaseTypePostgres {
		pool.SetMaxOpenConns(c.Postgres.MaxOpenConns)
		pool.SetMaxIdleConns(c.Postgres.MaxIdleConns)
	} else if c.SQLite.Path == ":memory:" {
		// each connection would open its own empty database
		pool.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&transfer.Descriptor{}, &transfer.Host{}); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GORMStore{db: db}, nil
}

func (c *Config) dialector() (gorm.Dialector, error) {
	if c.Type == DatabaseTypePostgres {
		return postgres.Open(c.Postgres.DSN()), nil
	}
	path := c.SQLite.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	// WAL lets the packet paths read while a checkpoint is written.
	return sqlite.Open(path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"), nil
}

// DB exposes the GORM handle.
func (s *GORMStore) DB() *gorm.DB {
	return s.db
}

// Healthcheck pings the database.
func (s *GORMStore) Healthcheck(ctx context.Context) error {
	pool, err := s.db.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

func (s *GORMStore) Close() error {
	pool, err := s.db.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mapError turns a missing row into notFound and a key clash into dup.
func mapError(err, notFound, dup error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound
	case dup != nil && isDuplicate(err):
		return dup
	}
	return err
}
