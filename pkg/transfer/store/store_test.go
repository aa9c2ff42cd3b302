package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomft/pkg/transfer"
	"github.com/marmos91/dittomft/pkg/transfer/storetest"
)

// createTestStore creates an in-memory SQLite store for testing.
func createTestStore(t *testing.T) *GORMStore {
	t.Helper()
	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) transfer.Store {
		return createTestStore(t)
	})
}

// ============================================================================
// Configuration
// ============================================================================

func TestConfig(t *testing.T) {
	t.Run("default config uses sqlite", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
		c := &Config{}
		c.ApplyDefaults()
		assert.Equal(t, DatabaseTypeSQLite, c.Type)
		assert.Equal(t, "/tmp/xdg/dittomft/transfers.db", c.SQLite.Path)
		assert.NoError(t, c.Validate())
	})

	t.Run("postgres defaults", func(t *testing.T) {
		c := &Config{Type: DatabaseTypePostgres, Postgres: PostgresConfig{Host: "db", Database: "mft", User: "mft"}}
		c.ApplyDefaults()
		assert.Equal(t, 5432, c.Postgres.Port)
		assert.Equal(t, "postgres://mft@db:5432/mft?sslmode=disable", c.Postgres.DSN())

		c.Postgres.Password = "p@ss"
		assert.Equal(t, "postgres://mft:p%40ss@db:5432/mft?sslmode=disable", c.Postgres.DSN())
		assert.NoError(t, c.Validate())
	})

	t.Run("postgres requires host", func(t *testing.T) {
		c := &Config{Type: DatabaseTypePostgres}
		c.ApplyDefaults()
		assert.Error(t, c.Validate())
	})

	t.Run("invalid type", func(t *testing.T) {
		_, err := New(&Config{Type: "oracle"})
		assert.Error(t, err)
	})
}

func TestFileBackedStore(t *testing.T) {
	path := t.TempDir() + "/nested/transfers.db"
	s, err := New(&Config{Type: DatabaseTypeSQLite, SQLite: SQLiteConfig{Path: path}})
	require.NoError(t, err)

	d := storetest.NewDescriptor(5, "hostA", "hostA", "hostB", "push")
	require.NoError(t, s.CreateDescriptor(t.Context(), d))
	require.NoError(t, s.Close())

	reopened, err := New(&Config{Type: DatabaseTypeSQLite, SQLite: SQLiteConfig{Path: path}})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetDescriptor(t.Context(), 5, "hostA", "hostB")
	require.NoError(t, err)
	assert.Equal(t, "push", got.Rule)
}
