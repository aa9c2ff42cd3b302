package store

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
)

// DatabaseType selects the SQL backend.
type DatabaseType string

const (
	// DatabaseTypeSQLite keeps everything in one local file.
	DatabaseTypeSQLite DatabaseType = "sqlite"

	// DatabaseTypePostgres shares the tables between nodes.
	DatabaseTypePostgres DatabaseType = "postgres"
)

// SQLiteConfig locates the database file. ":memory:" keeps it in memory.
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PostgresConfig describes a PostgreSQL server and the pool kept towards it.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Database string `mapstructure:"database" yaml:"database"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`

	// SSLMode is passed as is: disable, require, verify-ca or verify-full.
	SSLMode string `mapstructure:"sslmode" yaml:"sslmode"`

	MaxOpenConns int `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

// DSN renders the connection URL understood by pgx.
func (c *PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// Config is the database section of the node configuration.
type Config struct {
	Type     DatabaseType   `mapstructure:"type" yaml:"type"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// ApplyDefaults selects SQLite under $XDG_CONFIG_HOME/dittomft when nothing
// is set, and fills the PostgreSQL port, SSL mode and pool sizes.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}
	switch c.Type {
	case DatabaseTypeSQLite:
		if c.SQLite.Path == "" {
			c.SQLite.Path = filepath.Join(configHome(), "dittomft", "transfers.db")
		}
	case DatabaseTypePostgres:
		pg := &c.Postgres
		pg.Port = orDefault(pg.Port, 5432)
		pg.MaxOpenConns = orDefault(pg.MaxOpenConns, 25)
		pg.MaxIdleConns = orDefault(pg.MaxIdleConns, 5)
		if pg.SSLMode == "" {
			pg.SSLMode = "disable"
		}
	}
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Validate reports the first missing setting of the selected backend.
func (c *Config) Validate() error {
	switch c.Type {
	case DatabaseTypeSQLite:
		if c.SQLite.Path == "" {
			return errors.New("sqlite path is required")
		}
		return nil
	case DatabaseTypePostgres:
		required := [][2]string{
			{"host", c.Postgres.Host},
			{"database", c.Postgres.Database},
			{"user", c.Postgres.User},
		}
		for _, f := range required {
			if f[1] == "" {
				return fmt.Errorf("postgres %s is required", f[0])
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported database type: %s", c.Type)
}
