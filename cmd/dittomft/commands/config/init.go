package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomft/internal/cli/prompt"
	"github.com/marmos91/dittomft/pkg/config"
	"github.com/marmos91/dittomft/pkg/transfer/store"
)

var (
	initForce       bool
	initInteractive bool
	initHostID      string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter configuration file",
	Long: `Create a starter DittoMFT configuration file.

The node gets a host ID (the machine hostname unless --host-id is given), a
random 32 byte key, and one send and one receive rule. By default the file
is created at $XDG_CONFIG_HOME/dittomft/config.yaml; use --config to choose
another path.

Examples:
  # Initialize with default location
  dittomft config init

  # Choose the host ID
  dittomft config init --host-id edge-01

  # Answer a few questions instead
  dittomft config init --interactive

  # Force overwrite existing config
  dittomft config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for host ID, port and database")
	initCmd.Flags().StringVar(&initHostID, "host-id", "", "Host ID of this node (default: hostname)")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	cfg, err := config.StarterConfig()
	if err != nil {
		return err
	}
	if initHostID != "" {
		cfg.Host.ID = initHostID
	}
	if initInteractive {
		if err := askIdentity(cfg); err != nil {
			if prompt.IsAborted(err) {
				fmt.Println("Aborted.")
				return nil
			}
			return err
		}
	}

	if err := config.WriteConfig(cfg, path, initForce); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Printf("  Host ID:  %s\n", cfg.Host.ID)
	fmt.Printf("  Port:     %d\n", cfg.Server.Port)
	fmt.Printf("  Database: %s\n", cfg.Database.Type)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your partners and rules to the configuration file")
	fmt.Println("  2. Give each partner this node's host.key")
	fmt.Println("  3. Start the node with: dittomft start")
	return nil
}

// askIdentity prompts for the settings most nodes change first.
func askIdentity(cfg *config.Config) error {
	id, err := prompt.Input("Host ID", cfg.Host.ID)
	if err != nil {
		return err
	}
	cfg.Host.ID = id

	port, err := prompt.Port("Listen port", cfg.Server.Port)
	if err != nil {
		return err
	}
	cfg.Server.Port = port

	db, err := prompt.Choose("Transfer store", []string{
		string(store.DatabaseTypeSQLite),
		string(config.DatabaseTypeBadger),
		string(store.DatabaseTypePostgres),
	})
	if err != nil {
		return err
	}
	cfg.Database.Type = store.DatabaseType(db)
	if cfg.Database.Type == store.DatabaseTypePostgres {
		return askPostgres(cfg)
	}
	return nil
}

func askPostgres(cfg *config.Config) error {
	pg := &cfg.Database.Postgres
	var err error
	if pg.Host, err = prompt.Input("PostgreSQL host", "localhost"); err != nil {
		return err
	}
	if pg.Port, err = prompt.Port("PostgreSQL port", 5432); err != nil {
		return err
	}
	if pg.Database, err = prompt.Input("Database", "dittomft"); err != nil {
		return err
	}
	if pg.User, err = prompt.Input("User", "dittomft"); err != nil {
		return err
	}
	pg.Password, err = prompt.Secret("Password")
	return err
}
