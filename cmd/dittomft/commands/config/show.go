package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomft/internal/cli/output"
	"github.com/marmos91/dittomft/pkg/config"
)

var (
	showOutput  string
	showSecrets bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective DittoMFT configuration, with defaults and
environment overrides applied.

Keys are masked unless --show-secrets is given.

Examples:
  # Show default config as YAML
  dittomft config show

  # Show as JSON
  dittomft config show --output json

  # Show specific config file
  dittomft config show --config /etc/dittomft/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print host and partner keys in clear")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	if !showSecrets {
		maskSecrets(cfg)
	}

	return output.Render(os.Stdout, format, cfg)
}

const masked = "********"

func maskSecrets(cfg *config.Config) {
	mask := func(s *string) {
		if *s != "" {
			*s = masked
		}
	}
	mask(&cfg.Host.Key)
	mask(&cfg.Host.AdminKey)
	mask(&cfg.Database.Postgres.Password)
	mask(&cfg.S3.SecretAccessKey)
	for i := range cfg.Partners {
		mask(&cfg.Partners[i].Key)
	}
}
