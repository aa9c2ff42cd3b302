// Package config implements the "dittomft config" subcommands.
package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittomft/pkg/config"
)

// Cmd groups the configuration file subcommands.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
	Long: `Create, edit, check and inspect the node configuration file.

Every subcommand reads the file given by the global --config flag, or
$XDG_CONFIG_HOME/dittomft/config.yaml.`,
}

func init() {
	Cmd.AddCommand(initCmd, editCmd, validateCmd, showCmd, schemaCmd)
}

// configPath returns the --config flag, or the default location.
func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	return config.GetDefaultConfigPath()
}
