// Package commands implements the dittomft command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittomft/cmd/dittomft/commands/config"
)

// Build information, set by main from ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "dittomft",
	Short: "DittoMFT - Managed file transfer node",
	Long: `DittoMFT is a managed file transfer node. Partners authenticate with a
shared key, then exchange files over multiplexed sessions on a single TCP
connection, with block-level resumption and end-to-end digests.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: $XDG_CONFIG_HOME/dittomft/config.yaml)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		startCmd, stopCmd, statusCmd, logsCmd,
		sendCmd, transfersCmd,
		config.Cmd, versionCmd, completionCmd,
	)
}

// Execute runs the command line.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetConfigFile returns the --config flag.
func GetConfigFile() string {
	return cfgFile
}
