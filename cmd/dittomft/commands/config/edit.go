package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomft/pkg/config"
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit the configuration file",
	Long: `Open the configuration file in $EDITOR (then $VISUAL, then vi) and
load it again once the editor exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath(cmd)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("configuration file not found: %s (create it with: dittomft config init --config %s)", path, path)
		}

		ed := exec.CommandContext(cmd.Context(), editor(), path)
		ed.Stdin, ed.Stdout, ed.Stderr = os.Stdin, os.Stdout, os.Stderr
		if err := ed.Run(); err != nil {
			return fmt.Errorf("editor: %w", err)
		}

		if _, err := config.Load(path); err != nil {
			return fmt.Errorf("configuration saved but invalid: %w", err)
		}
		return nil
	},
}

func editor() string {
	for _, env := range []string{"EDITOR", "VISUAL"} {
		if e := os.Getenv(env); e != "" {
			return e
		}
	}
	return "vi"
}
