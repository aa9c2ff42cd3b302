package commands

import (
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

var completions = map[string]func(root *cobra.Command, w io.Writer) error{
	"bash":       func(c *cobra.Command, w io.Writer) error { return c.GenBashCompletionV2(w, true) },
	"zsh":        func(c *cobra.Command, w io.Writer) error { return c.GenZshCompletion(w) },
	"fish":       func(c *cobra.Command, w io.Writer) error { return c.GenFishCompletion(w, true) },
	"powershell": func(c *cobra.Command, w io.Writer) error { return c.GenPowerShellCompletionWithDesc(w) },
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate a shell completion script",
	Long: `Print the completion script for the given shell.

  dittomft completion bash > /etc/bash_completion.d/dittomft
  dittomft completion zsh > "${fpath[1]}/_dittomft"
  dittomft completion fish > ~/.config/fish/completions/dittomft.fish
  dittomft completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             shells(),
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		return completions[args[0]](cmd.Root(), os.Stdout)
	},
}

func shells() []string {
	names := make([]string, 0, len(completions))
	for name := range completions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
