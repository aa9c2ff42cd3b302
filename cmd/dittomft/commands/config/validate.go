package config

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomft/internal/cli/output"
	"github.com/marmos91/dittomft/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	Long: `Load the configuration file, run every validation and build the rules
and network settings from it, then print warnings and a summary.`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}
	if _, err := cfg.RuleSet(); err != nil {
		return err
	}
	if _, err := cfg.NetworkConfig(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "%s: OK\n", configPath(cmd))
	if warnings := Warnings(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}
	_, _ = fmt.Fprintln(out)
	return output.Render(out, output.FormatTable, summary(cfg))
}

func summary(cfg *config.Config) output.Fields {
	return output.Fields{
		{"Host ID", cfg.Host.ID},
		{"Listen port", strconv.Itoa(cfg.Server.Port)},
		{"Database", string(cfg.Database.Type)},
		{"Partners", strconv.Itoa(len(cfg.Partners))},
		{"Rules", strconv.Itoa(len(cfg.Rules))},
		{"S3 tasks", strconv.FormatBool(cfg.S3.Enabled)},
		{"Log level", cfg.Logging.Level},
	}
}

// Warnings lists settings that are valid but probably unintended.
func Warnings(cfg *config.Config) []string {
	var warnings []string
	if len(cfg.Partners) == 0 {
		warnings = append(warnings, "No partners configured - only this host can authenticate")
	}
	if len(cfg.Rules) == 0 {
		warnings = append(warnings, "No rules configured - every transfer request will be refused")
	}
	if !cfg.Server.TLS.Enabled {
		for _, p := range cfg.Partners {
			if p.TLS {
				warnings = append(warnings, fmt.Sprintf("Partner %s requires TLS but server.tls is disabled", p.ID))
			}
		}
	}
	if cfg.Server.TLS.InsecureSkipVerify {
		warnings = append(warnings, "server.tls.insecure_skip_verify is set - partner certificates are not verified")
	}
	if len(cfg.Host.Key) < 16 {
		warnings = append(warnings, "host.key is shorter than 16 characters")
	}
	return warnings
}
