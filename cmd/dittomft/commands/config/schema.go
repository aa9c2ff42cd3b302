package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/marmos91/dittomft/pkg/config"
)

const schemaDraft = "https://json-schema.org/draft/2020-12/schema"

var schemaFile string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	Long: `Print the JSON schema of the configuration file, for editor
completion or for checking files in CI.

Examples:
  dittomft config schema > config.schema.json
  dittomft config schema --output config.schema.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := Schema()
		if err != nil {
			return err
		}
		if schemaFile == "" {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		}
		if err := os.WriteFile(schemaFile, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaFile)
		return nil
	},
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaFile, "output", "o", "", "Write to this file instead of stdout")
}

// Schema reflects config.Config into an indented JSON schema keyed by the
// YAML field names.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true, FieldNameTag: "yaml"}
	s := r.Reflect(&config.Config{})
	s.Version = schemaDraft
	s.Title = "DittoMFT Configuration"
	s.Description = "Configuration of a DittoMFT node"
	return json.MarshalIndent(s, "", "  ")
}
