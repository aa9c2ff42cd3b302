package commands

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomft/internal/cli/output"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
)

var (
	versionShort  bool
	versionOutput string
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionShort {
			fmt.Println(Version)
			return nil
		}
		format, err := output.ParseFormat(versionOutput)
		if err != nil {
			return err
		}
		return output.Render(os.Stdout, format, buildInfo())
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show only the version number")
	versionCmd.Flags().StringVarP(&versionOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

type versionInfo struct {
	Version  string `json:"version" yaml:"version"`
	Commit   string `json:"commit" yaml:"commit"`
	Built    string `json:"built" yaml:"built"`
	Protocol string `json:"protocol" yaml:"protocol"`
	Go       string `json:"go" yaml:"go"`
	Platform string `json:"platform" yaml:"platform"`
}

func buildInfo() versionInfo {
	return versionInfo{
		Version:  Version,
		Commit:   Commit,
		Built:    Date,
		Protocol: packet.Version,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (versionInfo) Headers() []string { return nil }

func (v versionInfo) Rows() [][]string {
	return output.Fields{
		{"Version", v.Version},
		{"Commit", v.Commit},
		{"Built", v.Built},
		{"Protocol", v.Protocol},
		{"Go", v.Go},
		{"Platform", v.Platform},
	}.Rows()
}
