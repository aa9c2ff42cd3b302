package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomft/internal/cli/output"
	"github.com/marmos91/dittomft/pkg/config"
	"github.com/marmos91/dittomft/pkg/transfer"
)

var (
	transfersOwner  string
	transfersRule   string
	transfersStatus string
	transfersLimit  int
	transfersOutput string
)

var transfersCmd = &cobra.Command{
	Use:     "transfers",
	Aliases: []string{"ls"},
	Short:   "List transfers",
	Long: `List the transfers recorded in the node's store, newest first.

Examples:
  # Last 50 transfers
  dittomft transfers

  # Interrupted transfers of one rule, as JSON
  dittomft transfers --rule push --status interrupted -o json`,
	RunE: runTransfers,
}

func init() {
	transfersCmd.Flags().StringVar(&transfersOwner, "owner", "", "Only transfers owned by this host")
	transfersCmd.Flags().StringVar(&transfersRule, "rule", "", "Only transfers of this rule")
	transfersCmd.Flags().StringVar(&transfersStatus, "status", "", "Only transfers in this state (running, interrupted, inerror, done, ...)")
	transfersCmd.Flags().IntVarP(&transfersLimit, "limit", "n", 50, "Maximum number of transfers (0 for all)")
	transfersCmd.Flags().StringVarP(&transfersOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runTransfers(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(transfersOutput)
	if err != nil {
		return err
	}

	filter := transfer.DescriptorFilter{
		Owner: transfersOwner,
		Rule:  transfersRule,
		Limit: transfersLimit,
	}
	if transfersStatus != "" {
		info, ok := transfer.ParseUpdatedInfo(transfersStatus)
		if !ok {
			return fmt.Errorf("unknown status: %q", transfersStatus)
		}
		filter.UpdatedInfo = &info
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	st, err := config.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	descs, err := st.ListDescriptors(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("failed to list transfers: %w", err)
	}

	return output.Render(os.Stdout, format, transferList(descs))
}

// transferList renders descriptors as a table.
type transferList []*transfer.Descriptor

func (l transferList) Headers() []string {
	return []string{"ID", "Requester", "Requested", "Rule", "File", "Step", "Status", "Rank", "Updated"}
}

func (l transferList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, d := range l {
		rows = append(rows, []string{
			strconv.FormatInt(d.SpecialID, 10),
			d.Requester,
			d.Requested,
			d.Rule,
			d.Filename,
			d.GlobalStep.String(),
			fmt.Sprintf("%s (%s)", d.UpdatedInfo, d.StepStatus),
			strconv.FormatInt(int64(d.Rank), 10),
			output.Timestamp(d.UpdatedAt),
		})
	}
	return rows
}
