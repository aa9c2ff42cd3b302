package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomft/internal/adapter/mft/session"
	"github.com/marmos91/dittomft/internal/bytesize"
	"github.com/marmos91/dittomft/internal/cli/output"
	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/pkg/adapter/mft"
	"github.com/marmos91/dittomft/pkg/config"
)

var (
	sendPartner   string
	sendRule      string
	sendFile      string
	sendInfo      string
	sendBlockSize string
	sendID        int64
	sendOutput    string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Run a transfer with a partner",
	Long: `Ask a partner for a transfer and wait for it to complete.

The rule decides the direction: a send rule pushes --file to the partner,
a receive rule pulls it from the partner. Paths are relative to the rule's
directories under transfer.root.

Pass --id with the ID of an interrupted transfer to resume it from its last
acknowledged block.

Examples:
  # Push a file
  dittomft send --partner node-b --rule push --file report.csv

  # Pull with a larger block size
  dittomft send --partner node-b --rule pull --file dump.tar --block-size 256KiB

  # Resume an interrupted transfer
  dittomft send --partner node-b --rule push --file report.csv --id 4242`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendPartner, "partner", "p", "", "Partner host ID")
	sendCmd.Flags().StringVarP(&sendRule, "rule", "r", "", "Transfer rule")
	sendCmd.Flags().StringVar(&sendFile, "file", "", "File to send or request")
	sendCmd.Flags().StringVar(&sendInfo, "info", "", "Transfer information passed to the partner")
	sendCmd.Flags().StringVar(&sendBlockSize, "block-size", "", "Block size (e.g. 64KiB, default: transfer.block_size)")
	sendCmd.Flags().Int64Var(&sendID, "id", 0, "Resume the transfer with this ID")
	sendCmd.Flags().StringVarP(&sendOutput, "output", "o", "table", "Output format (table|json|yaml)")
	_ = sendCmd.MarkFlagRequired("partner")
	_ = sendCmd.MarkFlagRequired("rule")
	_ = sendCmd.MarkFlagRequired("file")
}

func runSend(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(sendOutput)
	if err != nil {
		return err
	}

	var blockSize int32
	if sendBlockSize != "" {
		bs, err := bytesize.ParseByteSize(sendBlockSize)
		if err == nil {
			blockSize, err = bs.Int32()
		}
		if err != nil {
			return fmt.Errorf("invalid --block-size: %w", err)
		}
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := config.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	eng, err := config.NewEngine(ctx, cfg, st, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	client := mft.NewClient(eng.Network, eng.Handler, nil)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Debug("client close error", logger.KeyError, err)
		}
	}()

	result, err := client.Transfer(ctx, mft.TransferRequest{
		Partner:   sendPartner,
		Rule:      sendRule,
		Filename:  sendFile,
		Info:      sendInfo,
		BlockSize: blockSize,
		SpecialID: sendID,
	})
	if perr := output.Render(os.Stdout, format, summarize(result)); perr != nil {
		return perr
	}
	if err != nil {
		return fmt.Errorf("transfer failed (%s): %w", result.Code.Message(), err)
	}
	return nil
}

// transferSummary is the printable outcome of one transfer.
type transferSummary struct {
	Code     string `json:"code" yaml:"code"`
	Status   string `json:"status" yaml:"status"`
	ID       int64  `json:"special_id,omitempty" yaml:"special_id,omitempty"`
	Rule     string `json:"rule,omitempty" yaml:"rule,omitempty"`
	Filename string `json:"filename,omitempty" yaml:"filename,omitempty"`
	Rank     int32  `json:"rank" yaml:"rank"`
	Size     int64  `json:"size" yaml:"size"`
}

func summarize(r session.Result) transferSummary {
	s := transferSummary{Code: r.Code.String(), Status: r.Code.Message()}
	if d := r.Descriptor; d != nil {
		s.ID = d.SpecialID
		s.Rule = d.Rule
		s.Filename = d.Filename
		s.Rank = d.Rank
		s.Size = d.OriginalSize
	}
	return s
}

func (transferSummary) Headers() []string { return nil }

func (s transferSummary) Rows() [][]string {
	return output.Fields{
		{"Status", fmt.Sprintf("%s (%s)", s.Status, s.Code)},
		{"Transfer ID", strconv.FormatInt(s.ID, 10)},
		{"Rule", s.Rule},
		{"File", s.Filename},
		{"Blocks", strconv.FormatInt(int64(s.Rank), 10)},
		{"Size", bytesize.ByteSize(s.Size).String()},
	}.Rows()
}
