package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	stopPidFile string
	stopForce   bool
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the DittoMFT node",
	Long: `Stop a running DittoMFT node.

By default the node is asked to shut down gracefully: running sessions are
interrupted and their transfers are left resumable. Use --force for
immediate termination.

Examples:
  # Stop the node (uses default PID file)
  dittomft stop

  # Stop using a custom PID file
  dittomft stop --pid-file /var/run/dittomft.pid

  # Force stop
  dittomft stop --force`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/dittomft/dittomft.pid)")
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "Force kill instead of graceful shutdown")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := stopPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	pid, err := readPid(pidPath)
	if errors.Is(err, errNoPidFile) {
		return fmt.Errorf("%w\n\nIs the node running?", err)
	}
	if err != nil {
		return err
	}

	if err := signalStop(pid, stopForce); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			fmt.Println("Node already stopped")
			_ = os.Remove(pidPath)
			return nil
		}
		return fmt.Errorf("failed to stop process %d: %w", pid, err)
	}

	if stopForce {
		fmt.Printf("Node terminated (PID %d)\n", pid)
	} else {
		fmt.Printf("Shutdown requested (PID %d). Running transfers are interrupted and can be resumed.\n", pid)
	}
	return nil
}
