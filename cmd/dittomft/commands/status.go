package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomft/internal/cli/output"
	"github.com/marmos91/dittomft/pkg/metrics"
)

var (
	statusOutput      string
	statusPidFile     string
	statusMetricsPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show node status",
	Long: `Display the current status of the DittoMFT node.

The node is found through its PID file, and its health through the /health
endpoint of the metrics server, which reports uptime and store health.

Examples:
  # Check status (uses default settings)
  dittomft status

  # Check status with a custom metrics port
  dittomft status --metrics-port 9190

  # Output as JSON
  dittomft status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/dittomft/dittomft.pid)")
	statusCmd.Flags().IntVar(&statusMetricsPort, "metrics-port", 9090, "Metrics server port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// NodeStatus is what status reports.
type NodeStatus struct {
	Running   bool          `json:"running" yaml:"running"`
	PID       int           `json:"pid,omitempty" yaml:"pid,omitempty"`
	Healthy   bool          `json:"healthy" yaml:"healthy"`
	StartedAt time.Time     `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime_ns,omitempty" yaml:"uptime,omitempty"`
	Message   string        `json:"message" yaml:"message"`
}

func (NodeStatus) Headers() []string { return nil }

func (s NodeStatus) Rows() [][]string {
	state := "stopped"
	switch {
	case s.Running && s.Healthy:
		state = "running"
	case s.Running:
		state = "running (unhealthy)"
	}
	f := output.Fields{{"Status", state}}
	if s.PID != 0 {
		f = append(f, [2]string{"PID", strconv.Itoa(s.PID)})
	}
	if !s.StartedAt.IsZero() {
		f = append(f,
			[2]string{"Started", output.Timestamp(s.StartedAt)},
			[2]string{"Uptime", output.Uptime(s.Uptime)})
	}
	return append(f, [2]string{"Message", s.Message}).Rows()
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	status := NodeStatus{Message: "Node is not running"}
	if pid, ok := runningPid(pidPath); ok {
		status.Running = true
		status.PID = pid
		status.Message = "Node process exists but its health endpoint is unreachable (metrics disabled?)"
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
	defer cancel()
	if h, err := fetchHealth(ctx, statusMetricsPort); err == nil {
		status.Running = true
		status.Healthy = h.Healthy()
		status.StartedAt = h.StartedAt
		status.Uptime = h.Uptime
		if status.Healthy {
			status.Message = "Node is running and healthy"
		} else {
			status.Message = "Node is running but unhealthy: " + h.Error
		}
	}

	return output.Render(os.Stdout, format, status)
}

func fetchHealth(ctx context.Context, port int) (metrics.Health, error) {
	var h metrics.Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://localhost:%d/health", port), nil)
	if err != nil {
		return h, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return h, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("invalid health response: %w", err)
	}
	return h, nil
}
