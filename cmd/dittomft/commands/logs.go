package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marmos91/dittomft/pkg/config"
)

var (
	logsFollow bool
	logsLines  int
	logsSince  string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Tail node logs",
	Long: `Print the end of the node log and optionally follow it.

The file is logging.output from the configuration. A daemon logging to
stdout writes to $XDG_STATE_HOME/dittomft/dittomft.log, which is read
instead.

Examples:
  # Last 100 lines
  dittomft logs

  # Last 20 lines, then follow
  dittomft logs -f -n 20

  # Records of the last hour
  dittomft logs --since 1h

  # Records since a point in time
  dittomft logs --since 2026-01-15T10:00:00Z`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "Number of lines to show")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Only records after a RFC3339 time or a duration ago (e.g. 30m)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	path, err := logFile(cfg.Logging.Output)
	if err != nil {
		return err
	}
	since, err := parseSince(logsSince, time.Now())
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	lines, err := tailLines(f, logsLines, since)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, l := range lines {
		_, _ = fmt.Fprintln(out, l)
	}
	if !logsFollow {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	_, _ = fmt.Fprintf(os.Stderr, "Following %s (Ctrl+C to stop)...\n", path)
	return follow(ctx, f, out)
}

// logFile resolves the file a node with the given logging.output writes to.
func logFile(output string) (string, error) {
	path := output
	if output == "stdout" || output == "stderr" {
		path = GetDefaultLogFile()
	}
	if _, err := os.Stat(path); err != nil {
		if path != output {
			return "", fmt.Errorf("node logs to %s, not a file; set logging.output to a file path to use this command", output)
		}
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("log file not found: %s (node not started yet?)", path)
		}
		return "", err
	}
	return path, nil
}

func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want a RFC3339 time or a duration", s)
	}
	return t, nil
}

// tailLines returns the last n lines of r. Lines with a record time before
// since are skipped; lines without one are kept.
func tailLines(r io.Reader, n int, since time.Time) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]string, n)
	count := 0

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !since.IsZero() {
			if ts := recordTime(line); !ts.IsZero() && ts.Before(since) {
				continue
			}
		}
		ring[count%n] = line
		count++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	if count <= n {
		return ring[:count], nil
	}
	start := count % n
	return append(ring[start:], ring[:start]...), nil
}

// follow copies what gets appended to f, from its current offset, until ctx
// is done.
func follow(ctx context.Context, f *os.File, w io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(f.Name()); err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}

	rd := bufio.NewReader(f)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) {
				if _, err := rd.WriteTo(w); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

// recordTime returns the time of a log record: the "time" field of a JSON
// record, the time= attribute of a text record, or a leading RFC3339 stamp.
// Zero when none parses.
func recordTime(line string) time.Time {
	candidates := make([]string, 0, 3)
	for _, key := range []string{`"time":"`, "time="} {
		if _, rest, ok := strings.Cut(line, key); ok {
			if end := strings.IndexAny(rest, "\" "); end >= 0 {
				rest = rest[:end]
			}
			candidates = append(candidates, rest)
		}
	}
	if first, _, ok := strings.Cut(line, " "); ok {
		candidates = append(candidates, first)
	}

	for _, c := range candidates {
		if t, err := time.Parse(time.RFC3339Nano, c); err == nil {
			return t
		}
	}
	return time.Time{}
}
