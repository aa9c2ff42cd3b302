package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/internal/telemetry"
	"github.com/marmos91/dittomft/pkg/adapter/mft"
	"github.com/marmos91/dittomft/pkg/config"
	"github.com/marmos91/dittomft/pkg/transfer"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/dittomft/pkg/metrics/prometheus"
)

var (
	foreground  bool
	pidFile     string
	logFilePath string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the DittoMFT node",
	Long: `Start the DittoMFT node with the specified configuration.

By default, the node runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/dittomft/config.yaml.

Examples:
  # Start in background (default)
  dittomft start

  # Start in foreground
  dittomft start --foreground

  # Start with custom config file
  dittomft start --config /etc/dittomft/config.yaml

  # Start with environment variable overrides
  DITTOMFT_LOGGING_LEVEL=DEBUG dittomft start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/dittomft/dittomft.pid)")
	startCmd.Flags().StringVar(&logFilePath, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/dittomft/dittomft.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "dittomft",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "dittomft",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	fmt.Println("DittoMFT - Managed file transfer node")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	// Metrics come first so the badger store registers its collectors.
	var st transfer.Store
	metricsResult := config.InitializeMetrics(cfg, func(ctx context.Context) error {
		return st.Healthcheck(ctx)
	})

	st, err = config.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close error", logger.KeyError, err)
		}
	}()

	eng, err := config.NewEngine(ctx, cfg, st, metricsResult.MFT)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	server, err := mft.New(eng.Network, eng.Handler, eng.Metrics)
	if err != nil {
		return fmt.Errorf("failed to create MFT server: %w", err)
	}
	// A partner's Shutdown order stops the node like a signal does.
	eng.Handler.SetShutdownFunc(cancel)

	if pidFile != "" {
		removePid, err := writePid(pidFile)
		if err != nil {
			return err
		}
		defer removePid()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer stopCancel()
		return server.Stop(stopCtx)
	})
	if metricsResult.Server != nil {
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
		g.Go(func() error {
			return metricsResult.Server.Serve(gctx)
		})
	} else {
		logger.Info("Metrics collection disabled")
	}

	logger.Info("Node is running. Press Ctrl+C to stop.",
		logger.KeyHostID, cfg.Host.ID, "port", cfg.Server.Port)

	if err := g.Wait(); err != nil {
		logger.Error("Node stopped with error", logger.KeyError, err)
		return err
	}
	logger.Info("Node stopped gracefully")
	return nil
}
