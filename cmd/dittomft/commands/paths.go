package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/pkg/config"
)

// InitLogger applies the logging section of cfg.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// GetDefaultStateDir is where the daemon keeps its PID and log files:
// $XDG_STATE_HOME/dittomft, or %LOCALAPPDATA%\dittomft on Windows.
func GetDefaultStateDir() string {
	base := os.Getenv("XDG_STATE_HOME")
	fallback := []string{".local", "state"}
	if runtime.GOOS == "windows" {
		base = os.Getenv("LOCALAPPDATA")
		fallback = []string{"AppData", "Local"}
	}
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "dittomft")
		}
		base = filepath.Join(append([]string{home}, fallback...)...)
	}
	return filepath.Join(base, "dittomft")
}

func GetDefaultPidFile() string {
	return filepath.Join(GetDefaultStateDir(), "dittomft.pid")
}

func GetDefaultLogFile() string {
	return filepath.Join(GetDefaultStateDir(), "dittomft.log")
}

// getConfigSource names where the configuration came from, for the
// startup log.
func getConfigSource(configFile string) string {
	switch {
	case configFile != "":
		return configFile
	case config.DefaultConfigExists():
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
