//go:build !windows

package commands

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// startDaemon runs "start --foreground" in a new session, detached from the
// terminal, with its output appended to the log file.
func startDaemon() error {
	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}
	if pid, running := runningPid(pidPath); running {
		return fmt.Errorf("DittoMFT is already running (PID %d)\nUse 'dittomft stop' to stop it", pid)
	}
	_ = os.Remove(pidPath)

	logPath := logFilePath
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}
	if err := os.MkdirAll(GetDefaultStateDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	logOut, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = logOut.Close() }()

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	args := []string{"start", "--foreground", "--pid-file", pidPath}
	if cfg := GetConfigFile(); cfg != "" {
		args = append(args, "--config", cfg)
	}

	child := exec.Command(self, args...)
	child.Stdout = logOut
	child.Stderr = logOut
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("DittoMFT started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'dittomft status' to check the node and 'dittomft stop' to stop it")
	return child.Process.Release()
}
