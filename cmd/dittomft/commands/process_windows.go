//go:build windows

package commands

import (
	"fmt"
	"os"
)

func processAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

func signalStop(pid int, force bool) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return os.ErrProcessDone
	}
	if force {
		return p.Kill()
	}
	if err := p.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("interrupt is not deliverable on windows, use --force: %w", err)
	}
	return nil
}

func startDaemon() error {
	return fmt.Errorf("daemon mode is not supported on Windows, use --foreground")
}
