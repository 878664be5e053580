//go:build windows

package service

import (
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NO_WINDOW}
}

// terminateTree asks the process tree to close with taskkill /T, waits up
// to grace and then force kills the tree.
func terminateTree(cmd *exec.Cmd, grace time.Duration, done <-chan struct{}) error {
	if cmd.Process == nil {
		return nil
	}
	pid := strconv.Itoa(cmd.Process.Pid)
	_ = taskkill("/T", "/PID", pid)
	select {
	case <-done:
		return nil
	case <-time.After(grace):
	}
	if err := taskkill("/F", "/T", "/PID", pid); err != nil {
		return fmt.Errorf("taskkill %s: %w", pid, err)
	}
	return nil
}

func taskkill(args ...string) error {
	cmd := exec.Command("taskkill", args...)
	configureProcess(cmd)
	return cmd.Run()
}
