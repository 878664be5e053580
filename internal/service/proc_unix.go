//go:build !windows

package service

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// configureProcess puts the worker into its own process group, so the
// browser processes it spawns can be signalled together.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateTree sends SIGTERM to the worker process group, waits up to
// grace for the worker to exit and then sends SIGKILL to the group.
func terminateTree(cmd *exec.Cmd, grace time.Duration, done <-chan struct{}) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		// leader already reaped, the group id equals its pid
		pgid = pid
	}

	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("sending SIGTERM to group %d: %w", pgid, err)
	}
	select {
	case <-done:
	case <-time.After(grace):
	}
	// the group may outlive its leader
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("sending SIGKILL to group %d: %w", pgid, err)
	}
	return nil
}
