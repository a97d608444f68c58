//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// killGroup sends SIGKILL to the process group led by pid. It falls back to
// the single process when no such group exists.
func killGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(pid, syscall.SIGKILL)
	}
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
