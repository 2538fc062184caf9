//go:build !windows

package lock

import (
	"errors"
	"syscall"
)

// processAlive sends signal 0, which tests for existence without signalling.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
