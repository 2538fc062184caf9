//go:build windows

package lock

import (
	"os"
	"syscall"
)

// processAlive uses os.FindProcess plus a zero signal, as FindProcess always
// succeeds on Windows.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
