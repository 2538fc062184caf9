//go:build windows

package cmd

import "os"

// shutdownSignals returns the OS signals that interrupt a running cycle.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
