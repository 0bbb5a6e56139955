//go:build linux

// File: internal/pin/pin_linux.go
// Author: momentics <momentics@gmail.com>

package pin

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pinPlatform sets the calling thread's CPU affinity mask to the single
// core cpuID via sched_setaffinity(2), reached through x/sys/unix's pure
// Go syscall wrapper.
func pinPlatform(cpuID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("pin: sched_setaffinity failed: %w", err)
	}
	return nil
}
