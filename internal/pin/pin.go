// File: internal/pin/pin.go
// Author: momentics <momentics@gmail.com>
//
// Package pin is the CPU affinity helper spec.md §6's "possible platform
// extension: pinning I/O threads to cores" names, wired into
// scheduler.WithPinnedThread. Platform-specific implementations live in
// separate files guarded by build tags, following affinity/affinity.go's
// split; unlike the teacher's cgo-based pthread_setaffinity_np, this one
// uses golang.org/x/sys/unix's pure-Go sched_setaffinity wrapper so the
// module never needs CGO enabled to build.
package pin

// Pin binds the calling OS thread to cpuID on supported platforms.
// Callers that need the binding to stick must have already called
// runtime.LockOSThread, since Go can otherwise migrate the calling
// goroutine to a different OS thread at any scheduling point.
func Pin(cpuID int) error {
	return pinPlatform(cpuID)
}
