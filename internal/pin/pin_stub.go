//go:build !linux

// File: internal/pin/pin_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for platforms with no pure-Go thread-affinity
// syscall wrapper available (darwin has no public affinity API at all;
// windows affinity would need golang.org/x/sys/windows's
// SetThreadAffinityMask, not yet wired here since the reactor's own
// windows backend is already the pack's best-effort platform).
package pin

import "errors"

// pinPlatform is a stub for platforms where CPU affinity pinning is not
// supported.
func pinPlatform(cpuID int) error {
	return errors.New("pin: not supported on this platform")
}
