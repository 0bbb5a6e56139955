//go:build linux || darwin

// File: ioerr/errno_unix.go
// Author: momentics <momentics@gmail.com>
//
// Maps POSIX errno values to the platform-neutral taxonomy.

package ioerr

import "golang.org/x/sys/unix"

// FromErrno maps a raw unix errno to a sentinel error, or wraps it
// unchanged if there is no platform-neutral equivalent.
func FromErrno(errno error) error {
	switch errno {
	case unix.ECONNREFUSED:
		return ErrConnRefused
	case unix.ECONNRESET:
		return ErrConnReset
	case unix.EPIPE:
		return ErrBrokenPipe
	case unix.ETIMEDOUT:
		return ErrTimedOut
	case unix.EHOSTUNREACH, unix.ENETUNREACH:
		return ErrUnreachable
	case unix.EAGAIN:
		return ErrWouldBlock
	case unix.EINVAL:
		return ErrInvalidArg
	default:
		return errno
	}
}

// IsAgain reports whether errno is EAGAIN/EWOULDBLOCK/EINPROGRESS, the
// three conditions that trigger the "register with reactor" path in the
// op start protocol (spec.md §4.7).
func IsAgain(errno error) bool {
	return errno == unix.EAGAIN || errno == unix.EWOULDBLOCK || errno == unix.EINPROGRESS
}
