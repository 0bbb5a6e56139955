//go:build windows

// File: ioerr/errno_windows.go
// Author: momentics <momentics@gmail.com>
//
// Maps Windows socket errors to the platform-neutral taxonomy.

package ioerr

import "golang.org/x/sys/windows"

// FromErrno maps a raw Windows error to a sentinel error, or wraps it
// unchanged if there is no platform-neutral equivalent.
func FromErrno(errno error) error {
	switch errno {
	case windows.WSAECONNREFUSED:
		return ErrConnRefused
	case windows.WSAECONNRESET:
		return ErrConnReset
	case windows.WSAETIMEDOUT:
		return ErrTimedOut
	case windows.WSAEHOSTUNREACH, windows.WSAENETUNREACH:
		return ErrUnreachable
	case windows.WSAEWOULDBLOCK:
		return ErrWouldBlock
	case windows.WSAEINVAL:
		return ErrInvalidArg
	default:
		return errno
	}
}

// IsAgain reports whether errno signals a would-block/in-progress
// condition on Windows.
func IsAgain(errno error) bool {
	return errno == windows.WSAEWOULDBLOCK || errno == windows.WSAEINPROGRESS
}
