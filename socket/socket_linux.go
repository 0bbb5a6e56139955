//go:build linux

// File: socket/socket_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux socket creation/accept/write, matching spec.md §4.8's per-platform
// extras: MSG_NOSIGNAL on every send instead of a process-wide SIGPIPE
// ignore, SOCK_NONBLOCK|SOCK_CLOEXEC at creation time.
package socket

import (
	"golang.org/x/sys/unix"

	"github.com/kestrelio/coreactor/ioerr"
)

func newStreamFD() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return 0, err
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return fd, nil
}

func newAcceptorFD() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return 0, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return 0, err
	}
	return fd, nil
}

func acceptFD(fd int) (int, error, bool) {
	nfd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil, true
		}
		return 0, ioerr.FromErrno(err), false
	}
	return nfd, nil, false
}

func writeFD(fd int, buf []byte) (int, error, bool) {
	n, err := unix.SendmsgN(fd, buf, nil, nil, unix.MSG_NOSIGNAL)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil, true
		}
		return 0, ioerr.FromErrno(err), false
	}
	return n, nil, false
}
