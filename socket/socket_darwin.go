//go:build darwin

// File: socket/socket_darwin.go
// Author: momentics <momentics@gmail.com>
//
// Darwin has no SOCK_NONBLOCK/SOCK_CLOEXEC socket() flags and no
// accept4; nonblocking and close-on-exec are set with separate fcntl
// calls after creation. SO_NOSIGPIPE at open time replaces Linux's
// per-send MSG_NOSIGNAL (spec.md §4.8's named per-platform extra).
package socket

import (
	"golang.org/x/sys/unix"

	"github.com/kestrelio/coreactor/ioerr"
)

func prepareFD(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
}

func newStreamFD() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return 0, err
	}
	if err := prepareFD(fd); err != nil {
		unix.Close(fd)
		return 0, err
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return fd, nil
}

func newAcceptorFD() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return 0, err
	}
	if err := prepareFD(fd); err != nil {
		unix.Close(fd)
		return 0, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return 0, err
	}
	return fd, nil
}

func acceptFD(fd int) (int, error, bool) {
	nfd, _, err := unix.Accept(fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil, true
		}
		return 0, ioerr.FromErrno(err), false
	}
	if err := prepareFD(nfd); err != nil {
		unix.Close(nfd)
		return 0, ioerr.FromErrno(err), false
	}
	return nfd, nil, false
}

func writeFD(fd int, buf []byte) (int, error, bool) {
	n, err := unix.Write(fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil, true
		}
		return 0, ioerr.FromErrno(err), false
	}
	return n, nil, false
}
