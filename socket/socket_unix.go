//go:build linux || darwin

// File: socket/socket_unix.go
// Author: momentics <momentics@gmail.com>
//
// Syscall wrappers shared by the Linux and Darwin backends. Socket
// creation and accept differ enough between the two (SOCK_NONBLOCK and
// accept4 exist on Linux but not Darwin) to live in their own
// socket_linux.go/socket_darwin.go files; everything else operates
// identically through golang.org/x/sys/unix on both.
package socket

import (
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/kestrelio/coreactor/ioerr"
	"github.com/kestrelio/coreactor/ioop"
)

func sockaddrOf(ep Endpoint) *unix.SockaddrInet4 {
	sa := &unix.SockaddrInet4{Port: int(ep.Port())}
	sa.Addr = ep.Addr().As4()
	return sa
}

func endpointOf(sa unix.Sockaddr) (Endpoint, error) {
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return Endpoint{}, ioerr.ErrNotSupported
	}
	return netip.AddrPortFrom(netip.AddrFrom4(in4.Addr), uint16(in4.Port)), nil
}

func bindFD(fd int, ep Endpoint) error {
	return unix.Bind(fd, sockaddrOf(ep))
}

func listenFD(fd int, backlog int) error {
	return unix.Listen(fd, backlog)
}

func getLocalAddr(fd int) (Endpoint, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return Endpoint{}, err
	}
	return endpointOf(sa)
}

func getRemoteAddr(fd int) (Endpoint, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return Endpoint{}, err
	}
	return endpointOf(sa)
}

func readFD(fd int, buf []byte) (int, error, bool) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil, true
		}
		return 0, ioerr.FromErrno(err), false
	}
	return n, nil, false
}

// connectAttempt returns an ioop.Attempt implementing the classic
// non-blocking connect protocol: the first call issues connect(2); once
// EINPROGRESS registers the op for writability, every subsequent call
// (driven by a claim on write-readiness) resolves the outcome via
// SO_ERROR instead of calling connect again.
func connectAttempt(fd int, ep Endpoint) ioop.Attempt {
	started := false
	return func() (int, error, bool) {
		if !started {
			started = true
			err := unix.Connect(fd, sockaddrOf(ep))
			if err == nil {
				return 0, nil, false
			}
			if err == unix.EINPROGRESS {
				return 0, nil, true
			}
			return 0, ioerr.FromErrno(err), false
		}
		errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return 0, ioerr.FromErrno(err), false
		}
		if errno != 0 {
			return 0, ioerr.FromErrno(unix.Errno(errno)), false
		}
		return 0, nil, false
	}
}

func setNoDelay(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

func setKeepAlive(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v)
}

func setLinger(fd int, seconds int) error {
	l := unix.Linger{Onoff: 0, Linger: 0}
	if seconds >= 0 {
		l.Onoff = 1
		l.Linger = int32(seconds)
	}
	return unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &l)
}

func setRecvBuf(fd int, n int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, n)
}

func setSendBuf(fd int, n int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, n)
}

func shutdownFD(fd int, how ShutdownHow) error {
	switch how {
	case ShutdownRead:
		return unix.Shutdown(fd, unix.SHUT_RD)
	case ShutdownWrite:
		return unix.Shutdown(fd, unix.SHUT_WR)
	default:
		return unix.Shutdown(fd, unix.SHUT_RDWR)
	}
}

func closeFD(fd int) error {
	return unix.Close(fd)
}
