//go:build windows

// File: socket/socket_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows socket creation/accept/connect/read/write, matching the
// documented Open Question decision: the Windows backend is best-effort,
// not the primary target, since the reactor beneath it is proactor-
// shaped IOCP rather than a readiness multiplexer. This still honors the
// same try-first/register contract at the socket.Service level — a
// completion-based reactor simply reports "ready" once the completion
// packet has already arrived, so the non-blocking retry loop below never
// actually spins.
package socket

import (
	"net/netip"

	"golang.org/x/sys/windows"

	"github.com/kestrelio/coreactor/ioerr"
	"github.com/kestrelio/coreactor/ioop"
)

func sockaddrOf(ep Endpoint) *windows.SockaddrInet4 {
	sa := &windows.SockaddrInet4{Port: int(ep.Port())}
	sa.Addr = ep.Addr().As4()
	return sa
}

func endpointOf(sa windows.Sockaddr) (Endpoint, error) {
	in4, ok := sa.(*windows.SockaddrInet4)
	if !ok {
		return Endpoint{}, ioerr.ErrNotSupported
	}
	return netip.AddrPortFrom(netip.AddrFrom4(in4.Addr), uint16(in4.Port)), nil
}

func newStreamFD() (int, error) {
	fd, err := windows.Socket(windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return 0, err
	}
	if err := windows.SetNonblock(fd, true); err != nil {
		windows.Closesocket(fd)
		return 0, err
	}
	_ = windows.SetsockoptInt(fd, windows.IPPROTO_TCP, windows.TCP_NODELAY, 1)
	return int(fd), nil
}

func newAcceptorFD() (int, error) {
	fd, err := windows.Socket(windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return 0, err
	}
	if err := windows.SetNonblock(fd, true); err != nil {
		windows.Closesocket(fd)
		return 0, err
	}
	if err := windows.SetsockoptInt(fd, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
		windows.Closesocket(fd)
		return 0, err
	}
	return int(fd), nil
}

func bindFD(fd int, ep Endpoint) error {
	return windows.Bind(windows.Handle(fd), sockaddrOf(ep))
}

func listenFD(fd int, backlog int) error {
	return windows.Listen(windows.Handle(fd), backlog)
}

func getLocalAddr(fd int) (Endpoint, error) {
	sa, err := windows.Getsockname(windows.Handle(fd))
	if err != nil {
		return Endpoint{}, err
	}
	return endpointOf(sa)
}

func getRemoteAddr(fd int) (Endpoint, error) {
	sa, err := windows.Getpeername(windows.Handle(fd))
	if err != nil {
		return Endpoint{}, err
	}
	return endpointOf(sa)
}

func acceptFD(fd int) (int, error, bool) {
	nfd, _, err := windows.Accept(windows.Handle(fd))
	if err != nil {
		if err == windows.WSAEWOULDBLOCK {
			return 0, nil, true
		}
		return 0, ioerr.FromErrno(err), false
	}
	if err := windows.SetNonblock(nfd, true); err != nil {
		windows.Closesocket(nfd)
		return 0, ioerr.FromErrno(err), false
	}
	return int(nfd), nil, false
}

func readFD(fd int, buf []byte) (int, error, bool) {
	n, err := windows.Read(windows.Handle(fd), buf)
	if err != nil {
		if err == windows.WSAEWOULDBLOCK {
			return 0, nil, true
		}
		return 0, ioerr.FromErrno(err), false
	}
	return n, nil, false
}

func writeFD(fd int, buf []byte) (int, error, bool) {
	n, err := windows.Write(windows.Handle(fd), buf)
	if err != nil {
		if err == windows.WSAEWOULDBLOCK {
			return 0, nil, true
		}
		return 0, ioerr.FromErrno(err), false
	}
	return n, nil, false
}

// connectAttempt mirrors the unix non-blocking connect protocol: try
// connect once, and on WSAEWOULDBLOCK/WSAEINPROGRESS resolve the outcome
// via SO_ERROR once the socket reports writable.
func connectAttempt(fd int, ep Endpoint) ioop.Attempt {
	started := false
	return func() (int, error, bool) {
		h := windows.Handle(fd)
		if !started {
			started = true
			err := windows.Connect(h, sockaddrOf(ep))
			if err == nil {
				return 0, nil, false
			}
			if err == windows.WSAEWOULDBLOCK || err == windows.WSAEINPROGRESS {
				return 0, nil, true
			}
			return 0, ioerr.FromErrno(err), false
		}
		errno, err := windows.GetsockoptInt(h, windows.SOL_SOCKET, windows.SO_ERROR)
		if err != nil {
			return 0, ioerr.FromErrno(err), false
		}
		if errno != 0 {
			return 0, ioerr.FromErrno(windows.Errno(errno)), false
		}
		return 0, nil, false
	}
}

func setNoDelay(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_TCP, windows.TCP_NODELAY, v)
}

func setKeepAlive(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_KEEPALIVE, v)
}

func setLinger(fd int, seconds int) error {
	l := windows.Linger{}
	if seconds >= 0 {
		l.Onoff = 1
		l.Linger = int32(seconds)
	}
	return windows.SetsockoptLinger(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_LINGER, &l)
}

func setRecvBuf(fd int, n int) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_RCVBUF, n)
}

func setSendBuf(fd int, n int) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_SNDBUF, n)
}

func shutdownFD(fd int, how ShutdownHow) error {
	switch how {
	case ShutdownRead:
		return windows.Shutdown(windows.Handle(fd), windows.SHUT_RD)
	case ShutdownWrite:
		return windows.Shutdown(windows.Handle(fd), windows.SHUT_WR)
	default:
		return windows.Shutdown(windows.Handle(fd), windows.SHUT_RDWR)
	}
}

func closeFD(fd int) error {
	return windows.Closesocket(windows.Handle(fd))
}
