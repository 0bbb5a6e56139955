//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) reactor. Level-triggered throughout (no EPOLLET): a fd
// stays reported ready until Modify narrows its interest or Deregister
// removes it, matching the Open Question decision recorded in
// SPEC_FULL.md and DESIGN.md. Wake uses an eventfd, the standard
// self-pipe replacement on Linux.
package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type fdState struct {
	interest Interest
	userData uintptr
}

// linuxReactor is an epoll-based event reactor.
type linuxReactor struct {
	epfd   int
	wakeFD int

	mu  sync.Mutex
	fds map[int32]*fdState
}

// NewReactor constructs the Linux epoll-backed Reactor.
func NewReactor() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	r := &linuxReactor{epfd: epfd, wakeFD: wakeFD, fds: make(map[int32]*fdState)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFD),
	}); err != nil {
		unix.Close(wakeFD)
		unix.Close(epfd)
		return nil, err
	}
	return r, nil
}

func epollFlags(i Interest) uint32 {
	var ev uint32
	if i&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if i&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Register adds fd to the epoll instance's watch set.
func (r *linuxReactor) Register(fd uintptr, interest Interest, userData uintptr) error {
	r.mu.Lock()
	r.fds[int32(fd)] = &fdState{interest: interest, userData: userData}
	r.mu.Unlock()

	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &unix.EpollEvent{
		Events: epollFlags(interest),
		Fd:     int32(fd),
	})
}

// Modify re-arms fd's interest set via EPOLL_CTL_MOD.
func (r *linuxReactor) Modify(fd uintptr, interest Interest) error {
	r.mu.Lock()
	st, ok := r.fds[int32(fd)]
	if ok {
		st.interest = interest
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(fd), &unix.EpollEvent{
		Events: epollFlags(interest),
		Fd:     int32(fd),
	})
}

// Deregister removes fd from the epoll instance's watch set.
func (r *linuxReactor) Deregister(fd uintptr) error {
	r.mu.Lock()
	delete(r.fds, int32(fd))
	r.mu.Unlock()
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

// Wait blocks in epoll_wait for up to timeout and fills events.
func (r *linuxReactor) Wait(events []Event, timeout time.Duration) (int, error) {
	raw := make([]unix.EpollEvent, len(events))
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(r.epfd, raw, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	out := 0
	for i := 0; i < n; i++ {
		fd := raw[i].Fd
		if int(fd) == r.wakeFD {
			var buf [8]byte
			unix.Read(r.wakeFD, buf[:])
			continue
		}

		r.mu.Lock()
		st := r.fds[fd]
		r.mu.Unlock()
		if st == nil {
			continue
		}

		ev := Event{Fd: uintptr(fd), UserData: st.userData}
		ev.Readable = raw[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0
		ev.Writable = raw[i].Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0
		if raw[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			ev.Err = socketError(int(fd))
		}
		events[out] = ev
		out++
	}
	return out, nil
}

// Wake interrupts a blocked Wait by writing to the eventfd.
func (r *linuxReactor) Wake() error {
	var one [8]byte
	one[0] = 1
	_, err := unix.Write(r.wakeFD, one[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// Close releases the epoll and eventfd descriptors.
func (r *linuxReactor) Close() error {
	unix.Close(r.wakeFD)
	return unix.Close(r.epfd)
}

func socketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}
