//go:build darwin

// File: reactor/reactor_darwin.go
// Author: momentics <momentics@gmail.com>
//
// Darwin kqueue(2) reactor. Filters are added with persistent EV_ADD (not
// EV_ONESHOT), matching the level-triggered/persistent-registration
// choice made for the Linux backend — see the Open Question decision in
// SPEC_FULL.md and DESIGN.md. Modeled on the Go runtime's own kqueue
// netpoller (retrieved as reference material), adapted here for a
// userspace reactor rather than integration with the scheduler runtime.
package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type darwinReactor struct {
	kq int

	wakeR, wakeW int

	mu   sync.Mutex
	data map[int]uintptr
}

// NewReactor constructs the Darwin kqueue-backed Reactor.
func NewReactor() (Reactor, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	if err := unix.CloseOnExec(kq); err != nil {
		unix.Close(kq)
		return nil, err
	}
	r, w, err := selfPipe()
	if err != nil {
		unix.Close(kq)
		return nil, err
	}

	rc := &darwinReactor{kq: kq, wakeR: r, wakeW: w, data: make(map[int]uintptr)}
	wakeEvent := unix.Kevent_t{
		Ident:  uint64(r),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD,
	}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{wakeEvent}, nil, nil); err != nil {
		unix.Close(kq)
		unix.Close(r)
		unix.Close(w)
		return nil, err
	}
	return rc, nil
}

func selfPipe() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		return 0, 0, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

// disabledUnless returns EV_ADD's companion flag for a filter that should
// stay registered but not currently report: kqueue has no notion of
// "registered without an interest bit", so an uninterested filter is kept
// EV_DISABLE'd rather than removed, letting Modify re-enable it cheaply.
func disabledUnless(want bool) uint16 {
	if want {
		return 0
	}
	return unix.EV_DISABLE
}

func interestChanges(fd uintptr, interest Interest) []unix.Kevent_t {
	return []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | disabledUnless(interest&Readable != 0)},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | disabledUnless(interest&Writable != 0)},
	}
}

// Register arms both filters persistently, disabling whichever the caller
// did not ask for; Modify below only ever toggles EV_ENABLE/EV_DISABLE.
func (r *darwinReactor) Register(fd uintptr, interest Interest, userData uintptr) error {
	r.mu.Lock()
	r.data[int(fd)] = userData
	r.mu.Unlock()
	_, err := unix.Kevent(r.kq, interestChanges(fd, interest), nil, nil)
	return err
}

func (r *darwinReactor) Modify(fd uintptr, interest Interest) error {
	_, err := unix.Kevent(r.kq, interestChanges(fd, interest), nil, nil)
	return err
}

func (r *darwinReactor) Deregister(fd uintptr) error {
	r.mu.Lock()
	delete(r.data, int(fd))
	r.mu.Unlock()
	events := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	// Closing fd already drops kqueue registrations; ignore ENOENT here.
	unix.Kevent(r.kq, events, nil, nil)
	return nil
}

func (r *darwinReactor) Wait(events []Event, timeout time.Duration) (int, error) {
	raw := make([]unix.Kevent_t, len(events))
	var ts *unix.Timespec
	if timeout >= 0 {
		spec := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &spec
	}

	n, err := unix.Kevent(r.kq, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	out := 0
	for i := 0; i < n; i++ {
		fd := int(raw[i].Ident)
		if fd == r.wakeR {
			var buf [64]byte
			unix.Read(r.wakeR, buf[:])
			continue
		}
		r.mu.Lock()
		ud, ok := r.data[fd]
		r.mu.Unlock()
		if !ok {
			continue
		}
		ev := Event{Fd: uintptr(fd), UserData: ud}
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			ev.Readable = true
		case unix.EVFILT_WRITE:
			ev.Writable = true
		}
		if raw[i].Flags&unix.EV_EOF != 0 && raw[i].Fflags != 0 {
			ev.Err = unix.Errno(raw[i].Fflags)
		}
		events[out] = ev
		out++
	}
	return out, nil
}

func (r *darwinReactor) Wake() error {
	var b [1]byte
	_, err := unix.Write(r.wakeW, b[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (r *darwinReactor) Close() error {
	unix.Close(r.wakeR)
	unix.Close(r.wakeW)
	return unix.Close(r.kq)
}
