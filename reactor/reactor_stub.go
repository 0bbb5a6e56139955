//go:build !linux && !windows && !darwin
// +build !linux,!windows,!darwin

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// select(2)-based fallback reactor for platforms with no dedicated
// backend (the BSDs beyond Darwin, etc). golang.org/x/sys/unix carries
// select on every unix variant, so this trades scalability (O(n) per
// wait, capped fd count) for portability rather than leaving these
// platforms with no reactor at all.
package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type stubReactor struct {
	mu   sync.Mutex
	fds  map[int]struct {
		interest Interest
		userData uintptr
	}
	wakeR, wakeW int
}

// NewReactor constructs the select-based fallback Reactor.
func NewReactor() (Reactor, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}
	unix.SetNonblock(p[0], true)
	unix.SetNonblock(p[1], true)
	return &stubReactor{
		fds: make(map[int]struct {
			interest Interest
			userData uintptr
		}),
		wakeR: p[0],
		wakeW: p[1],
	}, nil
}

func (r *stubReactor) Register(fd uintptr, interest Interest, userData uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fds[int(fd)] = struct {
		interest Interest
		userData uintptr
	}{interest, userData}
	return nil
}

func (r *stubReactor) Modify(fd uintptr, interest Interest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.fds[int(fd)]; ok {
		st.interest = interest
		r.fds[int(fd)] = st
	}
	return nil
}

func (r *stubReactor) Deregister(fd uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fds, int(fd))
	return nil
}

func (r *stubReactor) Wait(events []Event, timeout time.Duration) (int, error) {
	r.mu.Lock()
	var readSet, writeSet unix.FdSet
	maxFD := r.wakeR
	addFD(&readSet, r.wakeR)
	for fd, st := range r.fds {
		if st.interest&Readable != 0 {
			addFD(&readSet, fd)
		}
		if st.interest&Writable != 0 {
			addFD(&writeSet, fd)
		}
		if fd > maxFD {
			maxFD = fd
		}
	}
	snapshot := make(map[int]struct {
		interest Interest
		userData uintptr
	}, len(r.fds))
	for k, v := range r.fds {
		snapshot[k] = v
	}
	r.mu.Unlock()

	var tv *unix.Timeval
	if timeout >= 0 {
		t := unix.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}

	_, err := unix.Select(maxFD+1, &readSet, &writeSet, nil, tv)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	out := 0
	if fdIsSet(&readSet, r.wakeR) {
		var buf [64]byte
		unix.Read(r.wakeR, buf[:])
	}
	for fd, st := range snapshot {
		readable := fdIsSet(&readSet, fd)
		writable := fdIsSet(&writeSet, fd)
		if !readable && !writable {
			continue
		}
		if out >= len(events) {
			break
		}
		events[out] = Event{Fd: uintptr(fd), UserData: st.userData, Readable: readable, Writable: writable}
		out++
	}
	return out, nil
}

func (r *stubReactor) Wake() error {
	var b [1]byte
	_, err := unix.Write(r.wakeW, b[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (r *stubReactor) Close() error {
	unix.Close(r.wakeR)
	unix.Close(r.wakeW)
	return nil
}

// addFD/fdIsSet assume a 64-bit Bits word, true for every unix.FdSet
// layout x/sys currently generates; this backend targets rare platforms
// and is not exercised in CI, so revisit if a 32-bit-word target appears.
func addFD(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
