//go:build windows
// +build windows

// File: reactor/reactor_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows IOCP reactor. Unlike epoll/kqueue this is proactor-shaped: an
// overlapped I/O call is submitted up front by the caller (the socket
// package), and Wait only pulls completion packets off the port — it
// never reports plain readiness. Register/Modify degrade to handle
// association since IOCP has no interest-set concept; see the Open
// Question decision in SPEC_FULL.md and DESIGN.md. Best-effort: this
// backend is not the primary target platform for this module.
package reactor

import (
	"time"

	"golang.org/x/sys/windows"
)

// wakeKey is the completion key used for synthetic Wake() packets; real
// I/O completions carry the userData supplied at Register time instead.
const wakeKey = ^uintptr(0)

type windowsReactor struct {
	iocp windows.Handle
}

// NewReactor constructs the Windows IOCP-backed Reactor.
func NewReactor() (Reactor, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return &windowsReactor{iocp: port}, nil
}

// Register associates handle with the completion port. interest is
// ignored: IOCP delivers a completion only for I/O actually submitted
// against the handle, so there is nothing to arm ahead of time.
func (r *windowsReactor) Register(fd uintptr, interest Interest, userData uintptr) error {
	_, err := windows.CreateIoCompletionPort(windows.Handle(fd), r.iocp, userData, 0)
	return err
}

// Modify is a no-op: IOCP has no interest set to narrow or widen.
func (r *windowsReactor) Modify(fd uintptr, interest Interest) error { return nil }

// Deregister is a no-op: closing the handle severs its IOCP association.
func (r *windowsReactor) Deregister(fd uintptr) error { return nil }

// Wait pulls one completion packet, translating its completion key back
// into the userData supplied at Register time.
func (r *windowsReactor) Wait(events []Event, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	ms := uint32(windows.INFINITE)
	if timeout >= 0 {
		ms = uint32(timeout / time.Millisecond)
	}

	var bytes uint32
	var key uintptr
	var overlapped *windows.Overlapped

	err := windows.GetQueuedCompletionStatus(r.iocp, &bytes, &key, &overlapped, ms)
	if err == windows.WAIT_TIMEOUT {
		return 0, nil
	}
	if key == wakeKey {
		return 0, nil
	}
	if err != nil && overlapped == nil {
		return 0, err
	}

	events[0] = Event{UserData: key, Readable: true, Writable: true, Err: err}
	return 1, nil
}

// Wake posts a synthetic completion packet carrying wakeKey so a blocked
// Wait call returns without waiting for real I/O.
func (r *windowsReactor) Wake() error {
	return windows.PostQueuedCompletionStatus(r.iocp, 0, wakeKey, nil)
}

// Close closes the completion port handle.
func (r *windowsReactor) Close() error {
	return windows.CloseHandle(r.iocp)
}
