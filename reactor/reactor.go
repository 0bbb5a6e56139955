// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Package reactor provides the core poll-mode event multiplexer
// abstraction and cross-platform implementations: epoll on Linux, kqueue
// on Darwin, IOCP on Windows, and a select-based fallback elsewhere. The
// scheduler package drives one Reactor per event loop, translating woken
// interest into completion-queue pushes.
package reactor

import (
	"errors"
	"time"
)

// Interest describes which readiness conditions a registration cares
// about. Registrations are level-triggered on every readiness backend
// (epoll, kqueue, select; the IOCP backend keeps no interest set — see
// SPEC_FULL.md's Open Question decisions): a still-ready fd keeps reporting
// until the caller re-arms with a narrower Interest or deregisters.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Event reports one readiness notification.
type Event struct {
	Fd uintptr
	// UserData is the opaque token supplied at Register time (Modify
	// keeps it) — the scheduler passes its handle-table token naming the
	// ReadyHandler (an ioop.Registration) for this fd.
	UserData uintptr
	Readable bool
	Writable bool
	// Err is non-nil when the backend observed an error/hangup condition
	// on this fd (EPOLLERR/EPOLLHUP, EV_EOF with a nonzero fflags, ...).
	Err error
}

// ErrUnsupported is returned by NewReactor on platforms with no backend.
var ErrUnsupported = errors.New("reactor: platform not supported")

// Reactor multiplexes readiness across registered file descriptors.
//
// Wait's timeout, when negative, blocks until an event or Wake arrives;
// zero polls without blocking; positive bounds the wait, letting the
// scheduler service due timers even with no I/O ready.
type Reactor interface {
	// Register begins watching fd for the given interest, associating
	// userData with every Event it produces.
	Register(fd uintptr, interest Interest, userData uintptr) error

	// Modify re-arms fd's interest set (used after every claim, since all
	// backends here are level-triggered/persistent rather than one-shot).
	Modify(fd uintptr, interest Interest) error

	// Deregister stops watching fd. Safe to call even if fd was never
	// registered or was already closed by the OS.
	Deregister(fd uintptr) error

	// Wait blocks up to timeout (or indefinitely if timeout < 0) and
	// appends ready events into events, returning the count appended.
	Wait(events []Event, timeout time.Duration) (n int, err error)

	// Wake interrupts a concurrently blocked Wait call from any
	// goroutine, used when new work is posted to an idle event loop.
	Wake() error

	// Close releases the reactor's underlying OS handle.
	Close() error
}
