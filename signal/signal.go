// File: signal/signal.go
// Author: momentics <momentics@gmail.com>
//
// Package signal implements the POSIX signal service from spec.md
// §4.10: a process-wide, lock-protected registry mapping signal number
// to subscribed signal-sets, with reference-counted OS-level
// installation and per-registration pending-delivery counting so a
// signal that arrives with no waiter is not lost.
//
// Go's os/signal package already implements the async-signal-safe
// C-level handler spec.md's prose describes (the runtime's own signal
// handler forwards to a lock-free internal queue and only ever touches a
// channel send from a regular goroutine) — this package's job is purely
// the process-wide subscriber registry and delivering into the right
// scheduler's completion queue, exactly the seam the corpus's own
// prompt/signal_common.go leaves to signal.Notify plus a dispatch loop.
package signal

import (
	"context"
	"errors"
	"os"
	gosignal "os/signal"
	"sync"

	"github.com/kestrelio/coreactor/executor"
	"github.com/kestrelio/coreactor/ioerr"
	"github.com/kestrelio/coreactor/scheduler"
	"github.com/kestrelio/coreactor/workqueue"
)

// ErrConflictingFlags is returned when two registrations for the same
// signal disagree on whether an unwaited delivery should be queued.
var ErrConflictingFlags = errors.New("signal: conflicting queue-if-no-waiter flag for this signal")

var (
	processMu    sync.Mutex
	subscribers  = map[os.Signal]map[*Set]struct{}{}
	queueFlags   = map[os.Signal]bool{}
	deliveryCh   chan os.Signal
	dispatchOnce sync.Once
)

func startDispatchLoop() {
	dispatchOnce.Do(func() {
		deliveryCh = make(chan os.Signal, 128)
		go func() {
			for sig := range deliveryCh {
				processMu.Lock()
				sets := make([]*Set, 0, len(subscribers[sig]))
				for s := range subscribers[sig] {
					sets = append(sets, s)
				}
				processMu.Unlock()
				for _, s := range sets {
					s.deliver(sig)
				}
			}
		}()
	})
}

// subscribe registers set's interest in sig, installing the OS-level
// handler on the first subscriber and rejecting a conflicting
// queueIfNoWaiter flag from a second registration.
func subscribe(sig os.Signal, set *Set, queueIfNoWaiter bool) error {
	startDispatchLoop()

	processMu.Lock()
	defer processMu.Unlock()

	if existing, ok := queueFlags[sig]; ok && existing != queueIfNoWaiter {
		return ErrConflictingFlags
	}

	sigs, ok := subscribers[sig]
	if !ok {
		sigs = make(map[*Set]struct{})
		subscribers[sig] = sigs
		queueFlags[sig] = queueIfNoWaiter
		gosignal.Notify(deliveryCh, sig)
	}
	sigs[set] = struct{}{}
	return nil
}

// unsubscribe drops set's interest in sig, resetting the OS-level
// handler for sig entirely once the last subscriber leaves.
func unsubscribe(sig os.Signal, set *Set) {
	processMu.Lock()
	defer processMu.Unlock()

	sigs, ok := subscribers[sig]
	if !ok {
		return
	}
	delete(sigs, set)
	if len(sigs) == 0 {
		delete(subscribers, sig)
		delete(queueFlags, sig)
		gosignal.Reset(sig)
	}
}

// completion adapts a signal-wait outcome to workqueue.Item, the same
// dispatch shape ioop.Op.Execute uses.
type completion struct {
	err        error
	sig        os.Signal
	owner      executor.Executor
	dispatcher executor.Executor
	handler    func(error, os.Signal)
	stopCB     func()
}

func (c *completion) Execute() {
	if c.stopCB != nil {
		c.stopCB()
		c.stopCB = nil
	}
	handler, owner, dispatcher, err, sig := c.handler, c.owner, c.dispatcher, c.err, c.sig
	executor.Dispatch(owner, dispatcher, func() { handler(err, sig) })
}

func (c *completion) Destroy() {
	if c.stopCB != nil {
		c.stopCB()
		c.stopCB = nil
	}
}

// waiter is the single outstanding Wait on a Set (invariant I1: ops of
// the same kind on one impl are strictly sequential, so a Set never has
// more than one pending wait at a time).
type waiter struct {
	comp *completion
}

// Set is spec.md §6's signal-set surface: add(sig), remove(sig), clear,
// wait() -> (error, signum), cancel.
type Set struct {
	sched           *scheduler.Scheduler
	queueIfNoWaiter bool

	mu      sync.Mutex
	sigs    map[os.Signal]struct{}
	pending map[os.Signal]int
	w       *waiter
}

// NewSet constructs a signal-set bound to sched. queueIfNoWaiter selects
// this set's flag for the conflict check in subscribe: true means a
// signal delivered with no active Wait increments a pending count
// consumed by a later Wait, false means it is dropped.
func NewSet(sched *scheduler.Scheduler, queueIfNoWaiter bool) *Set {
	return &Set{
		sched:           sched,
		queueIfNoWaiter: queueIfNoWaiter,
		sigs:            make(map[os.Signal]struct{}),
		pending:         make(map[os.Signal]int),
	}
}

// Add subscribes this set to sig.
func (s *Set) Add(sig os.Signal) error {
	if err := subscribe(sig, s, s.queueIfNoWaiter); err != nil {
		return err
	}
	s.mu.Lock()
	s.sigs[sig] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Remove unsubscribes this set from sig.
func (s *Set) Remove(sig os.Signal) {
	unsubscribe(sig, s)
	s.mu.Lock()
	delete(s.sigs, sig)
	delete(s.pending, sig)
	s.mu.Unlock()
}

// Clear unsubscribes from every signal currently registered on this set.
func (s *Set) Clear() {
	s.mu.Lock()
	sigs := make([]os.Signal, 0, len(s.sigs))
	for sig := range s.sigs {
		sigs = append(sigs, sig)
	}
	s.mu.Unlock()
	for _, sig := range sigs {
		s.Remove(sig)
	}
}

// deliver is called by the process-wide dispatch loop when sig arrives
// for a subscriber. If a Wait is currently pending it is claimed and
// posted immediately; otherwise, if the set was created with
// queueIfNoWaiter, the delivery is queued as a pending count for a future
// Wait to consume, and without it the delivery is dropped.
func (s *Set) deliver(sig os.Signal) {
	s.mu.Lock()
	w := s.w
	if w != nil {
		s.w = nil
	} else if s.queueIfNoWaiter {
		s.pending[sig]++
	}
	s.mu.Unlock()

	if w != nil {
		w.comp.sig = sig
		s.sched.PushCompleted(w.comp)
	}
}

// Wait implements wait() -> (error, signum): if a signal for a
// subscribed number is already pending it resolves immediately,
// otherwise it registers as the set's single outstanding waiter.
func (s *Set) Wait(ctx context.Context, owner, dispatcher executor.Executor, handler func(error, os.Signal)) {
	comp := &completion{owner: owner, dispatcher: dispatcher, handler: handler}
	if ctx != nil && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() { s.Cancel() })
		comp.stopCB = func() { stop() }
	}

	s.mu.Lock()
	for sig := range s.sigs {
		if s.pending[sig] > 0 {
			s.pending[sig]--
			s.mu.Unlock()
			comp.sig = sig
			s.sched.PostItem(comp)
			return
		}
	}
	// Reserve the outstanding-work slot before publishing the waiter: a
	// concurrent deliver() also takes s.mu before reading s.w, so doing
	// this under the same critical section guarantees the reservation is
	// visible before deliver() can claim the waiter and push it to
	// completion, closing the window where the counter could transiently
	// go negative.
	s.w = &waiter{comp: comp}
	s.sched.OnWorkStarted()
	s.mu.Unlock()
}

// Cancel claims and posts the set's current waiter, if any, with
// ioerr.ErrCanceled.
func (s *Set) Cancel() {
	s.mu.Lock()
	w := s.w
	s.w = nil
	s.mu.Unlock()

	if w == nil {
		return
	}
	w.comp.err = ioerr.ErrCanceled
	s.sched.PushCompleted(w.comp)
}

var _ workqueue.Item = (*completion)(nil)
