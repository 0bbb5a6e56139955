// File: ioop/ioop.go
// Author: momentics <momentics@gmail.com>
//
// Package ioop implements the I/O operation state machine from spec.md
// §4.7: the try-first start protocol, the atomic claim-and-complete race
// between the reactor thread and any concurrent cancellation (invariant
// I2 — exactly one completion path), and the completion handler's
// EOF/error/cancellation policy.
//
// Go has no coroutine handle to store; an Op instead carries a plain
// Handler callback plus the executor pair (owner, dispatcher) the affine
// protocol needs to route that callback back onto the right executor at
// resume time (see the executor package).
//
// A stop-token is realized as a context.Context: BindContext arms
// context.AfterFunc(ctx, op.Cancel), which is exactly spec.md's "optional
// stop-callback object bound to the caller's stop-token" — released the
// same way, in step 1 of the completion handler.
package ioop

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kestrelio/coreactor/executor"
	"github.com/kestrelio/coreactor/ioerr"
	"github.com/kestrelio/coreactor/reactor"
	"github.com/kestrelio/coreactor/scheduler"
	"github.com/kestrelio/coreactor/workqueue"
)

const (
	unregistered int32 = iota
	registering
	registered
)

// Handler is invoked exactly once when an Op completes, whether by
// success, system error, or cancellation.
type Handler func(err error, n int)

// Attempt performs one non-blocking try of the underlying syscall. It
// returns the transferred byte count, a mapped error (nil on success),
// and wouldBlock=true when the caller should register with the reactor
// and wait instead (EAGAIN/EWOULDBLOCK/EINPROGRESS).
type Attempt func() (n int, err error, wouldBlock bool)

// Op is one fixed slot of the "operation" data model from spec.md §3: a
// single in-flight (or idle, reusable) async operation belonging to one
// Registration.
type Op struct {
	reg      *Registration
	filter   reactor.Interest
	isRead   bool
	emptyBuf bool

	cancelled atomic.Bool
	regState  atomic.Int32

	handler    Handler
	dispatcher executor.Executor
	owner      executor.Executor

	attempt Attempt

	stopCB           func()
	releaseKeepAlive func()

	n   int
	err error
}

// NewOp constructs an idle Op bound to reg. filter selects which
// readiness this op waits for (Readable for reads/accepts, Writable for
// writes/connects); isRead and emptyBuf feed the EOF policy; owner is the
// executor whose loop will run Start/claim/Cancel (used for the affine
// Dispatch decision), dispatcher is the executor captured at suspend.
func NewOp(reg *Registration, filter reactor.Interest, isRead, emptyBuf bool, attempt Attempt, owner, dispatcher executor.Executor, handler Handler) *Op {
	return &Op{
		reg: reg, filter: filter, isRead: isRead, emptyBuf: emptyBuf,
		attempt: attempt, owner: owner, dispatcher: dispatcher, handler: handler,
	}
}

// BindContext arms ctx as this op's stop-token: cancellation of ctx
// triggers the same claim-and-post cancellation path as a direct Cancel
// call. Safe to call before Start.
func (op *Op) BindContext(ctx context.Context) {
	if ctx == nil || ctx.Done() == nil {
		return
	}
	stop := context.AfterFunc(ctx, op.Cancel)
	op.stopCB = func() { stop() }
}

// SetKeepAlive installs a release function called exactly once, before
// the handler runs, once the op's outcome (success, error, or
// cancellation) is settled — the Go equivalent of spec.md's impl
// keep-alive reference.
func (op *Op) SetKeepAlive(release func()) { op.releaseKeepAlive = release }

// Start implements the try-first protocol: attempt the syscall once, and
// either post the outcome immediately or register with the reactor and
// wait.
func (op *Op) Start() {
	n, err, wouldBlock := op.attempt()
	if !wouldBlock {
		op.n, op.err = n, err
		op.reg.sched.PostItem(op)
		return
	}
	op.reg.sched.OnWorkStarted()
	op.beginWait()
}

// beginWait executes the EAGAIN branch of the start protocol and is also
// reused to re-arm after a spurious readiness wakeup (see claim below):
// set registering, ask the Registration to arm this op's filter, then CAS
// registering -> registered. A CAS failure means the reactor already
// fired (or a cancellation ran) between arm() and here; the winner of
// that race is responsible for posting.
func (op *Op) beginWait() {
	op.regState.Store(registering)
	if err := op.reg.arm(op); err != nil {
		op.n, op.err = 0, err
		op.regState.Store(unregistered)
		op.reg.sched.PushCompleted(op)
		return
	}
	if !op.regState.CompareAndSwap(registering, registered) {
		op.reg.disarm(op.filter)
		return
	}
	if op.cancelled.Load() {
		if op.regState.CompareAndSwap(registered, unregistered) {
			op.reg.disarm(op.filter)
			op.err = ioerr.ErrCanceled
			op.reg.sched.PushCompleted(op)
		}
	}
}

// claim is invoked by the Registration on the goroutine processing
// reactor readiness. It performs the atomic exchange that grants exactly
// one completion path (invariant I2): only a caller that observes the
// prior state as registered may proceed. reactorErr carries a backend-
// observed error/hangup condition (EPOLLERR/EPOLLHUP, kqueue EV_EOF),
// bypassing a redundant syscall attempt.
//
// It returns the Op itself as a workqueue.Item when there is a
// completion to post, nil if the race was lost (already cancelled and
// claimed by Cancel) or the readiness was spurious and the op has gone
// back to waiting.
func (op *Op) claim(reactorErr error) workqueue.Item {
	if !op.regState.CompareAndSwap(registered, unregistered) {
		return nil
	}
	if op.cancelled.Load() {
		op.err = ioerr.ErrCanceled
		return op
	}
	if reactorErr != nil {
		op.err = ioerr.FromErrno(reactorErr)
		return op
	}
	n, err, wouldBlock := op.attempt()
	if wouldBlock {
		op.beginWait()
		return nil
	}
	op.n, op.err = n, err
	return op
}

// Cancel implements the direct cancel() path shared by stop-tokens, the
// user calling cancel() on the I/O object, and close(): every source
// funnels through the same claim-and-post exchange.
func (op *Op) Cancel() {
	if !op.cancelled.CompareAndSwap(false, true) {
		return
	}
	if op.regState.CompareAndSwap(registered, unregistered) {
		op.reg.disarm(op.filter)
		op.err = ioerr.ErrCanceled
		op.reg.sched.PushCompleted(op)
	}
	// If regState was registering, beginWait's own post-CAS cancellation
	// check (above) observes cancelled and posts once it settles. If it
	// was unregistered, the op is idle or already completing elsewhere;
	// nothing to do.
}

// Execute implements workqueue.Item: spec.md §4.7's completion handler
// "operator()".
func (op *Op) Execute() {
	if op.stopCB != nil {
		op.stopCB()
		op.stopCB = nil
	}

	err := op.err
	if err == nil && op.isRead && op.n == 0 && !op.emptyBuf {
		err = ioerr.ErrEOF
	}

	if op.releaseKeepAlive != nil {
		op.releaseKeepAlive()
		op.releaseKeepAlive = nil
	}

	handler, owner, dispatcher, n := op.handler, op.owner, op.dispatcher, op.n
	executor.Dispatch(owner, dispatcher, func() { handler(err, n) })
}

// Destroy implements workqueue.Item for the shutdown-drain path: it
// releases the stop-callback and keep-alive without invoking the
// handler, matching spec.md's work-item contract ("destroy() discards an
// unexecuted item").
func (op *Op) Destroy() {
	if op.stopCB != nil {
		op.stopCB()
		op.stopCB = nil
	}
	if op.releaseKeepAlive != nil {
		op.releaseKeepAlive()
		op.releaseKeepAlive = nil
	}
}

// Registration is the per-fd reactor registration shared by every Op
// slot belonging to one impl. A single fd is registered with the reactor
// once; independent read and write ops multiplex over it by filter bit,
// matching the level-triggered/persistent backends' "modify interest on
// each claim" re-arm scheme (see SPEC_FULL.md's Open Question decisions).
type Registration struct {
	sched *scheduler.Scheduler
	fd    uintptr
	token uintptr

	mu       sync.Mutex
	interest reactor.Interest
	waiting  map[reactor.Interest]*Op
}

// NewRegistration registers fd with sched's reactor with no initial
// interest; individual Op.Start calls arm the bits they need.
func NewRegistration(sched *scheduler.Scheduler, fd uintptr) (*Registration, error) {
	r := &Registration{sched: sched, fd: fd, waiting: make(map[reactor.Interest]*Op)}
	token, err := sched.RegisterReady(fd, 0, r)
	if err != nil {
		return nil, err
	}
	r.token = token
	return r, nil
}

// Close deregisters fd from the reactor. Callers must ensure no Op on
// this Registration is still waiting.
func (r *Registration) Close() error {
	return r.sched.DeregisterReady(r.fd, r.token)
}

func (r *Registration) arm(op *Op) error {
	r.mu.Lock()
	r.waiting[op.filter] = op
	r.interest |= op.filter
	interest := r.interest
	r.mu.Unlock()
	return r.sched.ModifyReady(r.fd, interest)
}

func (r *Registration) disarm(filter reactor.Interest) {
	r.mu.Lock()
	delete(r.waiting, filter)
	r.interest &^= filter
	interest := r.interest
	r.mu.Unlock()
	r.sched.ModifyReady(r.fd, interest)
}

// CancelAll cancels every op currently waiting on this registration —
// the fan-out used by a socket/acceptor's cancel() (spec.md §4.8):
// "cancel(impl): claim and post all pending ops on that impl."
func (r *Registration) CancelAll() {
	r.mu.Lock()
	ops := make([]*Op, 0, len(r.waiting))
	for _, op := range r.waiting {
		ops = append(ops, op)
	}
	r.mu.Unlock()
	for _, op := range ops {
		op.Cancel()
	}
}

// HandleReady implements scheduler.ReadyHandler. A single readiness
// event can ready both a pending read and a pending write op at once
// (e.g. a freshly-connected socket); the first claimed completion is
// returned to the scheduler directly, and any further ones are pushed
// via PushCompleted so nothing is dropped.
func (r *Registration) HandleReady(ev reactor.Event) workqueue.Item {
	r.mu.Lock()
	var candidates []*Op
	if ev.Readable {
		if op, ok := r.waiting[reactor.Readable]; ok {
			candidates = append(candidates, op)
		}
	}
	if ev.Writable {
		if op, ok := r.waiting[reactor.Writable]; ok {
			candidates = append(candidates, op)
		}
	}
	r.mu.Unlock()

	var claimed []workqueue.Item
	for _, op := range candidates {
		if item := op.claim(ev.Err); item != nil {
			r.disarm(op.filter)
			claimed = append(claimed, item)
		}
	}

	if len(claimed) == 0 {
		return nil
	}
	for _, item := range claimed[1:] {
		r.sched.PushCompleted(item)
	}
	return claimed[0]
}
