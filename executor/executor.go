// File: executor/executor.go
// Author: momentics <momentics@gmail.com>
//
// Package executor defines the affine awaitable protocol from spec.md
// §4.4: an Executor accepts posted work; a Dispatcher (here, simply
// another Executor value — spec.md allows a dispatcher to be "an executor
// or a type-erased reference to one, same contract") is threaded through
// every op so that, on completion, resumption is routed back through the
// correct executor.
//
// Go has no symmetric transfer (no manual stack handoff), so "the handle
// the caller should resume" from spec.md's Executor.dispatch is realized
// here as a plain function call: Dispatch either runs fn inline (the
// affine case — the calling code is already running on target's servicing
// thread) or posts it, exactly preserving invariant I3 without needing
// coroutine-frame resumption at all.
package executor

// Executor accepts work to be run on its servicing thread. A
// single-threaded Scheduler (see the scheduler package) is the canonical
// implementation; every I/O impl's context binds exactly one Executor for
// the lifetime of the impl (invariant I1's "one context per impl").
type Executor interface {
	// Post enqueues fn to run later on this executor's servicing thread.
	// Safe to call from any goroutine.
	Post(fn func())
}

// Dispatcher is the value captured by every awaitable at suspend and
// forwarded to the op it launches, per spec.md §4.4. It is defined as an
// alias of Executor rather than a distinct type because the affine
// protocol makes no further demands of it: "dispatch" and "post" are the
// entire contract.
type Dispatcher = Executor

// Dispatch implements the affine awaitable's resumption rule: if owner
// (the executor whose loop is presently running the calling code) is the
// same executor as target (the dispatcher captured at suspend), fn runs
// immediately — the Go analogue of symmetric transfer, since no stack
// hand-off is needed. Otherwise fn is posted to target so it always runs
// on the thread that owns it.
//
// owner may be nil (e.g. a reactor callback running on a raw OS thread
// with no executor of its own); in that case fn is always posted.
func Dispatch(owner, target Executor, fn func()) {
	if owner != nil && target == owner {
		fn()
		return
	}
	target.Post(fn)
}
