// File: task/task.go
// Author: momentics <momentics@gmail.com>
//
// Package task is the coroutine convenience layer spec.md §4.5 describes
// (task<T>, root_task, run_on) mapped onto Go's continuation-passing
// primitives per the redesign in SPEC_FULL.md §2: a task's body runs on
// its own goroutine, and every blocking call into the op layer
// (ioop.Op, socket.Socket, signal.Set) is expressed as Await, which
// parks that goroutine on a channel until the op's dispatched callback
// fires. Because every callback in this module is always run through
// executor.Dispatch, resumption still passes through the chosen
// dispatcher exactly as spec.md's affine awaitable protocol requires
// (invariant I3) — only the physical mechanism (channel receive instead
// of stack-frame resumption) differs.
package task

import "github.com/kestrelio/coreactor/executor"

// Context is the running task's handle to its own executor, the
// Go-native stand-in for a stored dispatcher reference threaded through
// every awaitable along a coroutine's call chain.
type Context struct {
	ex executor.Executor
}

// Executor returns the executor this task's Await calls dispatch
// through.
func (c *Context) Executor() executor.Executor { return c.ex }

// Future is task<T>'s result handle: Wait blocks until the task's body
// has returned.
type Future[T any] struct {
	done chan struct{}
	val  T
}

// Run maps task<T>: fn runs to completion on its own goroutine, dispatched
// through ex via one posted starter (mirroring root_task's "fixed,
// embedded starter work item" — async_run posts the starter to the
// executor rather than allocating an intermediate task object per call).
func Run[T any](ex executor.Executor, fn func(*Context) T) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	ex.Post(func() {
		ctx := &Context{ex: ex}
		go func() {
			defer close(f.done)
			f.val = fn(ctx)
		}()
	})
	return f
}

// Wait blocks until the task's body has returned and yields its result.
func (f *Future[T]) Wait() T {
	<-f.done
	return f.val
}

// Spawn maps root_task/async_run: fire-and-forget, no return value
// (spec.md's explicit non-goal — "no return value retrieval from a root
// task"). A panic inside fn is never recovered here, so it crashes the
// process exactly as spec.md's "unhandled exceptions terminate" requires;
// Go's own runtime already does this for any unrecovered goroutine panic.
func Spawn(ex executor.Executor, fn func(*Context)) {
	ex.Post(func() {
		ctx := &Context{ex: ex}
		go fn(ctx)
	})
}

// RunOn maps run_on(executor, task): fn runs with its Context's executor
// switched to ex, dispatched through executor.Dispatch from the calling
// context's executor so that if ex differs, control genuinely crosses
// executors before fn's body runs (a real suspension point per spec.md
// §5's ordering guarantees), and inline if it is the same executor.
func RunOn[T any](c *Context, ex executor.Executor, fn func(*Context) T) T {
	result := make(chan T, 1)
	executor.Dispatch(c.ex, ex, func() {
		inner := &Context{ex: ex}
		result <- fn(inner)
	})
	return <-result
}

// Await is the primitive every blocking call in a task's body reduces
// to: start is handed this context's executor as both owner and
// dispatcher (the common case — no executor switch in flight) and must
// eventually call resume exactly once, from wherever the underlying op's
// completion handler happens to run. Await blocks the calling goroutine
// until that happens.
func Await[T any](c *Context, start func(owner, dispatcher executor.Executor, resume func(T))) T {
	result := make(chan T, 1)
	start(c.ex, c.ex, func(v T) { result <- v })
	return <-result
}

// IOResult is the (error, bytes_transferred) pair spec.md §6 uses for
// every op-shaped completion.
type IOResult struct {
	Err error
	N   int
}

// AwaitIO adapts Await to the (owner, dispatcher, func(error, int))
// shape shared by every ioop/socket operation.
func AwaitIO(c *Context, start func(owner, dispatcher executor.Executor, cb func(error, int))) (error, int) {
	r := Await[IOResult](c, func(owner, dispatcher executor.Executor, resume func(IOResult)) {
		start(owner, dispatcher, func(err error, n int) { resume(IOResult{Err: err, N: n}) })
	})
	return r.Err, r.N
}
