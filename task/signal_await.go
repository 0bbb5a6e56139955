// File: task/signal_await.go
// Author: momentics <momentics@gmail.com>
//
// Adapts Await to the (error, os.Signal) completion shape of
// signal.Set.Wait, kept in its own file since it is the only piece of
// this package that needs to know about os.Signal.
package task

import (
	"os"

	"github.com/kestrelio/coreactor/executor"
)

// SignalResult is the (error, signum) pair spec.md §6 names for
// signal-set waits.
type SignalResult struct {
	Err error
	Sig os.Signal
}

// AwaitSignal adapts Await to signal.Set.Wait's callback shape.
func AwaitSignal(c *Context, start func(owner, dispatcher executor.Executor, cb func(error, os.Signal))) (error, os.Signal) {
	r := Await[SignalResult](c, func(owner, dispatcher executor.Executor, resume func(SignalResult)) {
		start(owner, dispatcher, func(err error, sig os.Signal) { resume(SignalResult{Err: err, Sig: sig}) })
	})
	return r.Err, r.Sig
}
