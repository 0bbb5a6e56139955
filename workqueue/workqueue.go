// File: workqueue/workqueue.go
// Author: momentics <momentics@gmail.com>
//
// Package workqueue implements the intrusive work-item FIFO described in
// spec.md §4.1: a queue of executable units with no allocation per enqueue
// beyond the growable ring buffer backing it. It is deliberately not
// thread-safe — callers (the scheduler) serialize access with their own
// mutex, exactly as spec.md §4.6 requires.
//
// The teacher package builds bespoke ring buffers for this shape
// (internal/concurrency/lock_free_queue.go, internal/concurrency/ring.go)
// wherever it needs a FIFO of tasks. Rather than hand-rolling another one,
// this package wires the growable ring buffer the teacher's own go.mod
// already declares but never imports: github.com/eapache/queue.
package workqueue

import "github.com/eapache/queue"

// Item is a unit of executable work with an intrusive lifecycle: Execute
// runs it (and, for heap-allocated items, releases it), Destroy discards
// it unexecuted. Items must never be deleted/dropped directly by a holder
// of a Queue — always go through one of these two methods so that
// keep-alive references and completion bookkeeping fire exactly once.
type Item interface {
	// Execute runs the item's action. Called by the scheduler when the
	// item reaches the front of the completion queue.
	Execute()

	// Destroy discards the item without running it. Called when the
	// owning queue is torn down with pending work still enqueued.
	Destroy()
}

// Queue is an intrusive, non-thread-safe FIFO of Items.
type Queue struct {
	q *queue.Queue
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{q: queue.New()}
}

// Push enqueues item at the back of the queue.
func (wq *Queue) Push(item Item) {
	wq.q.Add(item)
}

// PushQueue splices other onto the back of wq and empties other.
func (wq *Queue) PushQueue(other *Queue) {
	for other.q.Length() > 0 {
		wq.q.Add(other.q.Remove())
	}
}

// Pop removes and returns the item at the front of the queue, or nil if
// the queue is empty.
func (wq *Queue) Pop() Item {
	if wq.q.Length() == 0 {
		return nil
	}
	return wq.q.Remove().(Item)
}

// Empty reports whether the queue has no items.
func (wq *Queue) Empty() bool {
	return wq.q.Length() == 0
}

// Len returns the number of items currently queued.
func (wq *Queue) Len() int {
	return wq.q.Length()
}

// Drain calls Destroy on every remaining item and empties the queue. Used
// on scheduler/impl shutdown (spec.md §4.6 "Cancellation / shutdown").
func (wq *Queue) Drain() {
	for wq.q.Length() > 0 {
		wq.q.Remove().(Item).Destroy()
	}
}
