// File: timer/timer.go
// Author: momentics <momentics@gmail.com>
//
// Package timer implements the min-heap deadline service from spec.md
// §4.9: NearestExpiry drives the scheduler's reactor timeout, and
// ProcessExpired pushes every due handler onto the scheduler's completion
// queue. Scheduling a new earliest deadline invokes a stored callback so
// the scheduler can re-evaluate its blocking wait.
package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/kestrelio/coreactor/workqueue"
)

// Handler is the work item run when a timer expires. It satisfies
// workqueue.Item so it can be pushed straight onto a scheduler's
// completion queue.
type Handler interface {
	workqueue.Item
}

type entry struct {
	deadline time.Time
	handler  Handler
	canceled bool
	index    int // heap index, maintained by container/heap
}

type minHeap []*entry

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h minHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *minHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Service is a min-heap of (deadline, handler) entries.
type Service struct {
	mu   sync.Mutex
	heap minHeap

	// onEarliestChanged is invoked (outside the lock) whenever a newly
	// scheduled entry becomes the earliest deadline. The scheduler
	// installs a callback here that wakes the reactor (spec.md §4.9).
	onEarliestChanged func()
}

// New returns an empty timer service.
func New() *Service {
	return &Service{}
}

// OnEarliestChanged installs the "earliest deadline changed" callback.
// Only one callback is supported, matching the single scheduler that owns
// a timer service instance.
func (s *Service) OnEarliestChanged(fn func()) {
	s.mu.Lock()
	s.onEarliestChanged = fn
	s.mu.Unlock()
}

// Cancelation is returned by Schedule and lets the caller cancel a
// still-pending timer entry.
type Cancelation struct {
	svc *Service
	e   *entry
}

// Cancel marks the entry canceled. If it is still in the heap it is
// removed immediately; ProcessExpired never invokes a canceled handler.
func (c *Cancelation) Cancel() {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	if c.e.canceled {
		return
	}
	c.e.canceled = true
	if c.e.index >= 0 {
		heap.Remove(&c.svc.heap, c.e.index)
	}
}

// Schedule adds handler to fire at deadline, returning a Cancelation.
// A deadline in the past expires on the very next ProcessExpired call, as
// required by spec.md §8's boundary behaviors.
func (s *Service) Schedule(deadline time.Time, handler Handler) *Cancelation {
	s.mu.Lock()
	e := &entry{deadline: deadline, handler: handler}
	wasEarliest := s.heap.Len() == 0 || deadline.Before(s.heap[0].deadline)
	heap.Push(&s.heap, e)
	cb := s.onEarliestChanged
	s.mu.Unlock()

	if wasEarliest && cb != nil {
		cb()
	}
	return &Cancelation{svc: s, e: e}
}

// NearestExpiry returns the earliest scheduled deadline and true, or the
// zero Time and false if no timer is pending.
func (s *Service) NearestExpiry() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heap.Len() == 0 {
		return time.Time{}, false
	}
	return s.heap[0].deadline, true
}

// ProcessExpired pops every entry whose deadline is <= now, appending its
// handler to out (a caller-owned completion queue), skipping canceled
// entries. It returns the number of handlers appended.
func (s *Service) ProcessExpired(now time.Time, out *workqueue.Queue) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for s.heap.Len() > 0 && !s.heap[0].deadline.After(now) {
		e := heap.Pop(&s.heap).(*entry)
		if e.canceled {
			continue
		}
		out.Push(e.handler)
		n++
	}
	return n
}

// Len returns the number of pending (uncanceled or not-yet-swept)
// entries currently in the heap.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// Shutdown implements registry.Service: it drains every pending timer by
// destroying its handler instead of running it.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.heap.Len() > 0 {
		e := heap.Pop(&s.heap).(*entry)
		if !e.canceled {
			e.handler.Destroy()
		}
	}
}
