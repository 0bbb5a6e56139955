// File: frame/allocator.go
// Author: momentics <momentics@gmail.com>
//
// Package frame implements the two-tier pooled allocator from spec.md
// §4.3: fixed-size coroutine frames are handed out from a fast per-P free
// list, falling through to a mutex-protected global overflow list, falling
// through to the system allocator on a second miss. Deallocation always
// returns to the fast tier, matching "push into thread-local list
// unconditionally".
//
// Go has no first-class thread-local storage; sync.Pool's per-P shards are
// the closest available primitive and are what the teacher itself reaches
// for (pool/objpool.go's SyncPool, pool/slab_pool.go's per-size-class
// queue). This package generalizes that pattern to power-of-two size
// classes instead of one pool per configured buffer size.
//
// Under this module's goroutine-per-task redesign (SPEC_FULL.md §2) there
// are no coroutine stack frames to pool — the Go runtime grows and shrinks
// each goroutine's stack itself — and task.Context carries no buffer, so
// this package has no wired caller. It is kept as a standalone,
// independently tested unit implementing the allocator spec.md §4.3
// describes; see DESIGN.md's frame entry for why it stays unwired rather
// than being forced onto socket's caller-supplied read/write buffers.
package frame

import (
	"sync"
)

// minClass/maxClass bound the power-of-two size classes this allocator
// pools. Requests outside the range fall straight through to make().
const (
	minClass = 6  // 64 bytes
	maxClass = 20 // 1 MiB
)

// Allocator is a tiered pool of []byte frames, indexed by size class.
type Allocator struct {
	fast     [maxClass - minClass + 1]sync.Pool // per-P fast tier
	overflow [maxClass - minClass + 1]struct {
		mu    sync.Mutex
		items [][]byte
	}
	overflowCap int

	allocated uint64Counter
	freed     uint64Counter
}

// New returns an Allocator. overflowCap (256 when <= 0) is stored but
// bounds nothing: Deallocate always returns frames to the fast tier, so the
// global overflow tier is only read by Allocate and is never filled.
func New(overflowCap int) *Allocator {
	if overflowCap <= 0 {
		overflowCap = 256
	}
	a := &Allocator{overflowCap: overflowCap}
	for i := range a.fast {
		a.fast[i].New = func() any { return nil }
	}
	return a
}

// classFor returns the smallest pooled size class whose size is >= n, or
// -1 if n exceeds every pooled class (1<<maxClass bytes) and must fall
// through to a direct, unpooled allocation.
func classFor(n int) int {
	if n > 1<<maxClass {
		return -1
	}
	c := minClass
	sz := 1 << minClass
	for sz < n && c < maxClass {
		c++
		sz <<= 1
	}
	return c
}

// Allocate returns a frame of at least n bytes. The frame's capacity is
// always the full size class so repeated allocate/deallocate cycles of
// varying sizes within a class reuse the same backing array (the
// "balanced by size and by count" property required by P6).
func (a *Allocator) Allocate(n int) []byte {
	class := classFor(n)
	if class < 0 {
		a.allocated.add(1)
		return make([]byte, n)
	}
	idx := class - minClass
	size := 1 << class

	if v := a.fast[idx].Get(); v != nil {
		buf := v.([]byte)
		a.allocated.add(1)
		return buf[:n]
	}

	bucket := &a.overflow[idx]
	bucket.mu.Lock()
	if l := len(bucket.items); l > 0 {
		buf := bucket.items[l-1]
		bucket.items = bucket.items[:l-1]
		bucket.mu.Unlock()
		a.allocated.add(1)
		return buf[:n]
	}
	bucket.mu.Unlock()

	buf := make([]byte, size)
	a.allocated.add(1)
	return buf[:n]
}

// Deallocate returns buf to the pool it was allocated from, sized by its
// capacity. It always pushes to the fast tier unconditionally, per
// spec.md §4.3.
func (a *Allocator) Deallocate(buf []byte) {
	class := classFor(cap(buf))
	if class < 0 {
		a.freed.add(1)
		return // system-allocated frame; let the GC reclaim it.
	}
	idx := class - minClass
	full := buf[:cap(buf)]
	a.fast[idx].Put(full)
	a.freed.add(1)
}

// Stats reports the running allocate/deallocate counts, used by tests to
// assert the balance property (P6).
type Stats struct {
	Allocated uint64
	Freed     uint64
}

// Stats returns a snapshot of the allocator's counters.
func (a *Allocator) Stats() Stats {
	return Stats{Allocated: a.allocated.load(), Freed: a.freed.load()}
}
