// File: frame/counter.go
// Author: momentics <momentics@gmail.com>

package frame

import "sync/atomic"

// uint64Counter is a tiny wrapper kept separate from Allocator's hot path
// fields so cache-line padding decisions can change independently of the
// pool tiers above.
type uint64Counter struct {
	v atomic.Uint64
}

func (c *uint64Counter) add(n uint64) { c.v.Add(n) }
func (c *uint64Counter) load() uint64 { return c.v.Load() }
