package frame_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelio/coreactor/frame"
)

func TestAllocateDeallocateBalance(t *testing.T) {
	a := frame.New(64)
	sizes := []int{16, 100, 4096, 65536, 1, 8192}

	var live [][]byte
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		if len(live) == 0 || rng.Intn(2) == 0 {
			buf := a.Allocate(sizes[rng.Intn(len(sizes))])
			live = append(live, buf)
		} else {
			idx := rng.Intn(len(live))
			a.Deallocate(live[idx])
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
		}
	}
	for _, b := range live {
		a.Deallocate(b)
	}

	stats := a.Stats()
	require.Equal(t, stats.Allocated, stats.Freed)
}

func TestAllocateReturnsRequestedLength(t *testing.T) {
	a := frame.New(8)
	buf := a.Allocate(37)
	require.Len(t, buf, 37)
	require.GreaterOrEqual(t, cap(buf), 37)
}

func TestFrameReuseAcrossGenerations(t *testing.T) {
	a := frame.New(8)
	first := a.Allocate(128)
	firstPtr := &first[0]
	a.Deallocate(first)

	second := a.Allocate(128)
	require.Same(t, firstPtr, &second[0], "expected the freed frame to be reused")
}

// TestAllocateAboveLargestClassFallsThroughWithoutPanic covers the
// oversize path: a request larger than the largest pooled size class
// (1<<20 bytes) must fall straight through to an unpooled make([]byte, n)
// rather than slicing a smaller pooled buffer out of range.
func TestAllocateAboveLargestClassFallsThroughWithoutPanic(t *testing.T) {
	a := frame.New(8)
	const oversize = 1<<20 + 1

	buf := a.Allocate(oversize)
	require.Len(t, buf, oversize)

	require.NotPanics(t, func() { a.Deallocate(buf) })

	stats := a.Stats()
	require.Equal(t, uint64(1), stats.Allocated)
	require.Equal(t, uint64(1), stats.Freed)
}

// TestAllocateAtLargestClassBoundaryDoesNotPanic covers the boundary
// itself: exactly 1<<20 bytes must still come from the pooled path.
func TestAllocateAtLargestClassBoundaryDoesNotPanic(t *testing.T) {
	a := frame.New(8)
	const boundary = 1 << 20

	buf := a.Allocate(boundary)
	require.Len(t, buf, boundary)
	require.Equal(t, boundary, cap(buf))
	require.NotPanics(t, func() { a.Deallocate(buf) })
}
