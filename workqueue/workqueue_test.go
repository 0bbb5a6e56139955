package workqueue_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelio/coreactor/workqueue"
)

type fakeItem struct {
	executed bool
	destroyed bool
}

func (f *fakeItem) Execute() { f.executed = true }
func (f *fakeItem) Destroy() { f.destroyed = true }

func TestQueueFIFOOrder(t *testing.T) {
	q := workqueue.New()
	a, b, c := &fakeItem{}, &fakeItem{}, &fakeItem{}
	q.Push(a)
	q.Push(b)
	q.Push(c)

	require.Equal(t, 3, q.Len())
	require.Same(t, workqueue.Item(a), q.Pop())
	require.Same(t, workqueue.Item(b), q.Pop())
	require.Same(t, workqueue.Item(c), q.Pop())
	require.True(t, q.Empty())
	require.Nil(t, q.Pop())
}

func TestQueuePushQueueSplicesAndEmptiesSource(t *testing.T) {
	dst := workqueue.New()
	src := workqueue.New()
	a, b := &fakeItem{}, &fakeItem{}
	dst.Push(a)
	src.Push(b)

	dst.PushQueue(src)

	require.True(t, src.Empty())
	require.Equal(t, 2, dst.Len())
	require.Same(t, workqueue.Item(a), dst.Pop())
	require.Same(t, workqueue.Item(b), dst.Pop())
}

func TestQueueDrainDestroysWithoutExecuting(t *testing.T) {
	q := workqueue.New()
	items := []*fakeItem{{}, {}, {}}
	for _, it := range items {
		q.Push(it)
	}

	q.Drain()

	require.True(t, q.Empty())
	for _, it := range items {
		require.True(t, it.destroyed)
		require.False(t, it.executed)
	}
}
