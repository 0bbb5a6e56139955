package task_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelio/coreactor/executor"
	"github.com/kestrelio/coreactor/reactor"
	"github.com/kestrelio/coreactor/scheduler"
	"github.com/kestrelio/coreactor/socket"
	"github.com/kestrelio/coreactor/task"
)

func TestRunReturnsBodyResult(t *testing.T) {
	s := scheduler.New(nil)
	f := task.Run(s, func(c *task.Context) int { return 42 })

	require.Equal(t, 1, s.RunOne())
	require.Equal(t, 42, f.Wait())
}

func TestSpawnRunsFireAndForget(t *testing.T) {
	s := scheduler.New(nil)
	ran := make(chan struct{})
	task.Spawn(s, func(c *task.Context) { close(ran) })

	require.Equal(t, 1, s.RunOne())
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("spawned task never ran")
	}
}

func TestAwaitBlocksUntilResumeCalled(t *testing.T) {
	s := scheduler.New(nil)
	f := task.Run(s, func(c *task.Context) int {
		return task.Await(c, func(owner, dispatcher executor.Executor, resume func(int)) {
			dispatcher.Post(func() { resume(7) })
		})
	})
	require.Equal(t, 1, s.RunOne())
	// The task body posts resume(7) from its own goroutine, so poll until
	// that post has landed.
	require.Eventually(t, func() bool { return s.RunOne() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, 7, f.Wait())
}

func TestRunOnCrossesToDifferentExecutorInline(t *testing.T) {
	s := scheduler.New(nil)
	var target recordingExecutor

	f := task.Run(s, func(c *task.Context) executor.Executor {
		return task.RunOn(c, &target, func(inner *task.Context) executor.Executor {
			return inner.Executor()
		})
	})

	require.Equal(t, 1, s.RunOne())
	got := f.Wait()
	require.Same(t, &target, got)
	require.Equal(t, 1, target.posts)
}

type recordingExecutor struct{ posts int }

func (r *recordingExecutor) Post(fn func()) { r.posts++; fn() }

func TestAwaitIOEndToEndOverSocket(t *testing.T) {
	r, err := reactor.NewReactor()
	require.NoError(t, err)
	defer r.Close()
	s := scheduler.New(r)
	svc := socket.NewService(s)

	acc, err := svc.OpenAcceptor()
	require.NoError(t, err)
	defer acc.Close()
	require.NoError(t, acc.Listen(netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), 0), 8))
	addr := acc.LocalEndpoint()

	var accepted *socket.Socket
	acc.Accept(context.Background(), s, s, func(err error, peer *socket.Socket) {
		require.NoError(t, err)
		accepted = peer
	})

	f := task.Run(s, func(c *task.Context) string {
		client, err := svc.OpenSocket()
		require.NoError(t, err)
		defer client.Close()

		connErr := make(chan error, 1)
		client.Connect(context.Background(), addr, c.Executor(), c.Executor(), func(err error) { connErr <- err })
		require.NoError(t, <-connErr)

		werr, _ := task.AwaitIO(c, func(owner, dispatcher executor.Executor, cb func(error, int)) {
			client.WriteSome(context.Background(), []byte("ping"), owner, dispatcher, cb)
		})
		require.NoError(t, werr)
		return "sent"
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.RunOne() == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	require.Equal(t, "sent", f.Wait())
	require.NotNil(t, accepted)
}
