package signal

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelio/coreactor/executor"
	"github.com/kestrelio/coreactor/ioerr"
	"github.com/kestrelio/coreactor/scheduler"
)

// fakeSig is a synthetic os.Signal so these white-box tests never touch
// the real OS signal machinery; only the registry/delivery logic in this
// file is under test here (see signal_unix_test.go for a real end-to-end
// syscall.Kill-driven test).
type fakeSig struct{ name string }

func (f fakeSig) String() string { return f.name }
func (f fakeSig) Signal()        {}

type inlineExecutor struct{}

func (inlineExecutor) Post(fn func()) { fn() }

func TestWaitResolvesImmediatelyWhenPendingCountPositive(t *testing.T) {
	s := scheduler.New(nil)
	set := NewSet(s, true)
	sig := fakeSig{"SIGTEST1"}
	set.sigs[sig] = struct{}{}
	set.pending[sig] = 1

	var gotErr error
	var gotSig os.Signal
	var exec inlineExecutor
	set.Wait(context.Background(), exec, exec, func(err error, sig os.Signal) { gotErr, gotSig = err, sig })

	require.Equal(t, 1, s.RunOne())
	require.NoError(t, gotErr)
	require.Equal(t, sig, gotSig)
	require.Equal(t, 0, set.pending[sig])
}

func TestDeliverQueuesWhenNoWaiter(t *testing.T) {
	s := scheduler.New(nil)
	set := NewSet(s, true)
	sig := fakeSig{"SIGTEST2"}
	set.sigs[sig] = struct{}{}

	set.deliver(sig)

	require.Equal(t, 1, set.pending[sig])
	require.EqualValues(t, 0, s.OutstandingWork())
}

func TestDeliverResumesActiveWaiter(t *testing.T) {
	s := scheduler.New(nil)
	set := NewSet(s, true)
	sig := fakeSig{"SIGTEST3"}
	set.sigs[sig] = struct{}{}

	var gotErr error
	var gotSig os.Signal
	var exec inlineExecutor
	set.Wait(context.Background(), exec, exec, func(err error, sig os.Signal) { gotErr, gotSig = err, sig })
	require.EqualValues(t, 1, s.OutstandingWork())

	set.deliver(sig)

	require.Equal(t, 1, s.RunOne())
	require.NoError(t, gotErr)
	require.Equal(t, sig, gotSig)
}

func TestCancelResumesWaiterWithCanceled(t *testing.T) {
	s := scheduler.New(nil)
	set := NewSet(s, true)
	sig := fakeSig{"SIGTEST4"}
	set.sigs[sig] = struct{}{}

	var gotErr error
	var exec inlineExecutor
	set.Wait(context.Background(), exec, exec, func(err error, sig os.Signal) { gotErr = err })

	set.Cancel()

	require.Equal(t, 1, s.RunOne())
	require.ErrorIs(t, gotErr, ioerr.ErrCanceled)
}

func TestContextCancelResumesWaiterWithCanceled(t *testing.T) {
	s := scheduler.New(nil)
	set := NewSet(s, true)
	sig := fakeSig{"SIGTEST5"}
	set.sigs[sig] = struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	var gotErr error
	var exec inlineExecutor
	set.Wait(ctx, exec, exec, func(err error, sig os.Signal) { gotErr = err })

	cancel()

	require.Eventually(t, func() bool { return s.RunOne() == 1 }, time.Second, time.Millisecond)
	require.ErrorIs(t, gotErr, ioerr.ErrCanceled)
}

func TestConflictingQueueFlagIsRejected(t *testing.T) {
	s := scheduler.New(nil)
	a := NewSet(s, true)
	b := NewSet(s, false)
	sig := fakeSig{"SIGTEST6"}

	require.NoError(t, a.Add(sig))
	defer a.Remove(sig)

	err := b.Add(sig)
	require.ErrorIs(t, err, ErrConflictingFlags)
}

func TestClearRemovesAllSubscriptions(t *testing.T) {
	s := scheduler.New(nil)
	set := NewSet(s, true)
	sigA := fakeSig{"SIGTEST7A"}
	sigB := fakeSig{"SIGTEST7B"}
	require.NoError(t, set.Add(sigA))
	require.NoError(t, set.Add(sigB))

	set.Clear()

	set.mu.Lock()
	n := len(set.sigs)
	set.mu.Unlock()
	require.Zero(t, n)
}

func TestDispatchCrossesExecutorsWhenOwnerDiffersFromDispatcher(t *testing.T) {
	s := scheduler.New(nil)
	set := NewSet(s, true)
	sig := fakeSig{"SIGTEST8"}
	set.sigs[sig] = struct{}{}
	set.pending[sig] = 1

	var target postingExecutor
	var owner inlineExecutor
	ran := false
	set.Wait(context.Background(), owner, &target, func(err error, sig os.Signal) { ran = true })

	require.Equal(t, 1, s.RunOne())
	require.False(t, ran)
	require.Len(t, target.posted, 1)
	target.posted[0]()
	require.True(t, ran)
}

type postingExecutor struct{ posted []func() }

func (p *postingExecutor) Post(fn func()) { p.posted = append(p.posted, fn) }

var _ executor.Executor = (*postingExecutor)(nil)
