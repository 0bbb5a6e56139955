package ioop_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelio/coreactor/executor"
	"github.com/kestrelio/coreactor/ioerr"
	"github.com/kestrelio/coreactor/ioop"
	"github.com/kestrelio/coreactor/reactor"
	"github.com/kestrelio/coreactor/scheduler"
)

// fakeReactor mirrors scheduler_test.go's test double locally since it is
// unexported there; Wait blocks on a channel until Wake fires or an event
// is injected.
type fakeReactor struct {
	mu     sync.Mutex
	events []reactor.Event
	wake   chan struct{}
	// userData is the token of the most recent Register call, so injected
	// events can be routed to that registration.
	userData uintptr
}

func newFakeReactor() *fakeReactor { return &fakeReactor{wake: make(chan struct{}, 1)} }

func (f *fakeReactor) Register(fd uintptr, interest reactor.Interest, userData uintptr) error {
	f.mu.Lock()
	f.userData = userData
	f.mu.Unlock()
	return nil
}
func (f *fakeReactor) Modify(fd uintptr, interest reactor.Interest) error { return nil }
func (f *fakeReactor) Deregister(fd uintptr) error                       { return nil }

func (f *fakeReactor) inject(ev reactor.Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	f.Wake()
}

func (f *fakeReactor) Wait(events []reactor.Event, timeout time.Duration) (int, error) {
	f.mu.Lock()
	if len(f.events) > 0 {
		n := copy(events, f.events)
		f.events = nil
		f.mu.Unlock()
		return n, nil
	}
	f.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case <-f.wake:
	case <-timeoutCh:
	}

	f.mu.Lock()
	n := copy(events, f.events)
	f.events = nil
	f.mu.Unlock()
	return n, nil
}

func (f *fakeReactor) Wake() error {
	select {
	case f.wake <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeReactor) Close() error { return nil }

// inlineExecutor runs everything synchronously, standing in for "the
// scheduler's own executor" in tests that don't care about affinity.
type inlineExecutor struct{}

func (inlineExecutor) Post(fn func()) { fn() }

func wouldBlockOnce(calls *int, n int, err error) ioop.Attempt {
	return func() (int, error, bool) {
		*calls++
		if *calls == 1 {
			return 0, nil, true
		}
		return n, err, false
	}
}

func immediate(n int, err error) ioop.Attempt {
	return func() (int, error, bool) { return n, err, false }
}

func TestImmediateSuccessPostsAndCompletes(t *testing.T) {
	s := scheduler.New(nil)
	reg, err := ioop.NewRegistration(s, 42)
	require.NoError(t, err)

	var gotErr error
	var gotN int
	var exec inlineExecutor
	op := ioop.NewOp(reg, reactor.Readable, true, false, immediate(10, nil), exec, exec, func(err error, n int) {
		gotErr, gotN = err, n
	})

	op.Start()
	require.Equal(t, 1, s.RunOne())
	require.NoError(t, gotErr)
	require.Equal(t, 10, gotN)
}

func TestImmediateErrorCompletes(t *testing.T) {
	s := scheduler.New(nil)
	reg, err := ioop.NewRegistration(s, 42)
	require.NoError(t, err)

	wantErr := ioerr.ErrConnReset
	var gotErr error
	var exec inlineExecutor
	op := ioop.NewOp(reg, reactor.Readable, true, false, immediate(0, wantErr), exec, exec, func(err error, n int) {
		gotErr = err
	})

	op.Start()
	require.Equal(t, 1, s.RunOne())
	require.ErrorIs(t, gotErr, wantErr)
}

func TestDeferredThenReadyCompletes(t *testing.T) {
	fr := newFakeReactor()
	s := scheduler.New(fr)
	reg, err := ioop.NewRegistration(s, 7)
	require.NoError(t, err)

	calls := 0
	var gotErr error
	var gotN int
	done := make(chan struct{})
	var exec inlineExecutor
	op := ioop.NewOp(reg, reactor.Readable, true, false, wouldBlockOnce(&calls, 5, nil), exec, exec, func(err error, n int) {
		gotErr, gotN = err, n
		close(done)
	})

	op.Start()
	require.EqualValues(t, 1, s.OutstandingWork())

	go func() { s.RunOne() }()
	fr.inject(reactor.Event{UserData: fr.userData, Readable: true})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("op never completed after reactor readiness")
	}
	require.NoError(t, gotErr)
	require.Equal(t, 5, gotN)
}

func TestCancelBeforeReadyResumesWithCanceled(t *testing.T) {
	fr := newFakeReactor()
	s := scheduler.New(fr)
	reg, err := ioop.NewRegistration(s, 7)
	require.NoError(t, err)

	calls := 0
	var gotErr error
	var exec inlineExecutor
	op := ioop.NewOp(reg, reactor.Readable, true, false, wouldBlockOnce(&calls, 5, nil), exec, exec, func(err error, n int) {
		gotErr = err
	})

	op.Start()
	op.Cancel()

	require.Equal(t, 1, s.RunOne())
	require.ErrorIs(t, gotErr, ioerr.ErrCanceled)
}

func TestContextCancelResumesWithCanceled(t *testing.T) {
	fr := newFakeReactor()
	s := scheduler.New(fr)
	reg, err := ioop.NewRegistration(s, 7)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	var gotErr error
	var exec inlineExecutor
	op := ioop.NewOp(reg, reactor.Readable, true, false, wouldBlockOnce(&calls, 5, nil), exec, exec, func(err error, n int) {
		gotErr = err
	})
	op.BindContext(ctx)

	op.Start()
	cancel()

	require.Eventually(t, func() bool {
		return s.RunOne() == 1
	}, time.Second, time.Millisecond)
	require.ErrorIs(t, gotErr, ioerr.ErrCanceled)
}

func TestEOFDetectedOnZeroByteRead(t *testing.T) {
	s := scheduler.New(nil)
	reg, err := ioop.NewRegistration(s, 42)
	require.NoError(t, err)

	var gotErr error
	var exec inlineExecutor
	op := ioop.NewOp(reg, reactor.Readable, true, false, immediate(0, nil), exec, exec, func(err error, n int) {
		gotErr = err
	})

	op.Start()
	require.Equal(t, 1, s.RunOne())
	require.ErrorIs(t, gotErr, ioerr.ErrEOF)
}

func TestZeroByteReadWithEmptyBufferIsNotEOF(t *testing.T) {
	s := scheduler.New(nil)
	reg, err := ioop.NewRegistration(s, 42)
	require.NoError(t, err)

	var gotErr error
	var exec inlineExecutor
	op := ioop.NewOp(reg, reactor.Readable, true, true, immediate(0, nil), exec, exec, func(err error, n int) {
		gotErr = err
	})

	op.Start()
	require.Equal(t, 1, s.RunOne())
	require.NoError(t, gotErr)
}

func TestZeroByteWriteIsNotEOF(t *testing.T) {
	s := scheduler.New(nil)
	reg, err := ioop.NewRegistration(s, 42)
	require.NoError(t, err)

	var gotErr error
	var exec inlineExecutor
	op := ioop.NewOp(reg, reactor.Writable, false, false, immediate(0, nil), exec, exec, func(err error, n int) {
		gotErr = err
	})

	op.Start()
	require.Equal(t, 1, s.RunOne())
	require.NoError(t, gotErr)
}

func TestKeepAliveReleasedExactlyOnceBeforeHandler(t *testing.T) {
	s := scheduler.New(nil)
	reg, err := ioop.NewRegistration(s, 42)
	require.NoError(t, err)

	releases := 0
	handlerSawRelease := false
	var exec inlineExecutor
	op := ioop.NewOp(reg, reactor.Readable, true, false, immediate(1, nil), exec, exec, func(err error, n int) {
		handlerSawRelease = releases == 1
	})
	op.SetKeepAlive(func() { releases++ })

	op.Start()
	require.Equal(t, 1, s.RunOne())
	require.Equal(t, 1, releases)
	require.True(t, handlerSawRelease)
}

func TestDestroyReleasesResourcesWithoutRunningHandler(t *testing.T) {
	s := scheduler.New(nil)
	reg, err := ioop.NewRegistration(s, 42)
	require.NoError(t, err)

	released := false
	ran := false
	var exec inlineExecutor
	op := ioop.NewOp(reg, reactor.Readable, true, false, immediate(1, nil), exec, exec, func(err error, n int) {
		ran = true
	})
	op.SetKeepAlive(func() { released = true })

	op.Destroy()

	require.True(t, released)
	require.False(t, ran)
}

func TestDispatchCrossesExecutorsWhenOwnerDiffersFromDispatcher(t *testing.T) {
	s := scheduler.New(nil)
	reg, err := ioop.NewRegistration(s, 42)
	require.NoError(t, err)

	var target schedulerExecutor
	var owner inlineExecutor
	ran := false
	op := ioop.NewOp(reg, reactor.Readable, true, false, immediate(1, nil), owner, &target, func(err error, n int) {
		ran = true
	})

	op.Start()
	require.Equal(t, 1, s.RunOne())
	require.False(t, ran, "handler should be posted to target, not run inline")
	require.Len(t, target.posted, 1)

	target.posted[0]()
	require.True(t, ran)
}

type schedulerExecutor struct{ posted []func() }

func (e *schedulerExecutor) Post(fn func()) { e.posted = append(e.posted, fn) }

var _ executor.Executor = (*schedulerExecutor)(nil)
