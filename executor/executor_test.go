package executor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelio/coreactor/executor"
)

type fakeExecutor struct {
	posted []func()
}

func (f *fakeExecutor) Post(fn func()) { f.posted = append(f.posted, fn) }

func TestDispatchRunsInlineWhenOwnerMatchesTarget(t *testing.T) {
	e := &fakeExecutor{}
	ran := false

	executor.Dispatch(e, e, func() { ran = true })

	require.True(t, ran, "matching owner/target must run inline")
	require.Empty(t, e.posted, "inline dispatch must not post")
}

func TestDispatchPostsWhenOwnerDiffersFromTarget(t *testing.T) {
	owner := &fakeExecutor{}
	target := &fakeExecutor{}
	ran := false

	executor.Dispatch(owner, target, func() { ran = true })

	require.False(t, ran, "cross-executor dispatch must not run inline")
	require.Len(t, target.posted, 1)
	target.posted[0]()
	require.True(t, ran)
}

func TestDispatchPostsWhenOwnerUnknown(t *testing.T) {
	target := &fakeExecutor{}
	ran := false

	executor.Dispatch(nil, target, func() { ran = true })

	require.False(t, ran)
	require.Len(t, target.posted, 1)
}

func TestDispatcherIsExecutorAlias(t *testing.T) {
	var d executor.Dispatcher = &fakeExecutor{}
	var e executor.Executor = d
	require.NotNil(t, e)
}
