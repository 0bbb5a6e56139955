//go:build linux

package pin_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelio/coreactor/internal/pin"
)

func TestPinToCPUZeroSucceeds(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	require.NoError(t, pin.Pin(0))
}

func TestPinToOutOfRangeCPUFails(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	require.Error(t, pin.Pin(1<<20))
}
