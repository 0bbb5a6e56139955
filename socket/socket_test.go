package socket_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelio/coreactor/ioerr"
	"github.com/kestrelio/coreactor/reactor"
	"github.com/kestrelio/coreactor/scheduler"
	"github.com/kestrelio/coreactor/socket"
)

func newTestScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	r, err := reactor.NewReactor()
	require.NoError(t, err)
	s := scheduler.New(r)
	t.Cleanup(func() { r.Close() })
	return s
}

func loopback(port uint16) socket.Endpoint {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port)
}

func TestAcceptConnectRoundTrip(t *testing.T) {
	s := newTestScheduler(t)
	svc := socket.NewService(s)

	acc, err := svc.OpenAcceptor()
	require.NoError(t, err)
	require.NoError(t, acc.Listen(loopback(0), 8))
	addr := acc.LocalEndpoint()
	require.NotZero(t, addr.Port())

	var accepted *socket.Socket
	var acceptErr error
	acc.Accept(context.Background(), s, s, func(err error, peer *socket.Socket) {
		acceptErr, accepted = err, peer
	})

	client, err := svc.OpenSocket()
	require.NoError(t, err)
	var connectErr error
	client.Connect(context.Background(), addr, s, s, func(err error) { connectErr = err })

	deadline := time.Now().Add(time.Second)
	for accepted == nil && connectErr == nil && time.Now().Before(deadline) {
		s.WaitOne(50 * time.Millisecond)
	}
	require.NoError(t, acceptErr)
	require.NoError(t, connectErr)
	require.NotNil(t, accepted)

	payload := []byte("hello reactor")
	var wroteErr error
	var wroteN int
	client.WriteSome(context.Background(), payload, s, s, func(err error, n int) { wroteErr, wroteN = err, n })

	buf := make([]byte, 64)
	var readErr error
	var readN int
	accepted.ReadSome(context.Background(), buf, s, s, func(err error, n int) { readErr, readN = err, n })

	deadline = time.Now().Add(time.Second)
	for (wroteN == 0 || readN == 0) && time.Now().Before(deadline) {
		s.WaitOne(50 * time.Millisecond)
	}
	require.NoError(t, wroteErr)
	require.NoError(t, readErr)
	require.Equal(t, len(payload), wroteN)
	require.Equal(t, payload, buf[:readN])

	require.NoError(t, client.Close())
	require.NoError(t, accepted.Close())
	require.NoError(t, acc.Close())
}

// TestConnectRefusedReportsError exercises the synchronous-connect path:
// on localhost, ECONNREFUSED is typically returned directly by connect()
// on the first attempt rather than surfaced later via EPOLLERR/EV_EOF, so
// this covers ioerr mapping in socket_unix.go's connectAttempt, not the
// ioop.Op.claim reactor-error mapping path.
func TestConnectRefusedReportsError(t *testing.T) {
	s := newTestScheduler(t)
	svc := socket.NewService(s)

	client, err := svc.OpenSocket()
	require.NoError(t, err)
	defer client.Close()

	var connectErr error
	done := make(chan struct{})
	client.Connect(context.Background(), loopback(1), s, s, func(err error) {
		connectErr = err
		close(done)
	})

	deadline := time.Now().Add(time.Second)
	for {
		select {
		case <-done:
			require.ErrorIs(t, connectErr, ioerr.ErrConnRefused)
			return
		default:
			if time.Now().After(deadline) {
				t.Fatal("connect to closed port never completed")
			}
			s.WaitOne(50 * time.Millisecond)
		}
	}
}

func TestReadCancelResumesWithCanceled(t *testing.T) {
	s := newTestScheduler(t)
	svc := socket.NewService(s)

	acc, err := svc.OpenAcceptor()
	require.NoError(t, err)
	require.NoError(t, acc.Listen(loopback(0), 8))
	defer acc.Close()
	addr := acc.LocalEndpoint()

	client, err := svc.OpenSocket()
	require.NoError(t, err)
	defer client.Close()

	var connectErr error
	connected := false
	client.Connect(context.Background(), addr, s, s, func(err error) { connectErr, connected = err, true })
	for !connected {
		s.WaitOne(50 * time.Millisecond)
	}
	require.NoError(t, connectErr)

	var readErr error
	buf := make([]byte, 16)
	client.ReadSome(context.Background(), buf, s, s, func(err error, n int) { readErr = err })
	client.Cancel()

	require.Eventually(t, func() bool {
		s.WaitOne(50 * time.Millisecond)
		return readErr != nil
	}, time.Second, 10*time.Millisecond)
	require.ErrorContains(t, readErr, "canceled")
}

func TestSocketOptionsApplyWithoutError(t *testing.T) {
	s := newTestScheduler(t)
	svc := socket.NewService(s)

	sock, err := svc.OpenSocket()
	require.NoError(t, err)
	defer sock.Close()

	require.NoError(t, sock.SetNoDelay(true))
	require.NoError(t, sock.SetKeepAlive(true))
	require.NoError(t, sock.SetLinger(0))
	require.NoError(t, sock.SetRecvBufferSize(4096))
	require.NoError(t, sock.SetSendBufferSize(4096))
}

func TestServiceShutdownClosesLiveImpls(t *testing.T) {
	s := newTestScheduler(t)
	svc := socket.NewService(s)

	acc, err := svc.OpenAcceptor()
	require.NoError(t, err)
	require.NoError(t, acc.Listen(loopback(0), 8))
	require.True(t, acc.LocalEndpoint().Port() != 0)

	sock, err := svc.OpenSocket()
	require.NoError(t, err)
	require.True(t, sock.IsOpen())

	svc.Shutdown()

	require.False(t, sock.IsOpen())
}
