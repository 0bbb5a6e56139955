// File: socket/socket.go
// Author: momentics <momentics@gmail.com>
//
// Package socket implements the socket/acceptor service from spec.md
// §4.8: a shared-ownership registry of live socket and acceptor impls,
// non-blocking open/bind/listen/connect/accept/read/write built on the
// try-first/register protocol from ioop, and per-platform socket options
// (spec.md §6, supplemented from the teacher's TCP_NODELAY handling in
// internal/transport/transport_linux.go).
package socket

import (
	"context"
	"log"
	"net/netip"
	"sync"

	"github.com/kestrelio/coreactor/executor"
	"github.com/kestrelio/coreactor/ioerr"
	"github.com/kestrelio/coreactor/ioop"
	"github.com/kestrelio/coreactor/reactor"
	"github.com/kestrelio/coreactor/scheduler"
)

// Endpoint is an IPv4 (ip, port) tuple; spec.md §6 scopes endpoints to
// TCP/IPv4 only.
type Endpoint = netip.AddrPort

// Option configures a Service, following the teacher's control/config.go
// functional-option idiom.
type Option func(*Service)

// WithLogger installs a logger for warnings the service itself detects
// (an error closing an impl during Shutdown). Defaults to
// log.Default(), matching server/hioload.go's own fallback.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service is spec.md §4.8's socket/acceptor service: one shared registry
// of live impls per scheduler.
type Service struct {
	sched  *scheduler.Scheduler
	logger *log.Logger

	mu   sync.Mutex
	live map[io]struct{}
}

// io is the common shape shared by *Socket and *Acceptor for the
// registry's cancel-then-close teardown.
type io interface {
	Cancel()
	closeImpl() error
}

// NewService constructs a socket service bound to sched. Registering it
// as a registry.Service via scheduler.Make lets callers reach it through
// scheduler.Find[*socket.Service] exactly as spec.md's find_service
// contract requires.
func NewService(sched *scheduler.Scheduler, opts ...Option) *Service {
	s := &Service{sched: sched, logger: log.Default(), live: make(map[io]struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) track(impl io) {
	s.mu.Lock()
	s.live[impl] = struct{}{}
	s.mu.Unlock()
}

func (s *Service) untrack(impl io) {
	s.mu.Lock()
	delete(s.live, impl)
	s.mu.Unlock()
}

// Shutdown pops every live impl from the registry and closes it,
// matching spec.md's service-level shutdown. Impls with pending ops
// still holding a keep-alive reference outlive this call; only the
// service's own registry entry is dropped.
func (s *Service) Shutdown() {
	s.mu.Lock()
	victims := make([]io, 0, len(s.live))
	for impl := range s.live {
		victims = append(victims, impl)
	}
	s.live = make(map[io]struct{})
	s.mu.Unlock()

	for _, impl := range victims {
		impl.Cancel()
		if err := impl.closeImpl(); err != nil {
			s.logger.Printf("socket: shutdown close error: %v", err)
		}
	}
}

// Socket is spec.md §6's socket surface: open, close, is_open, connect,
// read_some, write_some, cancel, shutdown, socket options.
type Socket struct {
	svc *Service
	fd  int
	reg *ioop.Registration

	mu     sync.Mutex
	closed bool
	local  Endpoint
	remote Endpoint
}

// OpenSocket creates a non-blocking, close-on-exec TCP socket and
// registers it with the service's scheduler reactor.
func (s *Service) OpenSocket() (*Socket, error) {
	fd, err := newStreamFD()
	if err != nil {
		return nil, ioerr.New("open", err)
	}
	reg, err := ioop.NewRegistration(s.sched, uintptr(fd))
	if err != nil {
		closeFD(fd)
		return nil, ioerr.New("open", err)
	}
	sock := &Socket{svc: s, fd: fd, reg: reg}
	s.track(sock)
	return sock, nil
}

// IsOpen reports whether the socket has not yet been closed.
func (sock *Socket) IsOpen() bool {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	return !sock.closed
}

// LocalEndpoint returns the cached local address, valid once Connect
// completes or Accept produced this socket.
func (sock *Socket) LocalEndpoint() Endpoint {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	return sock.local
}

// RemoteEndpoint returns the cached peer address.
func (sock *Socket) RemoteEndpoint() Endpoint {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	return sock.remote
}

// Connect implements the try-first connect protocol: attempt a
// non-blocking connect, and on EINPROGRESS wait for writability, then
// resolve success/failure via SO_ERROR.
func (sock *Socket) Connect(ctx context.Context, ep Endpoint, owner, dispatcher executor.Executor, cb func(error)) {
	attempt := connectAttempt(sock.fd, ep)
	op := ioop.NewOp(sock.reg, reactor.Writable, false, true, attempt, owner, dispatcher, func(err error, _ int) {
		if err == nil {
			sock.mu.Lock()
			sock.local, _ = getLocalAddr(sock.fd)
			sock.remote = ep
			sock.mu.Unlock()
		}
		cb(err)
	})
	op.BindContext(ctx)
	op.Start()
}

// ReadSome implements read_some: fills buf with whatever is available,
// reporting eof (per the EOF policy) on a zero-byte read against a
// non-empty buffer.
func (sock *Socket) ReadSome(ctx context.Context, buf []byte, owner, dispatcher executor.Executor, cb func(error, int)) {
	attempt := func() (int, error, bool) { return readFD(sock.fd, buf) }
	op := ioop.NewOp(sock.reg, reactor.Readable, true, len(buf) == 0, attempt, owner, dispatcher, cb)
	op.BindContext(ctx)
	op.Start()
}

// WriteSome implements write_some.
func (sock *Socket) WriteSome(ctx context.Context, buf []byte, owner, dispatcher executor.Executor, cb func(error, int)) {
	attempt := func() (int, error, bool) { return writeFD(sock.fd, buf) }
	op := ioop.NewOp(sock.reg, reactor.Writable, false, false, attempt, owner, dispatcher, cb)
	op.BindContext(ctx)
	op.Start()
}

// Cancel claims and posts every in-flight op on this socket with
// ioerr.ErrCanceled. The registration itself tracks waiting ops per
// filter bit, so canceling both directions is a matter of asking it to
// drop whatever it currently holds.
func (sock *Socket) Cancel() {
	sock.reg.CancelAll()
}

// ShutdownHow selects which half of a full-duplex socket to shut down.
type ShutdownHow int

const (
	ShutdownRead ShutdownHow = iota
	ShutdownWrite
	ShutdownBoth
)

// Shutdown shuts down the read, write, or both halves of the connection
// without closing the fd.
func (sock *Socket) Shutdown(how ShutdownHow) error {
	return ioerr.New("shutdown", shutdownFD(sock.fd, how))
}

// SetNoDelay toggles TCP_NODELAY (Nagle's algorithm).
func (sock *Socket) SetNoDelay(on bool) error { return ioerr.New("setsockopt", setNoDelay(sock.fd, on)) }

// SetKeepAlive toggles SO_KEEPALIVE.
func (sock *Socket) SetKeepAlive(on bool) error {
	return ioerr.New("setsockopt", setKeepAlive(sock.fd, on))
}

// SetLinger sets SO_LINGER; seconds<0 disables linger.
func (sock *Socket) SetLinger(seconds int) error {
	return ioerr.New("setsockopt", setLinger(sock.fd, seconds))
}

// SetRecvBufferSize sets SO_RCVBUF.
func (sock *Socket) SetRecvBufferSize(n int) error {
	return ioerr.New("setsockopt", setRecvBuf(sock.fd, n))
}

// SetSendBufferSize sets SO_SNDBUF.
func (sock *Socket) SetSendBufferSize(n int) error {
	return ioerr.New("setsockopt", setSendBuf(sock.fd, n))
}

// Close implements close() = cancel() + teardown.
func (sock *Socket) Close() error {
	sock.svc.untrack(sock)
	return sock.closeImpl()
}

func (sock *Socket) closeImpl() error {
	sock.Cancel()
	sock.mu.Lock()
	if sock.closed {
		sock.mu.Unlock()
		return nil
	}
	sock.closed = true
	sock.mu.Unlock()

	sock.reg.Close()
	return closeFD(sock.fd)
}

// Acceptor is spec.md §6's acceptor surface: listen, accept, cancel,
// close, local_endpoint.
type Acceptor struct {
	svc *Service
	fd  int
	reg *ioop.Registration

	mu     sync.Mutex
	closed bool
	local  Endpoint
}

// OpenAcceptor creates a non-blocking, close-on-exec, SO_REUSEADDR TCP
// listening socket and registers it with the reactor.
func (s *Service) OpenAcceptor() (*Acceptor, error) {
	fd, err := newAcceptorFD()
	if err != nil {
		return nil, ioerr.New("open", err)
	}
	reg, err := ioop.NewRegistration(s.sched, uintptr(fd))
	if err != nil {
		closeFD(fd)
		return nil, ioerr.New("open", err)
	}
	acc := &Acceptor{svc: s, fd: fd, reg: reg}
	s.track(acc)
	return acc, nil
}

// Listen binds ep and starts listening with the given backlog, caching
// the resolved local endpoint (resolving an ephemeral port via
// getsockname, matching spec.md's bind/listen contract).
func (acc *Acceptor) Listen(ep Endpoint, backlog int) error {
	if err := bindFD(acc.fd, ep); err != nil {
		return ioerr.New("bind", err)
	}
	if err := listenFD(acc.fd, backlog); err != nil {
		return ioerr.New("listen", err)
	}
	local, err := getLocalAddr(acc.fd)
	if err != nil {
		return ioerr.New("listen", err)
	}
	acc.mu.Lock()
	acc.local = local
	acc.mu.Unlock()
	return nil
}

// LocalEndpoint returns the bound local address.
func (acc *Acceptor) LocalEndpoint() Endpoint {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.local
}

// Accept implements the try-first accept protocol: try accept4 once,
// and on EAGAIN register for readability. On success it opens a peer
// Socket, caches its endpoints, and registers it with the service.
func (acc *Acceptor) Accept(ctx context.Context, owner, dispatcher executor.Executor, cb func(error, *Socket)) {
	var peerFD int
	attempt := func() (int, error, bool) {
		fd, err, wouldBlock := acceptFD(acc.fd)
		if wouldBlock {
			return 0, nil, true
		}
		if err != nil {
			return 0, err, false
		}
		peerFD = fd
		return 0, nil, false
	}
	op := ioop.NewOp(acc.reg, reactor.Readable, true, true, attempt, owner, dispatcher, func(err error, _ int) {
		if err != nil {
			cb(err, nil)
			return
		}
		reg, regErr := ioop.NewRegistration(acc.svc.sched, uintptr(peerFD))
		if regErr != nil {
			closeFD(peerFD)
			cb(ioerr.New("accept", regErr), nil)
			return
		}
		peer := &Socket{svc: acc.svc, fd: peerFD, reg: reg}
		peer.local, _ = getLocalAddr(peerFD)
		peer.remote, _ = getRemoteAddr(peerFD)
		acc.svc.track(peer)
		cb(nil, peer)
	})
	op.BindContext(ctx)
	op.Start()
}

// Cancel claims and posts every in-flight accept on this acceptor with
// ioerr.ErrCanceled.
func (acc *Acceptor) Cancel() { acc.reg.CancelAll() }

// Close implements close() = cancel() + teardown.
func (acc *Acceptor) Close() error {
	acc.svc.untrack(acc)
	return acc.closeImpl()
}

func (acc *Acceptor) closeImpl() error {
	acc.Cancel()
	acc.mu.Lock()
	if acc.closed {
		acc.mu.Unlock()
		return nil
	}
	acc.closed = true
	acc.mu.Unlock()

	acc.reg.Close()
	return closeFD(acc.fd)
}
