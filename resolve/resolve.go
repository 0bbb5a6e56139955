// File: resolve/resolve.go
// Author: momentics <momentics@gmail.com>
//
// Package resolve specifies the name-resolver contract as an external
// collaborator, per spec.md §9: "Specify resolver as an external
// collaborator with interface resolve(host, service, flags) -> list of
// endpoints." The runtime consumes a Resolver; it does not ship one.
package resolve

import (
	"context"
	"net/netip"
)

// Resolver turns a host/service pair into the endpoints a Socket can
// connect to. Implementations may hit a stub, a system resolver, a
// caching resolver, or a mock; the runtime only ever depends on this
// interface.
type Resolver interface {
	// Resolve returns every endpoint host/service resolves to, in the
	// order the resolver considers preferable. An empty, non-error
	// result means no endpoints exist for the given name.
	Resolve(ctx context.Context, host, service string) ([]netip.AddrPort, error)
}
