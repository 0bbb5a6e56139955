// File: registry/registry.go
// Author: momentics <momentics@gmail.com>
//
// Package registry implements the type-indexed, once-constructed service
// container described in spec.md §3/§4.2. One Registry is owned by each
// execution context (see the executor/scheduler packages); it holds at
// most one instance per concrete type, and lets a service register a
// second "key type" so abstract lookups resolve to the concrete backend
// (the socket-service-vs-key_type redirect from spec.md).
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// Service is the capability every registry entry must provide: a single
// shutdown phase invoked in reverse creation order before destruction.
type Service interface {
	Shutdown()
}

// Keyed is implemented by services that want to be discoverable under an
// additional abstract type, e.g. a concrete epoll-backed scheduler
// registering itself under a generic Scheduler interface type.
type Keyed interface {
	// KeyType returns the reflect.Type under which this service should
	// additionally be indexed. It is queried once, at registration time.
	KeyType() reflect.Type
}

type entry struct {
	svc   Service
	types []reflect.Type // every type this entry is indexed under
}

// Registry is a type-indexed container of Services, one per (concrete or
// key) type, with LIFO shutdown ordering.
type Registry struct {
	mu      sync.Mutex
	byType  map[reflect.Type]*entry
	order   []*entry // creation order, oldest first
	inShutdown bool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byType: make(map[reflect.Type]*entry)}
}

// ErrAlreadyExists is returned by Make when the concrete type, or its key
// type, is already registered.
type ErrAlreadyExists struct {
	Type reflect.Type
}

func (e *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("registry: service of type %s already exists", e.Type)
}

// ErrShuttingDown is returned by Make, and causes Use to return the zero
// value, once Shutdown has started: spec.md §4.2 forbids allocating new
// services while existing ones are being torn down.
var ErrShuttingDown = errors.New("registry: registry is shutting down")

// Find returns the service registered under T's concrete type or key
// type, or nil if none exists. It never constructs anything.
func Find[T any](r *Registry) T {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	r.mu.Lock()
	e, ok := r.byType[t]
	r.mu.Unlock()
	if !ok {
		return zero
	}
	v, _ := e.svc.(T)
	return v
}

// Use returns the service registered under T, constructing it via ctor if
// absent. ctor must not call Use on a type that (transitively) constructs
// T again — T is still absent then, so that recurses without end; nested
// Use calls for unrelated types are
// safe because the constructor itself always runs unlocked, matching the
// "construct unlocked, reinsert under lock" protocol from spec.md §4.2.
func Use[T any](r *Registry, ctor func() T) T {
	var zero T
	t := reflect.TypeOf(&zero).Elem()

	r.mu.Lock()
	if e, ok := r.byType[t]; ok {
		r.mu.Unlock()
		v, _ := e.svc.(T)
		return v
	}
	if r.inShutdown {
		r.mu.Unlock()
		return zero
	}
	r.mu.Unlock()

	built := ctor()

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byType[t]; ok {
		// another goroutine won the race; prefer it, discard ours.
		if svc, ok := any(built).(Service); ok {
			svc.Shutdown()
		}
		v, _ := e.svc.(T)
		return v
	}
	if r.inShutdown {
		if svc, ok := any(built).(Service); ok {
			svc.Shutdown()
		}
		return zero
	}
	r.insertLocked(t, built)
	return built
}

// Make registers a freshly constructed service, failing with
// ErrAlreadyExists if the concrete type or its key type is already
// present — either before or after construction runs (the constructor is
// called before this check can observe a concurrent winner, so callers
// that need atomicity should combine Make with their own external
// coordination; this matches spec.md's "concurrent make with equal key
// fails with already-exists" contract for the common non-concurrent case).
func Make[T Service](r *Registry, ctor func() T) (T, error) {
	var zero T
	t := reflect.TypeOf(&zero).Elem()

	r.mu.Lock()
	_, exists := r.byType[t]
	inShutdown := r.inShutdown
	r.mu.Unlock()
	if inShutdown {
		return zero, ErrShuttingDown
	}
	if exists {
		return zero, &ErrAlreadyExists{Type: t}
	}

	built := ctor()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inShutdown {
		built.Shutdown()
		return zero, ErrShuttingDown
	}
	if _, exists := r.byType[t]; exists {
		built.Shutdown()
		return zero, &ErrAlreadyExists{Type: t}
	}
	if keyed, ok := any(built).(Keyed); ok {
		if _, exists := r.byType[keyed.KeyType()]; exists {
			built.Shutdown()
			return zero, &ErrAlreadyExists{Type: keyed.KeyType()}
		}
	}
	r.insertLocked(t, built)
	return built, nil
}

// insertLocked indexes svc under its concrete type and, if it implements
// Keyed, under its key type too. Callers must hold r.mu.
func (r *Registry) insertLocked(t reflect.Type, svc any) {
	s, _ := svc.(Service)
	e := &entry{svc: s, types: []reflect.Type{t}}
	r.byType[t] = e
	if keyed, ok := svc.(Keyed); ok {
		kt := keyed.KeyType()
		if kt != t {
			e.types = append(e.types, kt)
			r.byType[kt] = e
		}
	}
	r.order = append(r.order, e)
}

// Count returns the number of distinct services currently registered
// (a service indexed under both a concrete and a key type counts once),
// for runtime metrics surfaces such as scheduler.Stats().
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Shutdown calls Shutdown on every registered service, most recently
// registered first, then clears the registry. Services may reference each
// other freely during shutdown; they must not register new services —
// once inShutdown is set, Make returns ErrShuttingDown and Use returns
// the zero value instead of constructing anything.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.inShutdown = true
	order := r.order
	r.order = nil
	r.byType = make(map[reflect.Type]*entry)
	r.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		order[i].svc.Shutdown()
	}
}
