package engine

import "github.com/dbgcoord/dbgcoord/pkg/proctl"

// ThreadHandle is the session-side wrapper of a debuggee thread.
type ThreadHandle struct {
	// ID is session-local, starting at 1.
	ID     int
	Thread proctl.Thread

	// announced is set once a thread-start event was delivered.
	announced bool
}

// ModuleHandle is the session-side wrapper of a debuggee module.
type ModuleHandle struct {
	// ID is session-local, starting at 1.
	ID     int
	Module proctl.Module
}

// Registry maps debuggee handles to session-side wrappers, remembering
// insertion order. It is not safe for concurrent use; Session guards it
// with its own lock.
type Registry[K comparable, V any] struct {
	items  map[K]*V
	order  []K
	nextID int
}

func newRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{items: make(map[K]*V)}
}

// Register returns the wrapper for k, calling mk with a fresh
// session-local id when k is not registered yet. created reports whether
// a new wrapper was made.
func (r *Registry[K, V]) Register(k K, mk func(id int) V) (v *V, created bool) {
	if v, ok := r.items[k]; ok {
		return v, false
	}
	r.nextID++
	nv := mk(r.nextID)
	r.items[k] = &nv
	r.order = append(r.order, k)
	return &nv, true
}

// Unregister removes k. It reports false if k was not registered.
func (r *Registry[K, V]) Unregister(k K) (*V, bool) {
	v, ok := r.items[k]
	if !ok {
		return nil, false
	}
	delete(r.items, k)
	for i := range r.order {
		if r.order[i] == k {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return v, true
}

// Lookup returns the wrapper for k.
func (r *Registry[K, V]) Lookup(k K) (*V, bool) {
	v, ok := r.items[k]
	return v, ok
}

// Find returns the first wrapper, in insertion order, for which match
// returns true.
func (r *Registry[K, V]) Find(match func(*V) bool) (*V, bool) {
	for _, k := range r.order {
		if v := r.items[k]; match(v) {
			return v, true
		}
	}
	return nil, false
}

// Snapshot returns a copy of every wrapper in insertion order.
func (r *Registry[K, V]) Snapshot() []V {
	out := make([]V, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, *r.items[k])
	}
	return out
}

func (r *Registry[K, V]) Len() int {
	return len(r.order)
}

// Clear drops every entry. Ids are not reused.
func (r *Registry[K, V]) Clear() {
	r.items = make(map[K]*V)
	r.order = nil
}
