package rt

import "sync"

// ---------------------------------------------------------------------------
// RootSet: always-reachable handles
// ---------------------------------------------------------------------------

// RootSet is the process-wide set of handles the collector treats as
// always reachable: global bindings, pinned records, active locals.
// Entries are counted, so nested pins of the same handle need matching
// removals before the record becomes collectable.
type RootSet struct {
	mu    sync.Mutex
	roots map[Handle]int
}

// NewRootSet creates an empty root set.
func NewRootSet() *RootSet {
	return &RootSet{roots: make(map[Handle]int)}
}

// add pins a handle. Null handles are ignored.
func (rs *RootSet) add(h Handle) {
	if h.IsNull() {
		return
	}
	rs.mu.Lock()
	rs.roots[h]++
	rs.mu.Unlock()
}

// remove releases one pin of a handle.
func (rs *RootSet) remove(h Handle) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if n, ok := rs.roots[h]; ok {
		if n <= 1 {
			delete(rs.roots, h)
		} else {
			rs.roots[h] = n - 1
		}
	}
}

// Contains reports whether the handle is currently pinned.
func (rs *RootSet) Contains(h Handle) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	_, ok := rs.roots[h]
	return ok
}

// Len returns the number of distinct pinned handles.
func (rs *RootSet) Len() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.roots)
}

// snapshot copies the current roots for one marking pass.
func (rs *RootSet) snapshot() []Handle {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	out := make([]Handle, 0, len(rs.roots))
	for h := range rs.roots {
		out = append(out, h)
	}
	return out
}

// ---------------------------------------------------------------------------
// Runtime root API
// ---------------------------------------------------------------------------

// AddRoot pins a handle as always reachable. Pinning publishes the record:
// it is now reachable from outside its constructing context.
func (rt *Runtime) AddRoot(h Handle) {
	rt.roots.add(h)
	if !h.IsNull() {
		rt.heap.publish(h)
	}
}

// RemoveRoot releases one pin. The record stays alive until the next
// collection finds it unreachable.
func (rt *Runtime) RemoveRoot(h Handle) {
	rt.roots.remove(h)
}

// Roots returns the runtime's root set.
func (rt *Runtime) Roots() *RootSet { return rt.roots }
