package rt

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// WeakRef: a reference that does not keep its target alive
// ---------------------------------------------------------------------------

// WeakRef refers to a record without making it reachable. When the
// collector reclaims the target, the reference is cleared and the optional
// notify callback runs during the Finalizing phase.
type WeakRef struct {
	id     uint64
	mu     sync.RWMutex
	target Handle
	notify func(Handle)
}

// ID returns the reference's unique identifier.
func (wr *WeakRef) ID() uint64 { return wr.id }

// Get returns the target handle and whether it is still alive. After the
// target is reclaimed, Get returns NullHandle and false.
func (wr *WeakRef) Get() (Handle, bool) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()
	return wr.target, !wr.target.IsNull()
}

// OnCollect sets a callback invoked (with the stale handle, for
// information only) after the target has been reclaimed.
func (wr *WeakRef) OnCollect(fn func(Handle)) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.notify = fn
}

// clear severs the reference and returns the notify callback, if any.
func (wr *WeakRef) clear() func(Handle) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.target = NullHandle
	fn := wr.notify
	wr.notify = nil
	return fn
}

// ---------------------------------------------------------------------------
// WeakRegistry
// ---------------------------------------------------------------------------

// WeakRegistry tracks every weak reference so the collector can clear the
// ones whose targets die in a cycle.
type WeakRegistry struct {
	mu     sync.Mutex
	refs   map[uint64]*WeakRef
	nextID atomic.Uint64
}

// NewWeakRegistry creates an empty weak reference registry.
func NewWeakRegistry() *WeakRegistry {
	return &WeakRegistry{refs: make(map[uint64]*WeakRef)}
}

// New creates and registers a weak reference to target.
func (wr *WeakRegistry) New(target Handle) *WeakRef {
	ref := &WeakRef{id: wr.nextID.Add(1), target: target}
	wr.mu.Lock()
	wr.refs[ref.id] = ref
	wr.mu.Unlock()
	return ref
}

// Drop removes a reference from the registry.
func (wr *WeakRegistry) Drop(ref *WeakRef) {
	wr.mu.Lock()
	delete(wr.refs, ref.id)
	wr.mu.Unlock()
}

// Count returns the number of registered references.
func (wr *WeakRegistry) Count() int {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return len(wr.refs)
}

// sweep clears references whose target handles were reclaimed in this
// cycle and returns the pending notifications. Callbacks are returned
// rather than run so the collector can invoke them outside the heap lock.
func (wr *WeakRegistry) sweep(reclaimed map[Handle]struct{}) []func() {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	var pending []func()
	for _, ref := range wr.refs {
		ref.mu.RLock()
		target := ref.target
		ref.mu.RUnlock()
		if target.IsNull() {
			continue
		}
		if _, dead := reclaimed[target]; !dead {
			continue
		}
		if fn := ref.clear(); fn != nil {
			stale := target
			pending = append(pending, func() { fn(stale) })
		}
	}
	return pending
}

// ---------------------------------------------------------------------------
// Runtime weak reference API
// ---------------------------------------------------------------------------

// NewWeakRef creates a weak reference to h. The reference does not keep
// the record alive.
func (rt *Runtime) NewWeakRef(h Handle) *WeakRef {
	return rt.weak.New(h)
}

// DropWeakRef unregisters a weak reference.
func (rt *Runtime) DropWeakRef(ref *WeakRef) {
	rt.weak.Drop(ref)
}
