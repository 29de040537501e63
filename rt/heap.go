package rt

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// ObjectRecord
// ---------------------------------------------------------------------------

// ObjectRecord is one heap-allocated object: its type, generation tag, and
// field storage. Records are created by Heap.Allocate and destroyed only by
// the collector; application code never frees them.
type ObjectRecord struct {
	id   string
	typ  *TypeDescriptor
	self Handle

	// generation and marked belong to the collector. They are only read
	// or written while the collector holds the heap lock.
	generation uint8
	marked     bool

	mu        sync.RWMutex
	published bool
	fields    map[string]Value
	woInit    map[string]bool // write-once fields initialized so far
}

// ID returns the record's unique identity.
func (r *ObjectRecord) ID() string { return r.id }

// Type returns the record's type descriptor.
func (r *ObjectRecord) Type() *TypeDescriptor { return r.typ }

// Handle returns a handle for this record. The handle stays valid across
// compaction; it dies only when the collector reclaims the record.
func (r *ObjectRecord) Handle() Handle { return r.self }

// Generation returns the record's current GC generation (0, 1 or 2).
func (r *ObjectRecord) Generation() uint8 { return r.generation }

// Published reports whether the record has been published.
func (r *ObjectRecord) Published() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.published
}

// Fields returns a copy of the record's field map.
func (r *ObjectRecord) Fields() map[string]Value {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Value, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// refSlots returns the handles held in reference-valued fields. Used by
// the collector while tracing.
func (r *ObjectRecord) refSlots() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var refs []Handle
	for _, v := range r.fields {
		if v.IsRef() && !v.AsHandle().IsNull() {
			refs = append(refs, v.AsHandle())
		}
	}
	return refs
}

// ---------------------------------------------------------------------------
// Heap
// ---------------------------------------------------------------------------

// slotEntry is one entry in the handle indirection table. index points into
// the record storage (-1 when free); stamp is bumped every time the slot is
// reclaimed so stale handles fail validation.
type slotEntry struct {
	index int32
	stamp uint32
}

// Heap is the arena that owns all object records. Handles go through the
// slot table, so the collector can relocate records during compaction
// without invalidating live handles.
type Heap struct {
	mu       sync.Mutex
	slots    []slotEntry
	free     []int32
	records  []*ObjectRecord
	capacity int

	allocs      atomic.Uint64 // allocations since the last collection
	totalAllocs atomic.Uint64

	// collectForOOM runs one forced full collection when allocation finds
	// the heap exhausted. Set by the runtime; nil in bare-heap tests.
	collectForOOM func()
}

// DefaultHeapCapacity bounds the number of live records when no capacity
// is configured.
const DefaultHeapCapacity = 1 << 16

// NewHeap creates a heap bounded to capacity live records.
func NewHeap(capacity int) *Heap {
	if capacity <= 0 {
		capacity = DefaultHeapCapacity
	}
	return &Heap{capacity: capacity}
}

// Allocate creates a zero-initialized record of the given type in
// generation 0 and returns its handle.
//
// Allocation fails with ErrIncompleteType when the type has an unresolved
// abstract slot, and with ErrOutOfMemory when the heap is full even after
// one forced collection.
func (hp *Heap) Allocate(td *TypeDescriptor) (Handle, error) {
	if td == nil {
		return NullHandle, fmt.Errorf("allocate: nil type descriptor")
	}
	if missing := td.missingBodies(); len(missing) > 0 {
		return NullHandle, fmt.Errorf("%w: %s has %d abstract slot(s) without a body",
			ErrIncompleteType, td.Name(), len(missing))
	}

	hp.mu.Lock()
	if len(hp.records) >= hp.capacity {
		hp.mu.Unlock()
		if hp.collectForOOM != nil {
			hp.collectForOOM()
		}
		hp.mu.Lock()
		if len(hp.records) >= hp.capacity {
			hp.mu.Unlock()
			return NullHandle, fmt.Errorf("%w: heap at capacity %d", ErrOutOfMemory, hp.capacity)
		}
	}
	defer hp.mu.Unlock()

	rec := &ObjectRecord{
		id:     uuid.New().String(),
		typ:    td,
		fields: make(map[string]Value),
		woInit: make(map[string]bool),
	}
	for _, fd := range td.AllFields() {
		rec.fields[fd.Name] = fd.zeroValue()
	}

	var slot int32
	if n := len(hp.free); n > 0 {
		slot = hp.free[n-1]
		hp.free = hp.free[:n-1]
	} else {
		slot = int32(len(hp.slots))
		hp.slots = append(hp.slots, slotEntry{index: -1, stamp: 1})
	}

	hp.slots[slot].index = int32(len(hp.records))
	rec.self = Handle{slot: slot, stamp: hp.slots[slot].stamp}
	hp.records = append(hp.records, rec)

	hp.allocs.Add(1)
	hp.totalAllocs.Add(1)
	return rec.self, nil
}

// Dereference resolves a handle to its record. Null handles and handles to
// reclaimed records fail with ErrInvalidHandle.
func (hp *Heap) Dereference(h Handle) (*ObjectRecord, error) {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	return hp.derefLocked(h)
}

// derefLocked is Dereference for callers already holding hp.mu.
func (hp *Heap) derefLocked(h Handle) (*ObjectRecord, error) {
	if h.IsNull() {
		return nil, fmt.Errorf("%w: null handle", ErrInvalidHandle)
	}
	if int(h.slot) >= len(hp.slots) {
		return nil, fmt.Errorf("%w: slot %d out of range", ErrInvalidHandle, h.slot)
	}
	entry := hp.slots[h.slot]
	if entry.index < 0 || entry.stamp != h.stamp {
		return nil, fmt.Errorf("%w: record reclaimed", ErrInvalidHandle)
	}
	return hp.records[entry.index], nil
}

// Live returns the number of live records.
func (hp *Heap) Live() int {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	return len(hp.records)
}

// Capacity returns the heap's live-record bound.
func (hp *Heap) Capacity() int { return hp.capacity }

// allocsSinceCollection returns and optionally resets the allocation
// counter used for GC triggering.
func (hp *Heap) allocsSinceCollection(reset bool) uint64 {
	if reset {
		return hp.allocs.Swap(0)
	}
	return hp.allocs.Load()
}
