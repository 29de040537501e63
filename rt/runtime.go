package rt

import (
	"time"

	"github.com/tliron/commonlog"
)

var (
	rtLog = commonlog.GetLogger("cinder.rt")
	gcLog = commonlog.GetLogger("cinder.gc")
)

// ---------------------------------------------------------------------------
// Runtime
// ---------------------------------------------------------------------------

// Options tunes a runtime instance. The zero value selects the defaults.
type Options struct {
	// HeapCapacity bounds the number of live records.
	HeapCapacity int

	// GCInterval is how often the background collector checks the
	// allocation threshold.
	GCInterval time.Duration

	// GCThreshold is the number of allocations since the last cycle that
	// makes the background collector run one.
	GCThreshold uint64

	// MinorRatio and MajorRatio set the generational cadence: generation 1
	// is collected every MinorRatio cycles and generation 2 every
	// MinorRatio*MajorRatio cycles.
	MinorRatio uint64
	MajorRatio uint64
}

// Runtime ties the object store, dispatch resolver, callback registry,
// field guard and collector together. Create one with New, start the
// background collector with Start, and release it with Close.
type Runtime struct {
	Selectors *SelectorTable
	Types     *TypeTable

	heap       *Heap
	roots      *RootSet
	events     *EventRegistry
	weak       *WeakRegistry
	finalizers *finalizerTable
	collector  *Collector
}

// New creates a runtime with the given options. The background collector
// is not running until Start is called; explicit collection requests and
// the out-of-memory retry work regardless.
func New(opts Options) *Runtime {
	r := &Runtime{
		Selectors:  NewSelectorTable(),
		Types:      NewTypeTable(),
		heap:       NewHeap(opts.HeapCapacity),
		roots:      NewRootSet(),
		events:     NewEventRegistry(),
		weak:       NewWeakRegistry(),
		finalizers: newFinalizerTable(),
	}
	r.collector = newCollector(r, opts.GCInterval, opts.GCThreshold, opts.MinorRatio, opts.MajorRatio)

	// Out-of-memory retry: one forced full collection before Allocate
	// re-raises.
	r.heap.collectForOOM = func() {
		rtLog.Info("heap exhausted, forcing full collection")
		r.collector.collect(MaxGeneration)
	}
	return r
}

// Start launches the background collector.
func (rt *Runtime) Start() { rt.collector.Start() }

// Close stops the background collector. The runtime must not be used
// afterwards.
func (rt *Runtime) Close() { rt.collector.Stop() }

// Heap returns the runtime's object store.
func (rt *Runtime) Heap() *Heap { return rt.heap }

// Collector returns the runtime's collector.
func (rt *Runtime) Collector() *Collector { return rt.collector }

// ---------------------------------------------------------------------------
// Object store passthroughs
// ---------------------------------------------------------------------------

// Allocate creates a record of the named behavior in generation 0.
func (rt *Runtime) Allocate(td *TypeDescriptor) (Handle, error) {
	return rt.heap.Allocate(td)
}

// Dereference resolves a handle to its record.
func (rt *Runtime) Dereference(h Handle) (*ObjectRecord, error) {
	return rt.heap.Dereference(h)
}

// FieldRead returns the current value of a field.
func (rt *Runtime) FieldRead(h Handle, name string) (Value, error) {
	return rt.heap.FieldRead(h, name)
}

// FieldWrite stores a value into a field, honoring write-once semantics.
func (rt *Runtime) FieldWrite(h Handle, name string, v Value) error {
	return rt.heap.FieldWrite(h, name, v)
}

// Initialize writes a field during the construction phase.
func (rt *Runtime) Initialize(h Handle, name string, v Value) error {
	return rt.heap.Initialize(h, name, v)
}

// Publish ends a record's construction phase, sealing write-once fields.
func (rt *Runtime) Publish(h Handle) error {
	return rt.heap.Publish(h)
}

// ---------------------------------------------------------------------------
// Collection API
// ---------------------------------------------------------------------------

// RequestCollection hints that a collection should run. It is
// non-blocking and gives no guarantee of immediate execution; use
// Collect for a synchronous cycle.
func (rt *Runtime) RequestCollection() {
	rt.collector.Request()
}

// Collect runs one synchronous collection covering generations 0..maxGen.
func (rt *Runtime) Collect(maxGen uint8) *CollectStats {
	return rt.collector.Collect(maxGen)
}

// RegisterFinalizer installs a body invoked once, during the Finalizing
// phase, after h's record is reclaimed. A nil fn removes a previously
// registered finalizer. The callback receives the stale handle for
// identification only; dereferencing it fails.
func (rt *Runtime) RegisterFinalizer(h Handle, fn func(Handle)) {
	rt.finalizers.set(h, fn)
}
