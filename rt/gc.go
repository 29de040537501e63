package rt

import (
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Generational collector
// ---------------------------------------------------------------------------

// Phase is the collector's current state.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseMarking
	PhaseCompacting
	PhaseSweeping
	PhaseFinalizing
)

func (p Phase) String() string {
	switch p {
	case PhaseMarking:
		return "marking"
	case PhaseCompacting:
		return "compacting"
	case PhaseSweeping:
		return "sweeping"
	case PhaseFinalizing:
		return "finalizing"
	default:
		return "idle"
	}
}

// MaxGeneration is the oldest generation tier. Survivors are promoted up
// to this cap and no further.
const MaxGeneration uint8 = 2

// CollectStats holds statistics from a single collection cycle.
type CollectStats struct {
	Cycle     uint64
	MaxGen    uint8 // oldest generation considered in this cycle
	Marked    int
	Swept     int
	Promoted  int
	Finalized int
	WeakCleared int
	Duration  time.Duration
	Timestamp time.Time
}

// Collector reclaims unreachable records generationally. Generation 0 is
// collected on every cycle, generation 1 every MinorRatio cycles, and
// generation 2 every MinorRatio*MajorRatio cycles, so young records are
// collected far more often than tenured ones.
//
// Marking, compacting and sweeping run under the heap lock: no mutator can
// allocate or dereference while records are being relocated, and no live
// handle is ever left pointing at reclaimed storage. Finalizers and weak
// reference notifications run afterwards, outside the lock.
type Collector struct {
	rt       *Runtime
	interval time.Duration
	threshold uint64 // allocations since last cycle that trigger one
	minorRatio uint64
	majorRatio uint64

	phase   atomic.Int32
	enabled atomic.Bool
	cycles  atomic.Uint64

	trigger chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	mu      sync.Mutex // protects start/stop lifecycle

	collectMu sync.Mutex // serializes collection cycles
	lastStats atomic.Value // *CollectStats
}

// Collector tuning defaults.
const (
	DefaultGCInterval  = 5 * time.Second
	DefaultGCThreshold = 1024
	DefaultMinorRatio  = 4
	DefaultMajorRatio  = 4
)

// newCollector creates a collector for the runtime with the given tuning.
func newCollector(r *Runtime, interval time.Duration, threshold uint64, minorRatio, majorRatio uint64) *Collector {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	if threshold == 0 {
		threshold = DefaultGCThreshold
	}
	if minorRatio == 0 {
		minorRatio = DefaultMinorRatio
	}
	if majorRatio == 0 {
		majorRatio = DefaultMajorRatio
	}
	c := &Collector{
		rt:         r,
		interval:   interval,
		threshold:  threshold,
		minorRatio: minorRatio,
		majorRatio: majorRatio,
		trigger:    make(chan struct{}, 1),
	}
	c.enabled.Store(true)
	return c
}

// Phase returns the collector's current phase.
func (c *Collector) Phase() Phase { return Phase(c.phase.Load()) }

// Cycles returns the number of completed collection cycles.
func (c *Collector) Cycles() uint64 { return c.cycles.Load() }

// LastStats returns statistics from the most recent cycle, or nil.
func (c *Collector) LastStats() *CollectStats {
	v := c.lastStats.Load()
	if v == nil {
		return nil
	}
	return v.(*CollectStats)
}

// SetEnabled enables or disables background collection. Explicit Collect
// calls still run while disabled.
func (c *Collector) SetEnabled(enabled bool) { c.enabled.Store(enabled) }

// Start begins the background collection goroutine. Safe to call more
// than once; only one loop runs.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		return // already running
	}
	c.stop = make(chan struct{})
	c.stopped = make(chan struct{})

	// Capture the channels so the goroutine never reads fields that Stop
	// nils out.
	stopCh := c.stop
	stoppedCh := c.stopped
	go c.loop(stopCh, stoppedCh)
}

// Stop halts the background goroutine and waits for it to finish. Safe to
// call repeatedly or on a collector that was never started.
func (c *Collector) Stop() {
	c.mu.Lock()
	stopCh := c.stop
	stoppedCh := c.stopped
	c.stop = nil
	c.stopped = nil
	c.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// Request hints that a collection should run soon. It never blocks and
// gives no guarantee of immediate execution: the background loop folds
// concurrent requests into a single cycle.
func (c *Collector) Request() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func (c *Collector) loop(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-c.trigger:
			if c.enabled.Load() {
				c.collect(c.nextMaxGen())
			}
		case <-ticker.C:
			if !c.enabled.Load() {
				continue
			}
			if c.rt.heap.allocsSinceCollection(false) >= c.threshold {
				c.collect(c.nextMaxGen())
			}
		}
	}
}

// nextMaxGen picks the oldest generation for the upcoming cycle based on
// the cycle counter cadence.
func (c *Collector) nextMaxGen() uint8 {
	n := c.cycles.Load() + 1
	switch {
	case n%(c.minorRatio*c.majorRatio) == 0:
		return 2
	case n%c.minorRatio == 0:
		return 1
	default:
		return 0
	}
}

// Collect runs one synchronous collection covering generations 0..maxGen.
func (c *Collector) Collect(maxGen uint8) *CollectStats {
	return c.collect(maxGen)
}

func (c *Collector) collect(maxGen uint8) *CollectStats {
	if maxGen > MaxGeneration {
		maxGen = MaxGeneration
	}

	c.collectMu.Lock()
	defer c.collectMu.Unlock()

	start := time.Now()
	stats := &CollectStats{
		MaxGen:    maxGen,
		Timestamp: start,
	}

	hp := c.rt.heap
	hp.mu.Lock()
	hp.allocsSinceCollection(true)

	// Marking: trace from the root set and the registered callback lists
	// through every reference-valued field.
	c.phase.Store(int32(PhaseMarking))
	for _, rec := range hp.records {
		rec.marked = false
	}
	var stack []*ObjectRecord
	pushRoot := func(h Handle) {
		if rec, err := hp.derefLocked(h); err == nil && !rec.marked {
			rec.marked = true
			stack = append(stack, rec)
		}
	}
	for _, h := range c.rt.roots.snapshot() {
		pushRoot(h)
	}
	c.rt.events.forEachTarget(pushRoot)
	for len(stack) > 0 {
		rec := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stats.Marked++
		for _, h := range rec.refSlots() {
			pushRoot(h)
		}
	}

	// Compacting: relocate survivors to squeeze out the records being
	// reclaimed, rewriting the slot table as they move. Handles are slot
	// indirected, so live handles stay valid across relocation. Survivors
	// of their own generation's collection are promoted, capped at 2.
	c.phase.Store(int32(PhaseCompacting))
	reclaimedHandles := make(map[Handle]struct{})
	var reclaimed []*ObjectRecord
	compacted := hp.records[:0]
	for _, rec := range hp.records {
		if !rec.marked && rec.generation <= maxGen {
			reclaimed = append(reclaimed, rec)
			reclaimedHandles[rec.self] = struct{}{}
			continue
		}
		if rec.marked && rec.generation <= maxGen && rec.generation < MaxGeneration {
			rec.generation++
			stats.Promoted++
		}
		hp.slots[rec.self.slot].index = int32(len(compacted))
		compacted = append(compacted, rec)
	}
	for i := len(compacted); i < len(hp.records); i++ {
		hp.records[i] = nil
	}
	hp.records = compacted

	// Sweeping: release the reclaimed slots. Bumping the stamp invalidates
	// every outstanding handle to the dead record before the slot is
	// reused.
	c.phase.Store(int32(PhaseSweeping))
	for _, rec := range reclaimed {
		hp.slots[rec.self.slot].index = -1
		hp.slots[rec.self.slot].stamp++
		hp.free = append(hp.free, rec.self.slot)
		stats.Swept++
	}
	hp.mu.Unlock()

	// Finalizing: run registered finalizer bodies and weak reference
	// notifications outside the heap lock, then return to idle.
	c.phase.Store(int32(PhaseFinalizing))
	for _, rec := range reclaimed {
		if fn := c.rt.finalizers.take(rec.self); fn != nil {
			fn(rec.self)
			stats.Finalized++
		}
	}
	for _, notify := range c.rt.weak.sweep(reclaimedHandles) {
		notify()
		stats.WeakCleared++
	}
	c.phase.Store(int32(PhaseIdle))

	stats.Cycle = c.cycles.Add(1)
	stats.Duration = time.Since(start)
	c.lastStats.Store(stats)

	gcLog.Debugf("cycle %d: maxGen=%d marked=%d swept=%d promoted=%d finalized=%d in %s",
		stats.Cycle, stats.MaxGen, stats.Marked, stats.Swept, stats.Promoted,
		stats.Finalized, stats.Duration)
	return stats
}

// ---------------------------------------------------------------------------
// Finalizer table
// ---------------------------------------------------------------------------

// finalizerTable maps handles to finalizer bodies, invoked once when the
// record is reclaimed.
type finalizerTable struct {
	mu  sync.Mutex
	fns map[Handle]func(Handle)
}

func newFinalizerTable() *finalizerTable {
	return &finalizerTable{fns: make(map[Handle]func(Handle))}
}

func (ft *finalizerTable) set(h Handle, fn func(Handle)) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if fn == nil {
		delete(ft.fns, h)
		return
	}
	ft.fns[h] = fn
}

// take removes and returns the finalizer for h, or nil.
func (ft *finalizerTable) take(h Handle) func(Handle) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	fn := ft.fns[h]
	delete(ft.fns, h)
	return fn
}
