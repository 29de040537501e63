package rt

import "fmt"

// ---------------------------------------------------------------------------
// Heap state capture and restore
// ---------------------------------------------------------------------------
//
// The snapshot package serializes heap images; this file gives it a
// consistent view of the heap and a way to rebuild one. Capture and
// restore preserve slot and stamp layout, so reference values inside
// field maps stay valid across a round trip.

// ObjectState is the portable form of one record.
type ObjectState struct {
	Slot       int32
	Stamp      uint32
	ID         string
	TypeName   string
	Generation uint8
	Published  bool
	Fields     map[string]Value
}

// SnapshotState captures every live record under the heap lock.
func (rt *Runtime) SnapshotState() []ObjectState {
	hp := rt.heap
	hp.mu.Lock()
	defer hp.mu.Unlock()

	states := make([]ObjectState, 0, len(hp.records))
	for _, rec := range hp.records {
		rec.mu.RLock()
		fields := make(map[string]Value, len(rec.fields))
		for k, v := range rec.fields {
			fields[k] = v
		}
		published := rec.published
		rec.mu.RUnlock()

		states = append(states, ObjectState{
			Slot:       rec.self.slot,
			Stamp:      rec.self.stamp,
			ID:         rec.id,
			TypeName:   rec.typ.Name(),
			Generation: rec.generation,
			Published:  published,
			Fields:     fields,
		})
	}
	return states
}

// RestoreState rebuilds the heap from captured states. The heap must be
// empty, and every type name must be registered with the runtime's type
// table. Slot and stamp layout is reproduced exactly, so captured
// reference values resolve to the same records they did at capture time.
func (rt *Runtime) RestoreState(states []ObjectState) error {
	hp := rt.heap
	hp.mu.Lock()
	defer hp.mu.Unlock()

	if len(hp.records) != 0 {
		return fmt.Errorf("restore: heap not empty (%d live records)", len(hp.records))
	}
	if len(states) > hp.capacity {
		return fmt.Errorf("%w: restoring %d records into capacity %d",
			ErrOutOfMemory, len(states), hp.capacity)
	}

	maxSlot := int32(-1)
	bySlot := make(map[int32]*ObjectState, len(states))
	for i := range states {
		st := &states[i]
		if st.Slot < 0 {
			return fmt.Errorf("restore: record %s has invalid slot %d", st.ID, st.Slot)
		}
		if _, dup := bySlot[st.Slot]; dup {
			return fmt.Errorf("restore: duplicate slot %d", st.Slot)
		}
		bySlot[st.Slot] = st
		if st.Slot > maxSlot {
			maxSlot = st.Slot
		}
	}

	// Validate references before touching the heap.
	for _, st := range states {
		for name, v := range st.Fields {
			if !v.IsRef() || v.AsHandle().IsNull() {
				continue
			}
			target, ok := bySlot[v.AsHandle().slot]
			if !ok || target.Stamp != v.AsHandle().stamp {
				return fmt.Errorf("restore: %s.%s references a record missing from the image",
					st.TypeName, name)
			}
		}
	}

	hp.slots = make([]slotEntry, maxSlot+1)
	hp.free = nil
	hp.records = hp.records[:0]

	for i := range hp.slots {
		slot := int32(i)
		st, ok := bySlot[slot]
		if !ok {
			// Gap in the image: keep the slot free for future allocation.
			hp.slots[i] = slotEntry{index: -1, stamp: 1}
			hp.free = append(hp.free, slot)
			continue
		}

		td := rt.Types.Lookup(st.TypeName)
		if td == nil {
			return fmt.Errorf("restore: type %q not registered", st.TypeName)
		}

		rec := &ObjectRecord{
			id:         st.ID,
			typ:        td,
			self:       Handle{slot: slot, stamp: st.Stamp},
			generation: st.Generation,
			published:  st.Published,
			fields:     make(map[string]Value, len(st.Fields)),
			woInit:     make(map[string]bool),
		}
		for k, v := range st.Fields {
			rec.fields[k] = v
		}
		// Published records had their construction phase completed before
		// capture; treat every write-once field as initialized.
		for _, fd := range td.AllFields() {
			if fd.WriteOnce && st.Published {
				rec.woInit[fd.Name] = true
			}
		}

		hp.slots[i] = slotEntry{index: int32(len(hp.records)), stamp: st.Stamp}
		hp.records = append(hp.records, rec)
	}
	return nil
}
