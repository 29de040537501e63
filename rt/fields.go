package rt

import "fmt"

// ---------------------------------------------------------------------------
// Field guard: reads, writes and write-once publication
// ---------------------------------------------------------------------------
//
// A record starts in the construction phase. Initialize writes write-once
// fields while unpublished; Publish is the explicit publication event that
// seals them. Publication also happens implicitly when a handle becomes
// reachable from outside the constructing context: added to the root set,
// or stored into a field of an already-published record.
//
// The publication guarantee is carried by the record mutex: Publish sets
// the published flag under the write lock, and every field read takes the
// read lock, so a reader that observes published also observes every
// initialization that preceded it. The guarantee is shallow: it covers the
// write-once field's value, not the contents of a mutable record that the
// value references.

// FieldRead returns the current value of a field.
func (hp *Heap) FieldRead(h Handle, name string) (Value, error) {
	rec, err := hp.Dereference(h)
	if err != nil {
		return Nil(), err
	}
	if _, ok := rec.typ.FieldByName(name); !ok {
		return Nil(), fmt.Errorf("%w: %q on %s", ErrUnknownField, name, rec.typ.Name())
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.fields[name], nil
}

// FieldWrite stores a value into a field.
//
// Writing a write-once field after publication fails with
// ErrImmutableField and leaves the record unchanged. Writing a reference
// into a published record publishes the referenced record, since it is now
// reachable outside its constructing context.
func (hp *Heap) FieldWrite(h Handle, name string, v Value) error {
	rec, err := hp.Dereference(h)
	if err != nil {
		return err
	}
	fd, ok := rec.typ.FieldByName(name)
	if !ok {
		return fmt.Errorf("%w: %q on %s", ErrUnknownField, name, rec.typ.Name())
	}

	rec.mu.Lock()
	if fd.WriteOnce && rec.published {
		rec.mu.Unlock()
		return fmt.Errorf("%w: %s.%s written after publication", ErrImmutableField, rec.typ.Name(), name)
	}
	if fd.WriteOnce {
		rec.woInit[name] = true
	}
	rec.fields[name] = v
	published := rec.published
	rec.mu.Unlock()

	if published && v.IsRef() && !v.AsHandle().IsNull() {
		hp.publish(v.AsHandle())
	}
	return nil
}

// Initialize writes a field during the construction phase. It is the
// intended way to set write-once fields; after publication it fails with
// ErrImmutableField regardless of the field's write-once flag.
func (hp *Heap) Initialize(h Handle, name string, v Value) error {
	rec, err := hp.Dereference(h)
	if err != nil {
		return err
	}
	fd, ok := rec.typ.FieldByName(name)
	if !ok {
		return fmt.Errorf("%w: %q on %s", ErrUnknownField, name, rec.typ.Name())
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.published {
		return fmt.Errorf("%w: %s.%s initialized after publication", ErrImmutableField, rec.typ.Name(), name)
	}
	if fd.WriteOnce {
		rec.woInit[name] = true
	}
	rec.fields[name] = v
	return nil
}

// Publish marks the record as published, ending its construction phase.
//
// Publish verifies that every write-once field was initialized, so no
// reader can observe a default value for one afterwards; an unset field
// fails with ErrWriteOnceUnset and the record stays unpublished.
// Publishing twice is a no-op.
func (hp *Heap) Publish(h Handle) error {
	rec, err := hp.Dereference(h)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.published {
		return nil
	}
	for _, fd := range rec.typ.AllFields() {
		if fd.WriteOnce && !rec.woInit[fd.Name] {
			return fmt.Errorf("%w: %s.%s", ErrWriteOnceUnset, rec.typ.Name(), fd.Name)
		}
	}
	rec.published = true
	return nil
}

// publish marks a record published without the write-once completeness
// check. Used on the implicit publication paths, where reachability is a
// fact rather than a request.
func (hp *Heap) publish(h Handle) {
	rec, err := hp.Dereference(h)
	if err != nil {
		return
	}
	rec.mu.Lock()
	rec.published = true
	rec.mu.Unlock()
}
