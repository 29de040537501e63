package rt

import "fmt"

// ---------------------------------------------------------------------------
// Dispatch resolution
// ---------------------------------------------------------------------------
//
// Resolution starts from the access point's declared type, never the
// receiver: the nearest declaration for the selector in the declared
// type's chain decides the binding mode.
//
//   - Dynamic: the body comes from the receiver's concrete type's vtable.
//     Overrides replace inherited entries in place, so the entry found is
//     always the most-derived override reachable from the concrete type.
//   - Static: the body is the found declaration's own, taken from the
//     declaring type. The receiver's concrete type is ignored. This is the
//     hiding asymmetry, and it must never collapse into the dynamic path.

// Resolve decides which method body runs for a call through staticType.
// h must be valid when the found slot is dynamic; purely static resolution
// does not touch the heap.
func (rt *Runtime) Resolve(h Handle, staticType *TypeDescriptor, selector int) (*MethodSlot, error) {
	if staticType == nil {
		return nil, fmt.Errorf("resolve: nil static type")
	}

	decl := staticType.lookupDecl(selector)
	if decl == nil {
		return nil, fmt.Errorf("%w: %q not declared in chain of %s",
			ErrNoSuchSelector, rt.Selectors.Name(selector), staticType.Name())
	}

	if decl.Binding == BindStatic {
		return decl, nil
	}

	rec, err := rt.heap.Dereference(h)
	if err != nil {
		return nil, err
	}
	entry := rec.typ.vtableEntry(selector)
	if entry == nil {
		// Cannot happen for well-formed chains: the receiver's type is at
		// or below the declarer, and overriding replaces entries in place.
		return nil, fmt.Errorf("%w: %q missing from vtable of %s",
			ErrNoSuchSelector, rt.Selectors.Name(selector), rec.typ.Name())
	}
	return entry, nil
}

// Invoke resolves through staticType and runs the body.
func (rt *Runtime) Invoke(h Handle, staticType *TypeDescriptor, selector int, args []Value) (Value, error) {
	slot, err := rt.Resolve(h, staticType, selector)
	if err != nil {
		return Nil(), err
	}
	if slot.IsAbstract() {
		return Nil(), fmt.Errorf("%w: abstract slot %q on %s",
			ErrIncompleteType, rt.Selectors.Name(selector), slot.Declarer.Name())
	}
	return slot.Body(rt, Ref(h), args)
}

// Send invokes a selector with the receiver's concrete type as the access
// type, i.e. plain dynamic message sending. Event delivery uses this path.
func (rt *Runtime) Send(h Handle, selector int, args []Value) (Value, error) {
	rec, err := rt.heap.Dereference(h)
	if err != nil {
		return Nil(), err
	}
	return rt.Invoke(h, rec.typ, selector, args)
}
