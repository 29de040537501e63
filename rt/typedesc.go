package rt

import (
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// Method slots
// ---------------------------------------------------------------------------

// BindingMode selects how a method slot is resolved at call time.
type BindingMode uint8

const (
	// BindDynamic slots resolve against the concrete type of the receiver.
	// A redeclaration in a descendant replaces the inherited vtable entry
	// in place (overriding).
	BindDynamic BindingMode = iota

	// BindStatic slots resolve against the declared type at the access
	// point, ignoring the receiver's concrete type entirely (hiding). A
	// same-named static slot in a descendant is a new, independent slot.
	BindStatic
)

func (m BindingMode) String() string {
	if m == BindStatic {
		return "static"
	}
	return "dynamic"
}

// MethodFunc is the signature for method bodies. self is a reference value
// for the receiving record; args are positional.
type MethodFunc func(rt *Runtime, self Value, args []Value) (Value, error)

// MethodSlot describes one declared method: its selector, declaring type,
// binding mode, and body. A dynamic slot with a nil body is abstract: it
// must be overridden with a concrete body somewhere below the declarer
// before any instance can be allocated.
type MethodSlot struct {
	Selector int
	Declarer *TypeDescriptor
	Binding  BindingMode
	Body     MethodFunc
}

// IsAbstract reports whether the slot has no concrete body.
func (s *MethodSlot) IsAbstract() bool { return s.Body == nil }

// ---------------------------------------------------------------------------
// Field descriptors
// ---------------------------------------------------------------------------

// FieldKind determines a field's zero value at allocation time: numeric
// fields to zero, reference fields to the null handle.
type FieldKind uint8

const (
	FieldAny FieldKind = iota // zero-initialized to nil
	FieldInt
	FieldFloat
	FieldBool
	FieldString
	FieldRef
)

// FieldDescriptor describes one declared field. WriteOnce fields may only
// be written during the construction phase, before the record is published.
type FieldDescriptor struct {
	Name      string
	Kind      FieldKind
	WriteOnce bool
}

// zeroValue returns the allocation-time default for the field.
func (fd FieldDescriptor) zeroValue() Value {
	switch fd.Kind {
	case FieldInt:
		return Int(0)
	case FieldFloat:
		return Float(0)
	case FieldBool:
		return Bool(false)
	case FieldString:
		return Str("")
	case FieldRef:
		return Ref(NullHandle)
	default:
		return Nil()
	}
}

// ---------------------------------------------------------------------------
// TypeDescriptor
// ---------------------------------------------------------------------------

// TypeDescriptor describes a runtime type: its name, single parent, field
// layout and method slots.
//
// Two structures back dispatch:
//
//   - decls holds this type's own declarations (both binding modes), and
//     the chain walk over decls finds the nearest declaration for a
//     selector, which is what the access point's declared type sees.
//   - vtable is the flattened dynamic dispatch table, copied from the
//     parent at derivation time; DeclareDynamic overwrites the inherited
//     entry in place, which is exactly override semantics. Static
//     declarations never touch the vtable.
type TypeDescriptor struct {
	name   string
	parent *TypeDescriptor

	decls  map[int]*MethodSlot
	vtable []*MethodSlot

	fields []FieldDescriptor
}

// NewType creates a type descriptor deriving from parent (nil for a root
// type). The new type starts with a copy of the parent's vtable, so every
// inherited dynamic slot is present until overridden.
func NewType(name string, parent *TypeDescriptor) *TypeDescriptor {
	td := &TypeDescriptor{
		name:   name,
		parent: parent,
		decls:  make(map[int]*MethodSlot),
	}
	if parent != nil {
		td.vtable = make([]*MethodSlot, len(parent.vtable))
		copy(td.vtable, parent.vtable)
	}
	return td
}

// Name returns the type's name.
func (td *TypeDescriptor) Name() string { return td.name }

// Parent returns the parent type, or nil for a root type.
func (td *TypeDescriptor) Parent() *TypeDescriptor { return td.parent }

// IsKindOf reports whether td is other or a descendant of other.
func (td *TypeDescriptor) IsKindOf(other *TypeDescriptor) bool {
	for t := td; t != nil; t = t.parent {
		if t == other {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Method declaration
// ---------------------------------------------------------------------------

// DeclareDynamic declares (or overrides) a dynamically bound method. When
// the selector is inherited as a dynamic slot, the vtable entry is replaced
// in place; otherwise a new dynamic slot is introduced.
func (td *TypeDescriptor) DeclareDynamic(selector int, body MethodFunc) {
	slot := &MethodSlot{Selector: selector, Declarer: td, Binding: BindDynamic, Body: body}
	td.decls[selector] = slot
	td.setVTable(selector, slot)
}

// DeclareAbstract declares a mandatory dynamic slot with no body. Types
// carrying an unresolved abstract slot cannot be instantiated.
func (td *TypeDescriptor) DeclareAbstract(selector int) {
	td.DeclareDynamic(selector, nil)
}

// DeclareStatic declares a statically bound method. The declaration is
// independent of any same-named slot above it: it hides rather than
// overrides, and dynamic dispatch through an ancestor never reaches it.
func (td *TypeDescriptor) DeclareStatic(selector int, body MethodFunc) {
	td.decls[selector] = &MethodSlot{Selector: selector, Declarer: td, Binding: BindStatic, Body: body}
}

func (td *TypeDescriptor) setVTable(selector int, slot *MethodSlot) {
	if selector >= len(td.vtable) {
		grown := make([]*MethodSlot, selector+1)
		copy(grown, td.vtable)
		td.vtable = grown
	}
	td.vtable[selector] = slot
}

// lookupDecl finds the nearest declaration for selector starting at td and
// walking the parent chain. Returns nil when absent from the whole chain.
func (td *TypeDescriptor) lookupDecl(selector int) *MethodSlot {
	for t := td; t != nil; t = t.parent {
		if s, ok := t.decls[selector]; ok {
			return s
		}
	}
	return nil
}

// vtableEntry returns the dynamic dispatch entry for selector, or nil.
func (td *TypeDescriptor) vtableEntry(selector int) *MethodSlot {
	if selector >= 0 && selector < len(td.vtable) {
		return td.vtable[selector]
	}
	return nil
}

// missingBodies returns the selector IDs of abstract slots that have no
// concrete body anywhere in the chain (i.e. unresolved vtable entries).
func (td *TypeDescriptor) missingBodies() []int {
	var missing []int
	for sel, slot := range td.vtable {
		if slot != nil && slot.IsAbstract() {
			missing = append(missing, sel)
		}
	}
	return missing
}

// ---------------------------------------------------------------------------
// Field declaration
// ---------------------------------------------------------------------------

// DeclareField adds a field to this type's layout.
func (td *TypeDescriptor) DeclareField(fd FieldDescriptor) {
	td.fields = append(td.fields, fd)
}

// FieldByName finds the descriptor for a field, searching this type first
// and then the parent chain. ok is false when no type declares the name.
func (td *TypeDescriptor) FieldByName(name string) (FieldDescriptor, bool) {
	for t := td; t != nil; t = t.parent {
		for _, fd := range t.fields {
			if fd.Name == name {
				return fd, true
			}
		}
	}
	return FieldDescriptor{}, false
}

// AllFields returns every field in the layout, inherited fields first.
func (td *TypeDescriptor) AllFields() []FieldDescriptor {
	if td.parent == nil {
		return td.fields
	}
	inherited := td.parent.AllFields()
	all := make([]FieldDescriptor, 0, len(inherited)+len(td.fields))
	all = append(all, inherited...)
	all = append(all, td.fields...)
	return all
}

// ---------------------------------------------------------------------------
// TypeTable
// ---------------------------------------------------------------------------

// TypeTable is the runtime's name-to-descriptor registry. Snapshot restore
// resolves type names against it, so every type that may appear in an
// image must be registered before Restore.
type TypeTable struct {
	mu    sync.RWMutex
	types map[string]*TypeDescriptor
}

// NewTypeTable creates an empty type table.
func NewTypeTable() *TypeTable {
	return &TypeTable{types: make(map[string]*TypeDescriptor)}
}

// Register adds a type descriptor under its name. Registering a name twice
// is an error; redefinition is not part of the runtime core.
func (tt *TypeTable) Register(td *TypeDescriptor) error {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if _, ok := tt.types[td.name]; ok {
		return fmt.Errorf("type %q already registered", td.name)
	}
	tt.types[td.name] = td
	return nil
}

// Lookup returns the descriptor for a name, or nil.
func (tt *TypeTable) Lookup(name string) *TypeDescriptor {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return tt.types[name]
}

// Names returns all registered type names.
func (tt *TypeTable) Names() []string {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	names := make([]string, 0, len(tt.types))
	for name := range tt.types {
		names = append(names, name)
	}
	return names
}
