package rt

import (
	"errors"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// SelectorTable tests
// ---------------------------------------------------------------------------

func TestSelectorTableIntern(t *testing.T) {
	st := NewSelectorTable()

	id1 := st.Intern("speak")
	if id1 != 0 {
		t.Errorf("first Intern got ID %d, want 0", id1)
	}

	id2 := st.Intern("speak")
	if id2 != id1 {
		t.Errorf("re-Intern got ID %d, want %d", id2, id1)
	}

	id3 := st.Intern("describe")
	if id3 != 1 {
		t.Errorf("second unique Intern got ID %d, want 1", id3)
	}

	if name := st.Name(id3); name != "describe" {
		t.Errorf("Name(%d) = %q, want %q", id3, name, "describe")
	}
	if id := st.Lookup("missing"); id != -1 {
		t.Errorf("Lookup(missing) = %d, want -1", id)
	}
	if st.Len() != 2 {
		t.Errorf("Len() = %d, want 2", st.Len())
	}
}

func TestSelectorTableConcurrentIntern(t *testing.T) {
	st := NewSelectorTable()
	names := []string{"a", "b", "c", "d", "e"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, name := range names {
				st.Intern(name)
			}
		}()
	}
	wg.Wait()

	if st.Len() != len(names) {
		t.Errorf("Len() = %d, want %d", st.Len(), len(names))
	}
	for _, name := range names {
		if st.Lookup(name) == -1 {
			t.Errorf("Lookup(%q) = -1 after concurrent intern", name)
		}
	}
}

// ---------------------------------------------------------------------------
// Dynamic dispatch (overriding)
// ---------------------------------------------------------------------------

func TestDynamicDispatchUsesMostDerivedOverride(t *testing.T) {
	r := newTestRuntime()
	defer r.Close()
	base, derived, speak := buildSpeakChain(t, r)

	// A Derived instance accessed through Base still runs Derived's body.
	h := mustAllocate(t, r, derived)
	if got := mustInvoke(t, r, h, base, speak); got != "derived" {
		t.Errorf("Invoke(h, Base, speak) = %q, want %q", got, "derived")
	}

	// Accessed through Derived, same result.
	if got := mustInvoke(t, r, h, derived, speak); got != "derived" {
		t.Errorf("Invoke(h, Derived, speak) = %q, want %q", got, "derived")
	}

	// A Base instance runs Base's body.
	hb := mustAllocate(t, r, base)
	if got := mustInvoke(t, r, hb, base, speak); got != "base" {
		t.Errorf("Invoke(hb, Base, speak) = %q, want %q", got, "base")
	}
}

func TestDynamicDispatchThreeLevelChain(t *testing.T) {
	r := newTestRuntime()
	defer r.Close()
	speak := r.Selectors.Intern("speak")

	a := NewType("A", nil)
	a.DeclareDynamic(speak, speaker("a"))
	b := NewType("B", a) // inherits a's body
	c := NewType("C", b)
	c.DeclareDynamic(speak, speaker("c"))

	// C instance through any ancestor resolves to C's override.
	h := mustAllocate(t, r, c)
	for _, static := range []*TypeDescriptor{a, b, c} {
		if got := mustInvoke(t, r, h, static, speak); got != "c" {
			t.Errorf("Invoke(h, %s, speak) = %q, want %q", static.Name(), got, "c")
		}
	}

	// B instance inherits a's body unchanged.
	hb := mustAllocate(t, r, b)
	if got := mustInvoke(t, r, hb, a, speak); got != "a" {
		t.Errorf("Invoke(hb, A, speak) = %q, want %q", got, "a")
	}
}

// ---------------------------------------------------------------------------
// Static dispatch (hiding)
// ---------------------------------------------------------------------------

func TestStaticSlotHidesInsteadOfOverriding(t *testing.T) {
	r := newTestRuntime()
	defer r.Close()
	label := r.Selectors.Intern("label")

	base := NewType("Base", nil)
	base.DeclareStatic(label, speaker("base-static"))
	derived := NewType("Derived", base)
	derived.DeclareStatic(label, speaker("derived-static"))

	h := mustAllocate(t, r, derived)

	// Through Base the ancestor's own body runs, never the descendant's
	// same-named slot, even though the object is a Derived.
	if got := mustInvoke(t, r, h, base, label); got != "base-static" {
		t.Errorf("Invoke(h, Base, label) = %q, want %q", got, "base-static")
	}
	if got := mustInvoke(t, r, h, derived, label); got != "derived-static" {
		t.Errorf("Invoke(h, Derived, label) = %q, want %q", got, "derived-static")
	}
}

func TestStaticAndDynamicNeverCollapse(t *testing.T) {
	r := newTestRuntime()
	defer r.Close()
	speak := r.Selectors.Intern("speak")

	// Base declares a dynamic speak; Derived declares a *static* speak
	// instead of overriding.
	base := NewType("Base", nil)
	base.DeclareDynamic(speak, speaker("base"))
	derived := NewType("Derived", base)
	derived.DeclareStatic(speak, speaker("derived-static"))

	h := mustAllocate(t, r, derived)

	// Through Base, the dynamic path runs: Derived never overrode the
	// vtable entry, so the inherited base body is the most-derived one.
	if got := mustInvoke(t, r, h, base, speak); got != "base" {
		t.Errorf("Invoke(h, Base, speak) = %q, want %q", got, "base")
	}

	// Through Derived, the nearest declaration is the static slot.
	if got := mustInvoke(t, r, h, derived, speak); got != "derived-static" {
		t.Errorf("Invoke(h, Derived, speak) = %q, want %q", got, "derived-static")
	}
}

func TestStaticAndDynamicOverrideTogether(t *testing.T) {
	r := newTestRuntime()
	defer r.Close()
	speak := r.Selectors.Intern("speak")

	base := NewType("Base", nil)
	base.DeclareDynamic(speak, speaker("base"))
	mid := NewType("Mid", base)
	mid.DeclareDynamic(speak, speaker("mid"))
	leaf := NewType("Leaf", mid)
	leaf.DeclareStatic(speak, speaker("leaf-static"))

	h := mustAllocate(t, r, leaf)

	// Dynamic through Base finds Mid's override (the most derived one in
	// the vtable), not Leaf's unrelated static slot.
	if got := mustInvoke(t, r, h, base, speak); got != "mid" {
		t.Errorf("Invoke(h, Base, speak) = %q, want %q", got, "mid")
	}
	if got := mustInvoke(t, r, h, leaf, speak); got != "leaf-static" {
		t.Errorf("Invoke(h, Leaf, speak) = %q, want %q", got, "leaf-static")
	}
}

// ---------------------------------------------------------------------------
// Resolution errors
// ---------------------------------------------------------------------------

func TestResolveUnknownSelector(t *testing.T) {
	r := newTestRuntime()
	defer r.Close()
	base, _, _ := buildSpeakChain(t, r)
	missing := r.Selectors.Intern("missing")

	h := mustAllocate(t, r, base)
	_, err := r.Resolve(h, base, missing)
	if !errors.Is(err, ErrNoSuchSelector) {
		t.Errorf("Resolve unknown selector: got %v, want ErrNoSuchSelector", err)
	}
}

func TestResolveStaticIgnoresHandle(t *testing.T) {
	r := newTestRuntime()
	defer r.Close()
	label := r.Selectors.Intern("label")

	base := NewType("Base", nil)
	base.DeclareStatic(label, speaker("base-static"))

	// Static resolution never dereferences, so even a null handle works.
	slot, err := r.Resolve(NullHandle, base, label)
	if err != nil {
		t.Fatalf("Resolve(null, Base, label): %v", err)
	}
	if slot.Binding != BindStatic || slot.Declarer != base {
		t.Errorf("got slot declared by %v (%v), want Base static", slot.Declarer.Name(), slot.Binding)
	}
}

func TestInvokeDynamicWithInvalidHandle(t *testing.T) {
	r := newTestRuntime()
	defer r.Close()
	base, _, speak := buildSpeakChain(t, r)

	_, err := r.Invoke(NullHandle, base, speak, nil)
	if !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Invoke through null handle: got %v, want ErrInvalidHandle", err)
	}
}

// ---------------------------------------------------------------------------
// Abstract slots
// ---------------------------------------------------------------------------

func TestAbstractTypeCannotBeInstantiated(t *testing.T) {
	r := newTestRuntime()
	defer r.Close()
	speak := r.Selectors.Intern("speak")

	shape := NewType("Shape", nil)
	shape.DeclareAbstract(speak)

	if _, err := r.Allocate(shape); !errors.Is(err, ErrIncompleteType) {
		t.Errorf("Allocate(Shape): got %v, want ErrIncompleteType", err)
	}

	// A subtype that supplies the body is instantiable.
	circle := NewType("Circle", shape)
	circle.DeclareDynamic(speak, speaker("circle"))
	h := mustAllocate(t, r, circle)
	if got := mustInvoke(t, r, h, shape, speak); got != "circle" {
		t.Errorf("Invoke(h, Shape, speak) = %q, want %q", got, "circle")
	}

	// A subtype that doesn't is still incomplete.
	square := NewType("Square", shape)
	if _, err := r.Allocate(square); !errors.Is(err, ErrIncompleteType) {
		t.Errorf("Allocate(Square): got %v, want ErrIncompleteType", err)
	}
}

// ---------------------------------------------------------------------------
// Type descriptor structure
// ---------------------------------------------------------------------------

func TestTypeDescriptorChain(t *testing.T) {
	a := NewType("A", nil)
	b := NewType("B", a)

	if !b.IsKindOf(a) {
		t.Error("B should be a kind of A")
	}
	if a.IsKindOf(b) {
		t.Error("A should not be a kind of B")
	}
	if b.Parent() != a {
		t.Error("B's parent should be A")
	}
}

func TestTypeTableRegister(t *testing.T) {
	tt := NewTypeTable()
	a := NewType("A", nil)

	if err := tt.Register(a); err != nil {
		t.Fatalf("Register(A): %v", err)
	}
	if err := tt.Register(NewType("A", nil)); err == nil {
		t.Error("duplicate Register(A) should fail")
	}
	if tt.Lookup("A") != a {
		t.Error("Lookup(A) should return the registered descriptor")
	}
	if tt.Lookup("B") != nil {
		t.Error("Lookup(B) should return nil")
	}
}
