package rt

import "testing"

// ---------------------------------------------------------------------------
// Shared test fixtures
// ---------------------------------------------------------------------------

// newTestRuntime creates a runtime with a small heap and no background
// collector.
func newTestRuntime() *Runtime {
	return New(Options{HeapCapacity: 256})
}

// speaker returns a method body that yields a fixed string.
func speaker(text string) MethodFunc {
	return func(rt *Runtime, self Value, args []Value) (Value, error) {
		return Str(text), nil
	}
}

// buildSpeakChain registers Base <- Derived with a dynamic "speak" slot on
// Base overridden by Derived, and returns both types plus the selector ID.
func buildSpeakChain(t *testing.T, r *Runtime) (base, derived *TypeDescriptor, speak int) {
	t.Helper()

	speak = r.Selectors.Intern("speak")

	base = NewType("Base", nil)
	base.DeclareDynamic(speak, speaker("base"))

	derived = NewType("Derived", base)
	derived.DeclareDynamic(speak, speaker("derived"))

	if err := r.Types.Register(base); err != nil {
		t.Fatalf("register Base: %v", err)
	}
	if err := r.Types.Register(derived); err != nil {
		t.Fatalf("register Derived: %v", err)
	}
	return base, derived, speak
}

// mustAllocate allocates or fails the test.
func mustAllocate(t *testing.T, r *Runtime, td *TypeDescriptor) Handle {
	t.Helper()
	h, err := r.Allocate(td)
	if err != nil {
		t.Fatalf("Allocate(%s): %v", td.Name(), err)
	}
	return h
}

// mustInvoke invokes or fails the test, returning the result string.
func mustInvoke(t *testing.T, r *Runtime, h Handle, static *TypeDescriptor, sel int) string {
	t.Helper()
	v, err := r.Invoke(h, static, sel, nil)
	if err != nil {
		t.Fatalf("Invoke(%s, %s): %v", static.Name(), r.Selectors.Name(sel), err)
	}
	return v.AsString()
}
