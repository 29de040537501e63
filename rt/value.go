package rt

import (
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Handle: opaque reference to a heap record
// ---------------------------------------------------------------------------

// Handle is an opaque reference to an object record. Handles alias freely:
// any number of handles may refer to the same record, and a handle may be
// null. A handle carries no ownership; the heap owns the record, and the
// handle is validated against the slot stamp at dereference time, so a
// handle to a reclaimed record fails with ErrInvalidHandle instead of
// reaching reused storage.
type Handle struct {
	slot  int32
	stamp uint32
}

// NullHandle refers to no record. The zero Handle is not null; always use
// NullHandle (or Value zero-init through the heap) for empty references.
var NullHandle = Handle{slot: -1}

// IsNull reports whether the handle refers to no record.
func (h Handle) IsNull() bool { return h.slot < 0 }

// Slot returns the slot index for diagnostics. Slot indices are reused
// after collection; identity checks must go through Dereference.
func (h Handle) Slot() int32 { return h.slot }

// Stamp returns the slot stamp the handle was issued under.
func (h Handle) Stamp() uint32 { return h.stamp }

// HandleAt reassembles a handle from its parts. Intended for image
// decoding; a forged handle simply fails validation at dereference time.
func HandleAt(slot int32, stamp uint32) Handle {
	if slot < 0 {
		return NullHandle
	}
	return Handle{slot: slot, stamp: stamp}
}

func (h Handle) String() string {
	if h.IsNull() {
		return "handle(null)"
	}
	return fmt.Sprintf("handle(%d@%d)", h.slot, h.stamp)
}

// ---------------------------------------------------------------------------
// Value: tagged runtime value
// ---------------------------------------------------------------------------

// Kind identifies the type of a runtime value.
type Kind uint8

const (
	KindNil Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindRef
)

// Value is the runtime's tagged value representation. Field slots, method
// arguments and method results are all Values. Reference values carry a
// Handle; everything else is immediate.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	h    Handle
}

// Nil returns the nil value.
func Nil() Value { return Value{kind: KindNil} }

// Int creates an integer value.
func Int(n int64) Value { return Value{kind: KindInt, i: n} }

// Float creates a float value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool creates a boolean value.
func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

// Str creates a string value.
func Str(s string) Value { return Value{kind: KindString, s: s} }

// Ref creates a reference value from a handle.
func Ref(h Handle) Value { return Value{kind: KindRef, h: h} }

// Kind returns the value's kind tag.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether the value is nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// IsRef reports whether the value is a reference (possibly null).
func (v Value) IsRef() bool { return v.kind == KindRef }

// AsInt returns the integer payload (0 for non-integers).
func (v Value) AsInt() int64 {
	if v.kind == KindInt {
		return v.i
	}
	return 0
}

// AsFloat returns the float payload (0 for non-floats).
func (v Value) AsFloat() float64 {
	if v.kind == KindFloat {
		return v.f
	}
	return 0
}

// AsBool returns the boolean payload (false for non-booleans).
func (v Value) AsBool() bool { return v.kind == KindBool && v.i != 0 }

// AsString returns the string payload ("" for non-strings).
func (v Value) AsString() string {
	if v.kind == KindString {
		return v.s
	}
	return ""
}

// AsHandle returns the referenced handle, or NullHandle for non-references.
func (v Value) AsHandle() Handle {
	if v.kind == KindRef {
		return v.h
	}
	return NullHandle
}

// Equal reports exact equality: same kind and identical payload. Reference
// values compare by handle identity.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindInt, KindBool:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindRef:
		return v.h == o.h
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		if v.i != 0 {
			return "true"
		}
		return "false"
	case KindString:
		return strconv.Quote(v.s)
	case KindRef:
		return v.h.String()
	}
	return "?"
}
