// Package snapshot captures and restores heap images.
//
// An Image is the portable form of a runtime's entire object graph:
// every record's type name, generation, publication state and field
// values, with reference aliasing preserved through slot/stamp layout.
// Images serialize to canonical CBOR, so identical heaps produce
// byte-identical snapshots.
package snapshot

import (
	"fmt"
	"time"

	"github.com/cindervm/cinder/rt"
)

// ImageVersion is the current snapshot format version.
const ImageVersion = 1

// Image is a captured heap.
type Image struct {
	Version int
	TakenAt time.Time
	Objects []ObjectImage
}

// ObjectImage is the serialized form of one record.
type ObjectImage struct {
	Slot       int32
	Stamp      uint32
	ID         string
	Type       string
	Generation uint8
	Published  bool
	Fields     map[string]EncodedValue
}

// EncodedValue is the wire form of a runtime value. K is the kind tag;
// only the payload field for that kind is meaningful.
type EncodedValue struct {
	K uint8  `cbor:"k"`
	I int64  `cbor:"i,omitempty"`
	F float64 `cbor:"f,omitempty"`
	S string `cbor:"s,omitempty"`
	// RSlot/RStamp carry a reference's handle parts. RSlot is -1 for the
	// null handle.
	RSlot  int32  `cbor:"rs,omitempty"`
	RStamp uint32 `cbor:"rt,omitempty"`
}

// Capture takes a consistent image of the runtime's heap.
func Capture(r *rt.Runtime) *Image {
	states := r.SnapshotState()

	img := &Image{
		Version: ImageVersion,
		TakenAt: time.Now().UTC(),
		Objects: make([]ObjectImage, 0, len(states)),
	}
	for _, st := range states {
		obj := ObjectImage{
			Slot:       st.Slot,
			Stamp:      st.Stamp,
			ID:         st.ID,
			Type:       st.TypeName,
			Generation: st.Generation,
			Published:  st.Published,
			Fields:     make(map[string]EncodedValue, len(st.Fields)),
		}
		for name, v := range st.Fields {
			obj.Fields[name] = encodeValue(v)
		}
		img.Objects = append(img.Objects, obj)
	}
	return img
}

// Restore rebuilds the image into an empty runtime. Every type named in
// the image must already be registered with the runtime's type table.
func Restore(r *rt.Runtime, img *Image) error {
	if img.Version != ImageVersion {
		return fmt.Errorf("snapshot: unsupported image version %d", img.Version)
	}

	states := make([]rt.ObjectState, 0, len(img.Objects))
	for _, obj := range img.Objects {
		st := rt.ObjectState{
			Slot:       obj.Slot,
			Stamp:      obj.Stamp,
			ID:         obj.ID,
			TypeName:   obj.Type,
			Generation: obj.Generation,
			Published:  obj.Published,
			Fields:     make(map[string]rt.Value, len(obj.Fields)),
		}
		for name, ev := range obj.Fields {
			v, err := decodeValue(ev)
			if err != nil {
				return fmt.Errorf("snapshot: %s.%s: %w", obj.Type, name, err)
			}
			st.Fields[name] = v
		}
		states = append(states, st)
	}
	return r.RestoreState(states)
}

func encodeValue(v rt.Value) EncodedValue {
	switch v.Kind() {
	case rt.KindInt:
		return EncodedValue{K: uint8(rt.KindInt), I: v.AsInt()}
	case rt.KindFloat:
		return EncodedValue{K: uint8(rt.KindFloat), F: v.AsFloat()}
	case rt.KindBool:
		var i int64
		if v.AsBool() {
			i = 1
		}
		return EncodedValue{K: uint8(rt.KindBool), I: i}
	case rt.KindString:
		return EncodedValue{K: uint8(rt.KindString), S: v.AsString()}
	case rt.KindRef:
		h := v.AsHandle()
		if h.IsNull() {
			return EncodedValue{K: uint8(rt.KindRef), RSlot: -1}
		}
		return EncodedValue{K: uint8(rt.KindRef), RSlot: h.Slot(), RStamp: h.Stamp()}
	default:
		return EncodedValue{K: uint8(rt.KindNil)}
	}
}

func decodeValue(ev EncodedValue) (rt.Value, error) {
	switch rt.Kind(ev.K) {
	case rt.KindNil:
		return rt.Nil(), nil
	case rt.KindInt:
		return rt.Int(ev.I), nil
	case rt.KindFloat:
		return rt.Float(ev.F), nil
	case rt.KindBool:
		return rt.Bool(ev.I != 0), nil
	case rt.KindString:
		return rt.Str(ev.S), nil
	case rt.KindRef:
		return rt.Ref(rt.HandleAt(ev.RSlot, ev.RStamp)), nil
	default:
		return rt.Nil(), fmt.Errorf("unknown value kind %d", ev.K)
	}
}
