package state

import (
	"encoding/json"
	"fmt"
)

// Well-known object property keys. The model treats properties opaquely
// except for merge semantics, but change detection and the binary codec
// give these keys first-class treatment.
const (
	PropPosition      = "position"
	PropLookDirection = "lookDirection"
	PropIsHidden      = "isHidden"
	PropPrefab        = "prefab"
)

// Vector3 is a three-component vector property value.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PropKind identifies the concrete type carried by a PropValue.
type PropKind uint8

const (
	KindString PropKind = iota + 1
	KindNumber
	KindBool
	KindVector
)

// String returns the string representation of the prop kind.
func (k PropKind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindNumber:
		return "Number"
	case KindBool:
		return "Bool"
	case KindVector:
		return "Vector"
	default:
		return "Unknown"
	}
}

// PropValue is a tagged union over the value types a room or object property
// may hold: string, number, bool, or vector. Exactly one of the value fields
// is meaningful, selected by Kind.
type PropValue struct {
	Kind PropKind
	Str  string
	Num  float64
	Bool bool
	Vec  Vector3
}

// String creates a string property value.
func String(s string) PropValue { return PropValue{Kind: KindString, Str: s} }

// Number creates a numeric property value.
func Number(n float64) PropValue { return PropValue{Kind: KindNumber, Num: n} }

// Bool creates a boolean property value.
func Bool(b bool) PropValue { return PropValue{Kind: KindBool, Bool: b} }

// Vector creates a vector property value.
func Vector(x, y, z float64) PropValue {
	return PropValue{Kind: KindVector, Vec: Vector3{X: x, Y: y, Z: z}}
}

// Equal reports whether two property values have the same kind and payload.
func (v PropValue) Equal(o PropValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num
	case KindBool:
		return v.Bool == o.Bool
	case KindVector:
		return v.Vec == o.Vec
	default:
		return true
	}
}

// MarshalJSON writes the bare value, without the kind tag. This keeps the
// text wire format identical to what clients send: {"isHidden": true,
// "position": {"x":1,"y":2,"z":3}, "prefab": "avatar"}.
func (v PropValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindVector:
		return json.Marshal(v.Vec)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON sniffs the JSON value type to recover the kind tag.
// Objects are only accepted in the {x,y,z} vector shape.
func (v *PropValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case string:
		*v = String(t)
	case float64:
		*v = Number(t)
	case bool:
		*v = Bool(t)
	case map[string]any:
		var vec Vector3
		if err := json.Unmarshal(data, &vec); err != nil {
			return err
		}
		*v = PropValue{Kind: KindVector, Vec: vec}
	case nil:
		*v = PropValue{}
	default:
		return fmt.Errorf("state: unsupported property value %T", raw)
	}
	return nil
}

// Props is an open map of property keys to values.
type Props map[string]PropValue

// Clone returns a copy of the props map. A nil receiver yields an empty,
// non-nil map so callers can insert into the result.
func (p Props) Clone() Props {
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a new map holding the receiver's entries overlaid with the
// incoming entries. Last writer wins per key; neither input is modified.
func (p Props) Merge(incoming Props) Props {
	out := p.Clone()
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

// Equal reports whether two props maps hold the same keys and values.
func (p Props) Equal(o Props) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
