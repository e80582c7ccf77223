// Package value implements the DSA Value type: a tagged union over
// null, bool, signed/unsigned 64-bit integers, float64, string, ordered
// arrays of Value, and string-keyed ordered maps of Value.
package value

import (
	"fmt"
	"math"
)

// Kind identifies which alternative of the Value union is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindArray
	KindMap
)

// String returns a lower-case name for the kind, used in error messages.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is an immutable tagged union. The zero Value is KindNull.
// Values are built with the New* constructors and read with the As*
// accessors; constructing an invalid float (NaN/Inf) panics, since that
// can only happen from a programmer error, not from untrusted input
// (untrusted input arrives as JSON and is rejected by Decode instead).
type Value struct {
	kind Kind
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
	arr  []Value
	m    *orderedMap
}

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// NewBool returns a bool Value.
func NewBool(b bool) Value { return Value{kind: KindBool, b: b} }

// NewInt returns a signed-integer Value.
func NewInt(i int64) Value { return Value{kind: KindInt, i: i} }

// NewUint returns an unsigned-integer Value.
func NewUint(u uint64) Value { return Value{kind: KindUint, u: u} }

// NewFloat returns a float Value. Panics if f is NaN or Inf: floats
// must be finite per the Value invariants.
func NewFloat(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		panic(fmt.Sprintf("value: non-finite float %v", f))
	}
	return Value{kind: KindFloat, f: f}
}

// NewString returns a string Value.
func NewString(s string) Value { return Value{kind: KindString, s: s} }

// NewArray returns an array Value. The slice is copied defensively.
func NewArray(items []Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, arr: cp}
}

// NewMap returns an empty ordered-map Value. Use Put to populate it
// before handing it out, since Value itself is treated as immutable by
// convention once published to a node.
func NewMap() Value {
	return Value{kind: KindMap, m: newOrderedMap()}
}

// Kind reports the Value's tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null Value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the bool payload and whether v is KindBool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the int64 payload and whether v is KindInt.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsUint returns the uint64 payload and whether v is KindUint.
func (v Value) AsUint() (uint64, bool) { return v.u, v.kind == KindUint }

// AsFloat returns the float64 payload and whether v is KindFloat.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsString returns the string payload and whether v is KindString.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsArray returns the array payload and whether v is KindArray. The
// returned slice shares storage with v and must not be mutated.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// Put sets key to val in a KindMap Value, preserving insertion order of
// new keys (re-setting an existing key keeps its original position).
// Panics if v is not a map — programmer error, not an input error.
func (v Value) Put(key string, val Value) {
	if v.kind != KindMap {
		panic("value: Put on non-map Value")
	}
	v.m.set(key, val)
}

// Get returns the value stored at key in a KindMap Value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	return v.m.get(key)
}

// Keys returns map keys in insertion order. Empty for non-map Values.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	return v.m.keys()
}

// Len returns the number of entries for arrays and maps, 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindMap:
		return v.m.len()
	default:
		return 0
	}
}

// Equal reports structural equality. Signed and unsigned integers of
// equal magnitude compare equal (e.g. NewInt(5).Equal(NewUint(5)) is
// true), per the Value equality invariant. Map equality ignores
// iteration order. NaN never appears (construction rejects it), so
// float equality is ordinary float64 ==.
func (v Value) Equal(other Value) bool {
	if v.kind == KindNull || other.kind == KindNull {
		return v.kind == other.kind
	}
	if isNumeric(v.kind) && isNumeric(other.kind) {
		return numericEqual(v, other)
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == other.b
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if v.m.len() != other.m.len() {
			return false
		}
		for _, k := range v.m.keys() {
			a, _ := v.m.get(k)
			b, ok := other.m.get(k)
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func isNumeric(k Kind) bool {
	return k == KindInt || k == KindUint || k == KindFloat
}

func numericEqual(a, b Value) bool {
	if a.kind == KindFloat || b.kind == KindFloat {
		af, _ := numericAsFloat(a)
		bf, _ := numericAsFloat(b)
		return af == bf
	}
	if a.kind == KindInt && b.kind == KindInt {
		return a.i == b.i
	}
	if a.kind == KindUint && b.kind == KindUint {
		return a.u == b.u
	}
	// One signed, one unsigned: equal only if the signed side is
	// non-negative and matches the unsigned magnitude.
	var signed int64
	var unsigned uint64
	if a.kind == KindInt {
		signed, unsigned = a.i, b.u
	} else {
		signed, unsigned = b.i, a.u
	}
	return signed >= 0 && uint64(signed) == unsigned
}

func numericAsFloat(v Value) (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindUint:
		return float64(v.u), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}
