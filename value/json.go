package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

func strconvParseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

// MarshalJSON renders the canonical JSON projection: numbers as JSON
// numbers, maps with keys sorted lexicographically. Canonical form is
// used for on-disk serialization (nodes.json, redo log records) where
// byte-stable output matters more than preserving author insertion
// order; Keys() still returns insertion order for in-memory iteration.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if v.b {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindInt:
		return json.Marshal(v.i)
	case KindUint:
		return json.Marshal(v.u)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindMap:
		keys := v.m.keys()
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			val, _ := v.m.get(k)
			vb, err := val.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON decodes a JSON document into v, preserving source
// object key order (see Decode). Integers that fit in int64 decode as
// KindInt; integers outside that range but representable as uint64
// decode as KindUint; anything else numeric decodes as KindFloat.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Decode(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Decode parses data as a Value. Objects are walked token-by-token
// rather than through Go's generic interface{} decoding so that key
// insertion order survives into the resulting Value (plain
// json.Unmarshal into map[string]interface{} does not preserve it).
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}
	return v, nil
}

// decodeNumber chooses the narrowest integral kind that exactly
// represents n: KindInt when it fits int64, else KindUint when it fits
// uint64, else KindFloat.
func decodeNumber(n json.Number) (Value, error) {
	if i, err := n.Int64(); err == nil {
		return NewInt(i), nil
	}
	if u, err := strconvParseUint(n.String()); err == nil {
		return NewUint(u), nil
	}
	f, err := n.Float64()
	if err != nil {
		return Value{}, fmt.Errorf("value: decode number %q: %w", n.String(), err)
	}
	return NewFloat(f), nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return NewBool(t), nil
	case string:
		return NewString(t), nil
	case json.Number:
		return decodeNumber(t)
	case json.Delim:
		switch t {
		case '[':
			var items []Value
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return Value{}, err
			}
			return NewArray(items), nil
		case '{':
			m := NewMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("value: object key is not a string: %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				m.Put(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return Value{}, err
			}
			return m, nil
		default:
			return Value{}, fmt.Errorf("value: unexpected delimiter %v", t)
		}
	default:
		return Value{}, fmt.Errorf("value: unexpected token %v (%T)", tok, tok)
	}
}
