package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind discriminates the recursive Value union.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a recursive tagged representation of an arbitrary structured
// payload (null/bool/number/string/array/object). It backs the generic
// depth-first walker shared by the structured flattening logic.
type Value struct {
	Kind   Kind
	Bool   bool
	Number float64
	Str    string
	Array  []Value
	Object map[string]Value
}

// ParseJSON decodes a JSON document into a Value tree.
func ParseJSON(data []byte) (Value, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Value{}, fmt.Errorf("parsing structured payload: %w", err)
	}
	return FromAny(raw), nil
}

// FromAny converts a decoded interface{} tree into a Value. Unsupported leaf
// types degrade to their string form rather than failing — a single odd field
// must never abort extraction for the rest of the segment.
func FromAny(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Value{Kind: KindNull}
	case bool:
		return Value{Kind: KindBool, Bool: x}
	case float64:
		return Value{Kind: KindNumber, Number: x}
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{Kind: KindString, Str: x.String()}
		}
		return Value{Kind: KindNumber, Number: f}
	case string:
		return Value{Kind: KindString, Str: x}
	case []interface{}:
		arr := make([]Value, 0, len(x))
		for _, item := range x {
			arr = append(arr, FromAny(item))
		}
		return Value{Kind: KindArray, Array: arr}
	case map[string]interface{}:
		obj := make(map[string]Value, len(x))
		for k, item := range x {
			obj[k] = FromAny(item)
		}
		return Value{Kind: KindObject, Object: obj}
	default:
		return Value{Kind: KindString, Str: fmt.Sprintf("%v", x)}
	}
}

// Walk visits every leaf depth-first, passing the dotted field path.
// Object keys are visited in sorted order so flattening is deterministic;
// array elements share their parent path.
func (v Value) Walk(fn func(path string, leaf Value)) {
	v.walk("", fn)
}

func (v Value) walk(path string, fn func(path string, leaf Value)) {
	switch v.Kind {
	case KindObject:
		keys := make([]string, 0, len(v.Object))
		for k := range v.Object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := path
			if child == "" {
				child = k
			} else {
				child = child + "." + k
			}
			v.Object[k].walk(child, fn)
		}
	case KindArray:
		for _, item := range v.Array {
			item.walk(path, fn)
		}
	default:
		if path != "" {
			fn(path, v)
		}
	}
}

// leafString renders a leaf for occurrence context.
func leafString(v Value) string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	default:
		return v.Str
	}
}
