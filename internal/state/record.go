package state

import (
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
)

// Record is one entity's structured state. A missing key is undefined,
// a key holding nil is the value null.
type Record map[string]any

// childSlot marks a property whose value lives in a child holder
type childSlot struct{}

var slot = childSlot{}

func isSlot(v any) bool {
	_, ok := v.(childSlot)
	return ok
}

// AsRecord returns v as a Record if it is a string-keyed map
func AsRecord(v any) (Record, bool) {
	switch m := v.(type) {
	case Record:
		return m, m != nil
	case map[string]any:
		return Record(m), m != nil
	}
	return nil, false
}

// Clone returns a deep copy of v. Maps and slices are copied recursively,
// preserving their Go types; scalars are returned as is.
func Clone(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Record:
		return cloneRecord(t)
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	case string, bool, int, int64, float64, json.Number, childSlot:
		return t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneValue(iter.Value(), rv.Type().Elem()))
		}
		return out.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(cloneValue(rv.Index(i), rv.Type().Elem()))
		}
		return out.Interface()
	}
	return v
}

func cloneValue(v reflect.Value, elem reflect.Type) reflect.Value {
	if elem.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Zero(elem)
		}
		return reflect.ValueOf(Clone(v.Interface()))
	}
	return reflect.ValueOf(Clone(v.Interface())).Convert(elem)
}

func cloneRecord(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = Clone(v)
	}
	return out
}

// Equal reports deep equality of two values. Numbers compare by value
// regardless of their Go type, so data that went through a JSON round trip
// still equals the original.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if ra, ok := AsRecord(a); ok {
		rb, ok := AsRecord(b)
		if !ok || len(ra) != len(rb) {
			return false
		}
		for k, va := range ra {
			vb, ok := rb[k]
			if !ok || !Equal(va, vb) {
				return false
			}
		}
		return true
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() == reflect.Slice && vb.Kind() == reflect.Slice {
		if va.Len() != vb.Len() {
			return false
		}
		for i := 0; i < va.Len(); i++ {
			if !Equal(va.Index(i).Interface(), vb.Index(i).Interface()) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// SortKeys orders property names: numeric names first in ascending numeric
// order, then the rest lexically.
func SortKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		return keyLess(keys[i], keys[j])
	})
}

func keyLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// Keys returns the sorted property names of r
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

func unionKeys(a, b Record) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for _, r := range []Record{a, b} {
		for k := range r {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	SortKeys(keys)
	return keys
}
