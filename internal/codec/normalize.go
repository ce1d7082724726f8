package codec

import (
	"encoding/json"
	"fmt"
	"math"

	"stagehand/internal/state"
)

// Normalize rewrites decoded values into the canonical in-memory shape:
// string-keyed maps become state.Record, integral numbers become int,
// other numbers float64.
func Normalize(v any) any {
	switch t := v.(type) {
	case state.Record:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case map[any]any:
		out := make(state.Record, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = Normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return intOrInt64(n)
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return intOrInt64(int64(t))
		}
		return t
	case int64:
		return intOrInt64(t)
	case uint64:
		if t <= math.MaxInt64 {
			return intOrInt64(int64(t))
		}
		return float64(t)
	}
	return v
}

// NormalizeRecord applies Normalize to every value of r
func NormalizeRecord(r map[string]any) state.Record {
	if r == nil {
		return nil
	}
	return normalizeMap(r)
}

func normalizeMap(m map[string]any) state.Record {
	out := make(state.Record, len(m))
	for k, val := range m {
		out[k] = Normalize(val)
	}
	return out
}

func intOrInt64(n int64) any {
	if n >= math.MinInt && n <= math.MaxInt {
		return int(n)
	}
	return n
}
