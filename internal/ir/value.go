package ir

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
)

// Variables is the game state visible to conditions, formulas and templates.
// Values are float64, int, int64, bool or string; JSON decoding yields
// float64 for every number.
type Variables map[string]any

// Number returns the named value as float64.
// ok is false when the name is absent or the value is not numeric.
func (v Variables) Number(name string) (f float64, present bool, ok bool) {
	raw, exists := v[name]
	if !exists {
		return 0, false, false
	}
	f, ok = ToNumber(raw)
	return f, true, ok
}

// Merge returns a new Variables with overlay applied over v.
// Neither input is modified.
func (v Variables) Merge(overlay Variables) Variables {
	out := make(Variables, len(v)+len(overlay))
	maps.Copy(out, v)
	maps.Copy(out, overlay)
	return out
}

// SortedKeys returns variable names in byte order.
func (v Variables) SortedKeys() []string {
	return slices.Sorted(maps.Keys(v))
}

// ToNumber converts numeric Go values to float64. Strings and bools are not
// coerced.
func ToNumber(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// FormatValue renders a variable for text substitution.
// Integral floats render without a fractional part (1200, not 1200.0).
func FormatValue(raw any) string {
	switch val := raw.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	}
	if f, ok := ToNumber(raw); ok {
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(raw)
}
