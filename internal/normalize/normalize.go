// Package normalize converts arbitrary Go values into JSON-safe values.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// TimeLayout is the layout used for timestamps. Times are converted to UTC
// first, so formatted values always end in "Z".
const TimeLayout = time.RFC3339Nano

// Value returns a representation of v that encoding/json can always encode.
// Primitives pass through unchanged, containers are normalized element-wise,
// times become UTC RFC 3339 strings and anything else degrades to its string
// form. Value never panics.
func Value(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("<unrepresentable %T: %v>", v, r)
		}
	}()
	return value(v, 0)
}

// Map normalizes every value of m into a new map. A nil map yields an empty,
// non-nil map.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Value(v)
	}
	return out
}

// maxDepth bounds recursion through self-referencing containers.
const maxDepth = 64

func value(v any, depth int) any {
	if depth > maxDepth {
		return fmt.Sprintf("<%T>", v)
	}

	switch x := v.(type) {
	case nil:
		return nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return x
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Sprint(x)
		}
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Sprint(x)
		}
		return x
	case json.Number:
		return x
	case time.Time:
		return x.UTC().Format(TimeLayout)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(TimeLayout)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = value(e, depth+1)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = value(e, depth+1)
		}
		return out
	case error:
		return safeString(v, x.Error)
	case fmt.Stringer:
		return safeString(v, x.String)
	case []byte:
		return string(x)
	}

	return reflected(reflect.ValueOf(v), depth)
}

func reflected(rv reflect.Value, depth int) any {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return value(rv.Elem().Interface(), depth+1)
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return value(rv.Float(), depth)
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = value(rv.Index(i).Interface(), depth+1)
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Sprint(rv.Interface())
		}
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = value(iter.Value().Interface(), depth+1)
		}
		return out
	}
	return fmt.Sprint(rv.Interface())
}

// safeString calls f, falling back to a descriptive placeholder when f
// panics (typically a nil receiver).
func safeString(v any, f func() string) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("<%T>", v)
		}
	}()
	return f()
}
