package dataset

import (
	"fmt"
	"math"
	"strconv"
)

// IsMissing reports whether v represents a missing value (nil or NaN).
func IsMissing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	}
	return false
}

// Coerce converts v to the canonical representation for column type t.
//
// Int columns accept every Go integer kind and integral floats within
// ±2^53, the range a float64 holds exactly. Float columns
// accept integer and float kinds. Text columns accept string and []byte.
// Missing values (nil, NaN) always coerce to nil.
func Coerce(t ColumnType, v any) (any, error) {
	if IsMissing(v) {
		return nil, nil
	}
	switch t {
	case Int:
		if n, ok := asInt64(v); ok {
			return n, nil
		}
		if f, ok := asFloat64(v); ok && f == math.Trunc(f) && math.Abs(f) <= 1<<53 {
			return int64(f), nil
		}
	case Float:
		if f, ok := asFloat64(v); ok {
			return f, nil
		}
		if n, ok := asInt64(v); ok {
			return float64(n), nil
		}
	case Text:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	}
	return nil, fmt.Errorf("cannot store %T (%v) in a %s column", v, v, t)
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		if uint64(x) <= math.MaxInt64 {
			return int64(x), true
		}
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x), true
		}
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}

// FormatValue renders a canonical cell value as plain text (CSV output, logs).
// Missing values render as the empty string.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	default:
		return fmt.Sprint(v)
	}
}
