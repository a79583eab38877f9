package parcel

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// AsFloat converts numeric attribute values, including numeric strings.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// AsInt accepts integral values only; 2.5 is not a plot number, nor is
// anything outside the int range.
func AsInt(v any) (int, bool) {
	f, ok := AsFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt || f >= math.MaxInt {
		return 0, false
	}
	return int(f), true
}

func AsString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		if s == math.Trunc(s) && math.Abs(s) < 1e15 {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case time.Time:
		return s.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}

// AsTime understands the timestamp layouts seen in survey exports.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"02-01-2006",
	"02/01/2006",
}

// ValuesEqual treats numbers of different Go types as equal when their
// values match, so 1 and 1.0 read back from a store do not look changed.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if _, isStr := a.(string); !isStr {
		if fa, ok := AsFloat(a); ok {
			if _, isStrB := b.(string); !isStrB {
				if fb, ok := AsFloat(b); ok {
					return fa == fb
				}
			}
		}
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func AttributesEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !ValuesEqual(va, vb) {
			return false
		}
	}
	return true
}
