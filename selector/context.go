package selector

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ScalarKind tags the variant held by a Scalar.
type ScalarKind uint8

const (
	ScalarAbsent ScalarKind = iota
	ScalarInt
	ScalarString
	ScalarDecimal
	ScalarTime
)

// Scalar is one typed request-context value. The zero value means absent.
type Scalar struct {
	kind ScalarKind
	i    int64
	s    string
	d    decimal.Decimal
	t    time.Time
}

func IntValue(v int64) Scalar { return Scalar{kind: ScalarInt, i: v} }

func StringValue(v string) Scalar { return Scalar{kind: ScalarString, s: v} }

func DecimalValue(v decimal.Decimal) Scalar { return Scalar{kind: ScalarDecimal, d: v} }

func TimeValue(v time.Time) Scalar { return Scalar{kind: ScalarTime, t: v} }

func (s Scalar) Kind() ScalarKind { return s.kind }

// AsInt coerces via the string form: base-10 integer literals only, so
// "12" and decimal 12 convert while "12.5" does not.
func (s Scalar) AsInt() (int64, bool) {
	switch s.kind {
	case ScalarInt:
		return s.i, true
	case ScalarString:
		v, err := strconv.ParseInt(strings.TrimSpace(s.s), 10, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	case ScalarDecimal:
		v, err := strconv.ParseInt(s.d.String(), 10, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

func (s Scalar) AsDecimal() (decimal.Decimal, bool) {
	switch s.kind {
	case ScalarInt:
		return decimal.NewFromInt(s.i), true
	case ScalarDecimal:
		return s.d, true
	case ScalarString:
		d, err := decimal.NewFromString(strings.TrimSpace(s.s))
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	}
	return decimal.Decimal{}, false
}

// AsTime accepts timestamp scalars and RFC 3339 strings. Strings without
// a zone offset are interpreted as UTC.
func (s Scalar) AsTime() (time.Time, bool) {
	switch s.kind {
	case ScalarTime:
		return s.t, true
	case ScalarString:
		raw := strings.TrimSpace(s.s)
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, true
			}
		}
		for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// String returns the canonical string form used for sticky hashing and
// string coercion. Absent scalars render empty.
func (s Scalar) String() string {
	switch s.kind {
	case ScalarInt:
		return strconv.FormatInt(s.i, 10)
	case ScalarString:
		return s.s
	case ScalarDecimal:
		return s.d.String()
	case ScalarTime:
		return s.t.Format(time.RFC3339Nano)
	}
	return ""
}

// rawKey is the membership key under raw (uncoerced) comparison. Numeric
// kinds share one canonical form so integer 10 equals decimal 10.00, the
// way dynamically typed rule values compared in practice.
func (s Scalar) rawKey() (string, bool) {
	switch s.kind {
	case ScalarInt:
		return "n:" + strconv.FormatInt(s.i, 10), true
	case ScalarDecimal:
		return "n:" + canonicalDecimal(s.d), true
	case ScalarString:
		return "s:" + s.s, true
	case ScalarTime:
		return "t:" + s.t.UTC().Format(time.RFC3339Nano), true
	}
	return "", false
}

func canonicalDecimal(d decimal.Decimal) string {
	out := d.String()
	if strings.ContainsRune(out, '.') {
		out = strings.TrimRight(out, "0")
		out = strings.TrimSuffix(out, ".")
	}
	if out == "-0" || out == "" {
		out = "0"
	}
	return out
}

// Context supplies request attributes to matchers by dotted-path field
// name. Missing paths report ok=false, never an error.
type Context interface {
	Lookup(path string) (Scalar, bool)
}

// MapContext adapts a plain map, including JSON-decoded payloads, to the
// Context interface. Dotted paths traverse nested maps.
type MapContext map[string]any

func (m MapContext) Lookup(path string) (Scalar, bool) {
	var cur any = map[string]any(m)
	parts := strings.Split(path, ".")
	for i, part := range parts {
		var (
			v  any
			ok bool
		)
		switch node := cur.(type) {
		case map[string]any:
			v, ok = node[part]
		case MapContext:
			v, ok = node[part]
		default:
			return Scalar{}, false
		}
		if !ok {
			return Scalar{}, false
		}
		if i == len(parts)-1 {
			return toScalar(v)
		}
		cur = v
	}
	return Scalar{}, false
}

func toScalar(v any) (Scalar, bool) {
	switch tv := v.(type) {
	case Scalar:
		return tv, tv.kind != ScalarAbsent
	case string:
		return StringValue(tv), true
	case int:
		return IntValue(int64(tv)), true
	case int8:
		return IntValue(int64(tv)), true
	case int16:
		return IntValue(int64(tv)), true
	case int32:
		return IntValue(int64(tv)), true
	case int64:
		return IntValue(tv), true
	case uint:
		if uint64(tv) > math.MaxInt64 {
			return Scalar{}, false
		}
		return IntValue(int64(tv)), true
	case uint8:
		return IntValue(int64(tv)), true
	case uint16:
		return IntValue(int64(tv)), true
	case uint32:
		return IntValue(int64(tv)), true
	case uint64:
		if tv > math.MaxInt64 {
			return Scalar{}, false
		}
		return IntValue(int64(tv)), true
	case float32:
		return floatScalar(float64(tv))
	case float64:
		return floatScalar(tv)
	case json.Number:
		if i, err := strconv.ParseInt(string(tv), 10, 64); err == nil {
			return IntValue(i), true
		}
		if d, err := decimal.NewFromString(string(tv)); err == nil {
			return DecimalValue(d), true
		}
		return Scalar{}, false
	case decimal.Decimal:
		return DecimalValue(tv), true
	case time.Time:
		return TimeValue(tv), true
	}
	return Scalar{}, false
}

// floatScalar keeps JSON-decoded integers integral; fractional values
// become decimals via the shortest-representation conversion.
func floatScalar(v float64) (Scalar, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Scalar{}, false
	}
	if v == math.Trunc(v) && math.Abs(v) < 1<<62 {
		return IntValue(int64(v)), true
	}
	return DecimalValue(decimal.NewFromFloat(v)), true
}
