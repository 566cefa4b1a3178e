package selector

import (
	"strconv"
	"strings"
)

type coerceKind uint8

const (
	coerceRaw coerceKind = iota
	coerceInt
	coerceString
	coerceLower
)

func parseCoerce(s string) (coerceKind, bool) {
	switch s {
	case "", "null":
		return coerceRaw, true
	case "int":
		return coerceInt, true
	case "str":
		return coerceString, true
	case "lower-str":
		return coerceLower, true
	}
	return 0, false
}

func (c coerceKind) String() string {
	switch c {
	case coerceInt:
		return "int"
	case coerceString:
		return "str"
	case coerceLower:
		return "lower-str"
	}
	return "null"
}

// valueInMatcher tests hash-set membership of the coerced field value.
// The set keys are precomputed at compile time from the rule's literals.
type valueInMatcher struct {
	field  string
	coerce coerceKind
	keys   map[string]struct{}
}

func (m *valueInMatcher) Matches(ev Eval) bool {
	v, ok := ev.Ctx.Lookup(m.field)
	if !ok {
		return false
	}
	key, ok := membershipKey(v, m.coerce)
	if !ok {
		return false
	}
	_, hit := m.keys[key]
	return hit
}

func (m *valueInMatcher) Kind() string { return "VALUE_IN" }

// membershipKey maps a scalar to its set key under the given coercion.
// Keys are tagged by coerced type so "123" and 123 stay distinct under
// raw comparison while collapsing under int or str coercion.
func membershipKey(v Scalar, c coerceKind) (string, bool) {
	switch c {
	case coerceInt:
		i, ok := v.AsInt()
		if !ok {
			return "", false
		}
		return "i:" + strconv.FormatInt(i, 10), true
	case coerceString:
		if v.Kind() == ScalarAbsent {
			return "", false
		}
		return "s:" + v.String(), true
	case coerceLower:
		if v.Kind() == ScalarAbsent {
			return "", false
		}
		return "l:" + strings.ToLower(v.String()), true
	}
	return v.rawKey()
}
