package selector

import "github.com/shopspring/decimal"

// amountRangeMatcher compares the field value against exact decimal
// bounds. Under int coercion the raw value is minor units and is shifted
// by -scale before comparison; under decimal coercion the value is
// parsed as a decimal directly. Any conversion failure is a non-match.
type amountRangeMatcher struct {
	field     string
	min       decimal.Decimal
	max       decimal.Decimal
	hasMin    bool
	hasMax    bool
	minIncl   bool
	maxIncl   bool
	minorUnit bool
	scale     int32
}

func (m *amountRangeMatcher) Matches(ev Eval) bool {
	v, ok := ev.Ctx.Lookup(m.field)
	if !ok {
		return false
	}
	amt, ok := m.amount(v)
	if !ok {
		return false
	}
	if m.hasMin {
		c := amt.Cmp(m.min)
		if c < 0 || (c == 0 && !m.minIncl) {
			return false
		}
	}
	if m.hasMax {
		c := amt.Cmp(m.max)
		if c > 0 || (c == 0 && !m.maxIncl) {
			return false
		}
	}
	return true
}

func (m *amountRangeMatcher) Kind() string { return "AMOUNT_RANGE" }

func (m *amountRangeMatcher) amount(v Scalar) (decimal.Decimal, bool) {
	if m.minorUnit {
		i, ok := v.AsInt()
		if !ok {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromInt(i).Shift(-m.scale), true
	}
	return v.AsDecimal()
}
