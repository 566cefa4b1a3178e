package selector

import (
	"errors"
	"testing"
)

func mustCompile(t *testing.T, doc string, opts ...CompileOption) *Snapshot {
	t.Helper()
	snap, err := CompileJSON([]byte(doc), opts...)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return snap
}

func compileErrs(t *testing.T, doc string) *CompileErrors {
	t.Helper()
	_, err := CompileJSON([]byte(doc))
	if err == nil {
		t.Fatalf("expected compile to fail")
	}
	var ce *CompileErrors
	if !errors.As(err, &ce) {
		t.Fatalf("unexpected error type %T: %v", err, err)
	}
	return ce
}

func findError(ce *CompileErrors, code string) *CompileError {
	for _, e := range ce.Errors {
		if e.Code == code {
			return e
		}
	}
	return nil
}

// condRuleset wraps one condition tree in a minimal ruleset routing to
// TARGET with FALLBACK as default, so matcher behavior is observable
// through Select.
func condRuleset(cond string) string {
	return `{"id":1,"version":1,"default_gateway":"FALLBACK","gateways":["FALLBACK","TARGET"],` +
		`"rules":[{"id":1,"priority":1,"enabled":true,"condition_type":"ADVANCED",` +
		`"condition_json":` + cond + `,"action":{"route":"FIXED","gateway":"TARGET"}}]}`
}

func evalCond(t *testing.T, cond string, ctx Context, opts ...SelectOption) bool {
	t.Helper()
	snap := mustCompile(t, condRuleset(cond))
	d := snap.Select(ctx, opts...)
	switch d.Kind {
	case DecisionRouted:
		return true
	case DecisionDefaulted:
		return false
	}
	t.Fatalf("unexpected decision %+v", d)
	return false
}
