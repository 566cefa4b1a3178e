package selector

import (
	"bytes"
	"testing"
)

func TestParseRejectsUnknownFields(t *testing.T) {
	doc := `{
  "id": 1, "version": 1, "gateways": ["A"], "color": "red",
  "rules": [
    {"id": 1, "priority": 1, "enabled": true, "notes": "x",
     "condition_type": "USER", "condition_value": 1,
     "action": {"route": "FIXED", "gateway": "A"}}
  ]
}`
	ce := compileErrs(t, doc)
	if e := findError(ce, CodeUnknownField); e == nil {
		t.Fatalf("expected unknown_field, got %v", ce)
	}
	var paths []string
	for _, e := range ce.Errors {
		if e.Code == CodeUnknownField {
			paths = append(paths, e.Path)
		}
	}
	want := map[string]bool{"color": true, "rules[0].notes": true}
	for _, p := range paths {
		delete(want, p)
	}
	if len(want) != 0 {
		t.Fatalf("unknown fields not all reported, missing %v in %v", want, paths)
	}
}

func TestParseMissingAndBadFields(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		code string
		path string
	}{
		{
			name: "missing id",
			doc:  `{"version":1,"gateways":["A"],"rules":[]}`,
			code: CodeMissingField,
			path: "id",
		},
		{
			name: "missing rules",
			doc:  `{"id":1,"version":1,"gateways":["A"]}`,
			code: CodeMissingField,
			path: "rules",
		},
		{
			name: "id not integer",
			doc:  `{"id":"one","version":1,"gateways":["A"],"rules":[]}`,
			code: CodeBadType,
			path: "id",
		},
		{
			name: "rules not array",
			doc:  `{"id":1,"version":1,"gateways":["A"],"rules":{}}`,
			code: CodeBadType,
			path: "rules",
		},
		{
			name: "rule missing action",
			doc: `{"id":1,"version":1,"gateways":["A"],"rules":[` +
				`{"id":1,"priority":1,"condition_type":"USER","condition_value":1}]}`,
			code: CodeMissingField,
			path: "rules[0].action",
		},
		{
			name: "condition value object",
			doc: `{"id":1,"version":1,"gateways":["A"],"rules":[` +
				`{"id":1,"priority":1,"condition_type":"USER","condition_value":{"a":1},` +
				`"action":{"route":"FIXED","gateway":"A"}}]}`,
			code: CodeBadType,
			path: "rules[0].condition_value",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ce := compileErrs(t, tc.doc)
			e := findError(ce, tc.code)
			if e == nil {
				t.Fatalf("expected %s, got %v", tc.code, ce)
			}
			if e.Path != tc.path {
				t.Fatalf("unexpected path %q, want %q", e.Path, tc.path)
			}
		})
	}
}

func TestParseEnabledDefaultsTrue(t *testing.T) {
	doc := `{"id":1,"version":1,"gateways":["A"],"rules":[` +
		`{"id":1,"priority":1,"condition_type":"USER","condition_value":1,` +
		`"action":{"route":"FIXED","gateway":"A"}}]}`
	if snap := mustCompile(t, doc); snap.RuleCount() != 1 {
		t.Fatalf("omitted enabled must default to true")
	}
}

func TestExportIsCanonicalFixpoint(t *testing.T) {
	snap := mustCompile(t, weightedStickyRuleset)
	first, err := snap.Export().JSON()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	second, err := mustCompile(t, string(first)).Export().JSON()
	if err != nil {
		t.Fatalf("re-export: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("canonical form is not a fixpoint:\n%s\n%s", first, second)
	}
}

func TestExportNormalizesWeights(t *testing.T) {
	doc := `{"id":1,"version":1,"gateways":["A","B","C"],"rules":[` +
		`{"id":1,"priority":1,"condition_type":"ADVANCED","condition_json":{"all":[]},` +
		`"action":{"route":"WEIGHTED","weights":{"A":1,"B":1,"C":1}}}]}`
	snap := mustCompile(t, doc)
	out := snap.Export()
	w := out.Rules[0].Action.Weights
	var sum int64
	for _, v := range w {
		sum += v
	}
	if sum != WeightTotal {
		t.Fatalf("exported weights sum to %d, want %d", sum, WeightTotal)
	}
	if w["A"] != 3334 || w["B"] != 3333 || w["C"] != 3333 {
		t.Fatalf("remainder must go to the alphabetically first tied bucket, got %v", w)
	}
}

func TestExportSortsGatewaysAndRules(t *testing.T) {
	doc := `{"id":1,"version":1,"gateways":["Z","A","M"],"rules":[` +
		`{"id":2,"priority":20,"condition_type":"USER","condition_value":2,` +
		`"action":{"route":"FIXED","gateway":"A"}},` +
		`{"id":1,"priority":10,"condition_type":"USER","condition_value":1,` +
		`"action":{"route":"FIXED","gateway":"Z"}}]}`
	out := mustCompile(t, doc).Export()
	if out.Gateways[0] != "A" || out.Gateways[1] != "M" || out.Gateways[2] != "Z" {
		t.Fatalf("gateways not sorted: %v", out.Gateways)
	}
	if out.Rules[0].ID != 1 || out.Rules[1].ID != 2 {
		t.Fatalf("rules not ordered by priority: %d, %d", out.Rules[0].ID, out.Rules[1].ID)
	}
}

func TestExportIsDetachedFromSnapshot(t *testing.T) {
	snap := mustCompile(t, denyUserRuleset)
	out := snap.Export()
	out.Gateways[0] = "MUTATED"
	out.Rules[0].Priority = 99
	again := snap.Export()
	if again.Gateways[0] == "MUTATED" || again.Rules[0].Priority == 99 {
		t.Fatalf("export must deep-copy the canonical document")
	}
}
