package selector

import (
	"strings"
	"testing"
	"time"
)

func TestCompileRejectsDuplicatePriority(t *testing.T) {
	doc := `{
  "id": 1, "version": 1, "gateways": ["A"],
  "rules": [
    {"id": 1, "priority": 5, "enabled": true,
     "condition_type": "USER", "condition_value": 1,
     "action": {"route": "FIXED", "gateway": "A"}},
    {"id": 2, "priority": 5, "enabled": true,
     "condition_type": "USER", "condition_value": 2,
     "action": {"route": "FIXED", "gateway": "A"}}
  ]
}`
	ce := compileErrs(t, doc)
	e := findError(ce, CodeDuplicatePriority)
	if e == nil {
		t.Fatalf("expected duplicate_priority, got %v", ce)
	}
	if e.Path != "rules[1].priority" {
		t.Fatalf("unexpected path %q", e.Path)
	}
}

func TestCompileDuplicatePriorityAllowedWhenDisabled(t *testing.T) {
	doc := `{
  "id": 1, "version": 1, "gateways": ["A"],
  "rules": [
    {"id": 1, "priority": 5, "enabled": true,
     "condition_type": "USER", "condition_value": 1,
     "action": {"route": "FIXED", "gateway": "A"}},
    {"id": 2, "priority": 5, "enabled": false,
     "condition_type": "USER", "condition_value": 2,
     "action": {"route": "FIXED", "gateway": "A"}}
  ]
}`
	if snap := mustCompile(t, doc); snap.RuleCount() != 1 {
		t.Fatalf("expected one enabled rule")
	}
}

func TestCompileRejectsDuplicateRuleID(t *testing.T) {
	doc := `{
  "id": 1, "version": 1, "gateways": ["A"],
  "rules": [
    {"id": 7, "priority": 1, "enabled": true,
     "condition_type": "USER", "condition_value": 1,
     "action": {"route": "FIXED", "gateway": "A"}},
    {"id": 7, "priority": 2, "enabled": true,
     "condition_type": "USER", "condition_value": 2,
     "action": {"route": "FIXED", "gateway": "A"}}
  ]
}`
	ce := compileErrs(t, doc)
	e := findError(ce, CodeDuplicateRuleID)
	if e == nil || e.Path != "rules[1].id" {
		t.Fatalf("expected duplicate_rule_id at rules[1].id, got %v", ce)
	}
}

func TestCompileCollectsAllErrors(t *testing.T) {
	doc := `{
  "id": 1, "version": 1, "default_gateway": "GHOST", "gateways": ["A"],
  "rules": [
    {"id": 1, "priority": 1, "enabled": true,
     "condition_type": "ADVANCED",
     "condition_json": {"type": "REGEX", "field": "pix_key", "pattern": "[", "max_len": 64},
     "action": {"route": "FIXED", "gateway": "A"}},
    {"id": 2, "priority": 2, "enabled": true,
     "condition_type": "ADVANCED",
     "condition_json": {"type": "TIME_WINDOW", "tz": "Mars/Olympus", "start": "09:00", "end": "17:00"},
     "action": {"route": "FIXED", "gateway": "A"}}
  ]
}`
	ce := compileErrs(t, doc)
	for _, code := range []string{CodeUnknownGateway, CodeInvalidRegex, CodeInvalidTimezone} {
		if findError(ce, code) == nil {
			t.Fatalf("missing %s in %v", code, ce)
		}
	}
	if len(ce.Errors) < 3 {
		t.Fatalf("expected every error collected, got %d", len(ce.Errors))
	}
}

func TestCompileErrorPathsAreNested(t *testing.T) {
	doc := condRuleset(`{"all": [
    {"type": "VALUE_IN", "field": "pix_key_type", "values": ["EVP"]},
    {"type": "REGEX", "field": "pix_key", "pattern": "(", "max_len": 64}
  ]}`)
	ce := compileErrs(t, doc)
	e := findError(ce, CodeInvalidRegex)
	if e == nil {
		t.Fatalf("expected invalid_regex, got %v", ce)
	}
	if e.Path != "rules[0].condition_json.all[1].pattern" {
		t.Fatalf("unexpected path %q", e.Path)
	}
}

func TestCompileGatewayValidation(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		code string
		path string
	}{
		{
			name: "empty list",
			doc:  `{"id":1,"version":1,"gateways":[],"rules":[]}`,
			code: CodeEmptyGateways,
			path: "gateways",
		},
		{
			name: "duplicate name",
			doc:  `{"id":1,"version":1,"gateways":["A","A"],"rules":[]}`,
			code: CodeDuplicateGateway,
			path: "gateways[1]",
		},
		{
			name: "blank name",
			doc:  `{"id":1,"version":1,"gateways":[" "],"rules":[]}`,
			code: CodeBadType,
			path: "gateways[0]",
		},
		{
			name: "unknown default",
			doc:  `{"id":1,"version":1,"default_gateway":"B","gateways":["A"],"rules":[]}`,
			code: CodeUnknownGateway,
			path: "default_gateway",
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

func actionRuleset(action string) string {
	return `{"id":1,"version":1,"gateways":["A","B"],"rules":[` +
		`{"id":1,"priority":1,"enabled":true,"condition_type":"USER","condition_value":1,` +
		`"action":` + action + `}]}`
}

func TestCompileActionErrors(t *testing.T) {
	cases := []struct {
		name   string
		action string
		code   string
		path   string
	}{
		{
			name:   "fixed without gateway",
			action: `{"route":"FIXED"}`,
			code:   CodeMissingField,
			path:   "rules[0].action.gateway",
		},
		{
			name:   "fixed unknown gateway",
			action: `{"route":"FIXED","gateway":"GHOST"}`,
			code:   CodeUnknownGateway,
			path:   "rules[0].action.gateway",
		},
		{
			name:   "deny without reason",
			action: `{"route":"DENY","reason_code":""}`,
			code:   CodeEmptyReason,
			path:   "rules[0].action.reason_code",
		},
		{
			name:   "unknown route",
			action: `{"route":"TELEPORT"}`,
			code:   CodeBadRoute,
			path:   "rules[0].action.route",
		},
		{
			name:   "weighted without weights",
			action: `{"route":"WEIGHTED"}`,
			code:   CodeMissingField,
			path:   "rules[0].action.weights",
		},
		{
			name:   "negative weight",
			action: `{"route":"WEIGHTED","weights":{"A":-1,"B":2}}`,
			code:   CodeNegativeWeight,
			path:   "rules[0].action.weights.A",
		},
		{
			name:   "weight above the arithmetic bound",
			action: `{"route":"WEIGHTED","weights":{"A":2000000000000000000,"B":1}}`,
			code:   CodeWeightTooLarge,
			path:   "rules[0].action.weights.A",
		},
		{
			name:   "weight for unknown gateway",
			action: `{"route":"WEIGHTED","weights":{"GHOST":1}}`,
			code:   CodeUnknownGateway,
			path:   "rules[0].action.weights.GHOST",
		},
		{
			name:   "zero-sum weights",
			action: `{"route":"WEIGHTED","weights":{"A":0,"B":0}}`,
			code:   CodeWeightsSumZero,
			path:   "rules[0].action.weights",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ce := compileErrs(t, actionRuleset(tc.action))
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

func TestCompileConditionAliases(t *testing.T) {
	base := `{"id":1,"version":1,"gateways":["A"],"rules":[` +
		`{"id":1,"priority":1,"enabled":true,%s,` +
		`"action":{"route":"FIXED","gateway":"A"}}]}`

	t.Run("user value must be integer", func(t *testing.T) {
		doc := strings.Replace(base, "%s", `"condition_type":"USER","condition_value":"not-a-number"`, 1)
		ce := compileErrs(t, doc)
		e := findError(ce, CodeBadType)
		if e == nil || e.Path != "rules[0].condition_value" {
			t.Fatalf("expected bad_type at condition_value, got %v", ce)
		}
	})
	t.Run("user accepts numeric string", func(t *testing.T) {
		doc := strings.Replace(base, "%s", `"condition_type":"USER","condition_value":"999"`, 1)
		snap := mustCompile(t, doc)
		if d := snap.Select(MapContext{"api_user_id": 999}); d.Kind != DecisionRouted {
			t.Fatalf("numeric string alias should match, got %+v", d)
		}
	})
	t.Run("pix key type closed set", func(t *testing.T) {
		doc := strings.Replace(base, "%s", `"condition_type":"PIX_KEY_TYPE","condition_value":"IBAN"`, 1)
		ce := compileErrs(t, doc)
		if findError(ce, CodeInvalidPixKeyType) == nil {
			t.Fatalf("expected invalid_pix_key_type, got %v", ce)
		}
	})
	t.Run("missing condition value", func(t *testing.T) {
		doc := strings.Replace(base, "%s", `"condition_type":"PIX_KEY"`, 1)
		ce := compileErrs(t, doc)
		e := findError(ce, CodeMissingField)
		if e == nil || e.Path != "rules[0].condition_value" {
			t.Fatalf("expected missing_field at condition_value, got %v", ce)
		}
	})
	t.Run("advanced requires condition json", func(t *testing.T) {
		doc := strings.Replace(base, "%s", `"condition_type":"ADVANCED"`, 1)
		ce := compileErrs(t, doc)
		if findError(ce, CodeBadCondition) == nil {
			t.Fatalf("expected bad_condition, got %v", ce)
		}
	})
	t.Run("unknown condition type", func(t *testing.T) {
		doc := strings.Replace(base, "%s", `"condition_type":"MERCHANT","condition_value":1`, 1)
		ce := compileErrs(t, doc)
		if findError(ce, CodeBadCondition) == nil {
			t.Fatalf("expected bad_condition, got %v", ce)
		}
	})
}

func TestCompileNodeErrors(t *testing.T) {
	cases := []struct {
		name string
		cond string
		code string
	}{
		{
			name: "mixed composite keys",
			cond: `{"all": [], "any": []}`,
			code: CodeAmbiguousComposite,
		},
		{
			name: "leaf without type",
			cond: `{"field": "pix_key"}`,
			code: CodeUnknownMatcher,
		},
		{
			name: "unknown matcher type",
			cond: `{"type": "GEO_FENCE", "field": "pix_key"}`,
			code: CodeUnknownMatcher,
		},
		{
			name: "empty values",
			cond: `{"type": "VALUE_IN", "field": "pix_key", "values": []}`,
			code: CodeEmptyValues,
		},
		{
			name: "boolean in values",
			cond: `{"type": "VALUE_IN", "field": "pix_key", "values": [true]}`,
			code: CodeBadType,
		},
		{
			name: "value in bad coerce",
			cond: `{"type": "VALUE_IN", "field": "pix_key", "values": ["x"], "coerce": "float"}`,
			code: CodeBadCoerce,
		},
		{
			name: "regex missing max len",
			cond: `{"type": "REGEX", "field": "pix_key", "pattern": "a"}`,
			code: CodeMissingField,
		},
		{
			name: "regex max len zero",
			cond: `{"type": "REGEX", "field": "pix_key", "pattern": "a", "max_len": 0}`,
			code: CodeBadMaxLen,
		},
		{
			name: "regex bad mode",
			cond: `{"type": "REGEX", "field": "pix_key", "pattern": "a", "max_len": 8, "mode": "prefix"}`,
			code: CodeBadMode,
		},
		{
			name: "regex unsupported flag",
			cond: `{"type": "REGEX", "field": "pix_key", "pattern": "a", "max_len": 8, "flags": ["VERBOSE"]}`,
			code: CodeInvalidRegexFlag,
		},
		{
			name: "regex int coerce",
			cond: `{"type": "REGEX", "field": "pix_key", "pattern": "a", "max_len": 8, "coerce": "int"}`,
			code: CodeBadCoerce,
		},
		{
			name: "amount bad decimal",
			cond: `{"type": "AMOUNT_RANGE", "field": "amount", "min": "1,50"}`,
			code: CodeBadDecimal,
		},
		{
			name: "amount inverted range",
			cond: `{"type": "AMOUNT_RANGE", "field": "amount", "min": "10", "max": "1"}`,
			code: CodeBadRange,
		},
		{
			name: "amount scale too large",
			cond: `{"type": "AMOUNT_RANGE", "field": "amount", "coerce": "int", "scale": 29, "min": "0"}`,
			code: CodeBadScale,
		},
		{
			name: "time window bad clock",
			cond: `{"type": "TIME_WINDOW", "tz": "UTC", "start": "25:00", "end": "17:00"}`,
			code: CodeBadClock,
		},
		{
			name: "time window bad day",
			cond: `{"type": "TIME_WINDOW", "tz": "UTC", "start": "09:00", "end": "17:00", "days_of_week": ["funday"]}`,
			code: CodeBadDayOfWeek,
		},
		{
			name: "time window empty days list",
			cond: `{"type": "TIME_WINDOW", "tz": "UTC", "start": "09:00", "end": "17:00", "days_of_week": []}`,
			code: CodeBadDayOfWeek,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ce := compileErrs(t, condRuleset(tc.cond))
			if findError(ce, tc.code) == nil {
				t.Fatalf("expected %s, got %v", tc.code, ce)
			}
		})
	}
}

func TestCompileWithClock(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := mustCompile(t, denyUserRuleset, WithClock(func() time.Time { return at }))
	if !snap.CompiledAt.Equal(at) {
		t.Fatalf("compiled_at %v, want %v", snap.CompiledAt, at)
	}
}

func TestCompileSkipsDisabledRuleBodies(t *testing.T) {
	doc := `{
  "id": 1, "version": 1, "default_gateway": "A", "gateways": ["A"],
  "rules": [
    {"id": 1, "priority": 1, "enabled": false,
     "condition_type": "ADVANCED",
     "condition_json": {"type": "REGEX", "field": "pix_key", "pattern": "(", "max_len": 1},
     "action": {"route": "FIXED", "gateway": "GHOST"}}
  ]
}`
	if snap := mustCompile(t, doc); snap.RuleCount() != 0 {
		t.Fatalf("disabled rule must not be compiled")
	}
}
