// Package selector compiles declarative payout-routing rulesets into
// immutable snapshots and evaluates them against request contexts.
//
// The hot path is Snapshot.Select: priority-ascending, first-match-wins
// rule evaluation with fixed, weighted (optionally sticky), and deny
// actions. Snapshots are produced by Compile, never mutated, and swapped
// whole through a Registry.
package selector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Context field names the alias condition types expand to.
const (
	fieldAPIUserID  = "api_user_id"
	fieldPixKey     = "pix_key"
	fieldPixKeyType = "pix_key_type"
)

// pixKeyTypes is the closed set accepted by PIX_KEY_TYPE rules.
var pixKeyTypes = map[string]struct{}{
	"QRCODE_STATIC":  {},
	"QRCODE_DYNAMIC": {},
	"EMAIL":          {},
	"PHONE":          {},
	"CPF":            {},
	"CNPJ":           {},
	"EVP":            {},
}

type compileOptions struct {
	trace TraceFunc
	clock func() time.Time
}

// CompileOption customizes one compilation.
type CompileOption func(*compileOptions)

// WithDebug wraps every compiled matcher with an evaluation tracer.
// Debug snapshots skip constant folding so traced paths mirror the
// document tree exactly.
func WithDebug(trace TraceFunc) CompileOption {
	return func(o *compileOptions) { o.trace = trace }
}

// WithClock overrides the source of the snapshot's compiled_at stamp.
func WithClock(clock func() time.Time) CompileOption {
	return func(o *compileOptions) { o.clock = clock }
}

// CompileJSON parses and compiles ruleset JSON in one step.
func CompileJSON(data []byte, opts ...CompileOption) (*Snapshot, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return Compile(doc, opts...)
}

// Compile validates a ruleset document and produces an immutable
// snapshot. Validation is best-effort: every error in the document is
// collected and reported together, and any error aborts the compile.
func Compile(doc *Document, opts ...CompileOption) (*Snapshot, error) {
	o := compileOptions{clock: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	c := &errCollector{}

	known := make(map[string]struct{}, len(doc.Gateways))
	if len(doc.Gateways) == 0 {
		c.add("gateways", CodeEmptyGateways, "at least one gateway is required")
	}
	for i, gw := range doc.Gateways {
		name := strings.TrimSpace(gw)
		if name == "" {
			c.add(indexPath("", "gateways", i), CodeBadType, "gateway name is empty")
			continue
		}
		if _, dup := known[name]; dup {
			c.add(indexPath("", "gateways", i), CodeDuplicateGateway, "gateway %q declared twice", name)
			continue
		}
		known[name] = struct{}{}
	}
	defaultGateway := strings.TrimSpace(doc.DefaultGateway)
	if defaultGateway != "" {
		if _, ok := known[defaultGateway]; !ok {
			c.add("default_gateway", CodeUnknownGateway, "default gateway %q is not declared in gateways", defaultGateway)
		}
	}

	rc := &ruleCompiler{known: known, trace: o.trace, errs: c}
	compiled := make([]Rule, 0, len(doc.Rules))
	canonical := make([]RuleDocument, 0, len(doc.Rules))
	seenID := make(map[int64]struct{})
	seenPriority := make(map[int64]struct{})
	for i := range doc.Rules {
		rd := &doc.Rules[i]
		if !rd.Enabled {
			continue
		}
		path := indexPath("", "rules", i)
		if _, dup := seenID[rd.ID]; dup {
			c.add(childPath(path, "id"), CodeDuplicateRuleID, "rule id %d is used twice", rd.ID)
		} else {
			seenID[rd.ID] = struct{}{}
		}
		if _, dup := seenPriority[rd.Priority]; dup {
			c.add(childPath(path, "priority"), CodeDuplicatePriority, "priority %d is assigned twice", rd.Priority)
		} else {
			seenPriority[rd.Priority] = struct{}{}
		}
		rule, canon, ok := rc.compileRule(rd, path)
		if ok {
			compiled = append(compiled, rule)
			canonical = append(canonical, canon)
		}
	}
	if err := c.err(); err != nil {
		return nil, err
	}

	sort.SliceStable(compiled, func(a, b int) bool { return compiled[a].Priority < compiled[b].Priority })
	sort.SliceStable(canonical, func(a, b int) bool { return canonical[a].Priority < canonical[b].Priority })

	gateways := make([]string, 0, len(known))
	for name := range known {
		gateways = append(gateways, name)
	}
	sort.Strings(gateways)

	return &Snapshot{
		ID:             doc.ID,
		Version:        doc.Version,
		Name:           strings.TrimSpace(doc.Name),
		DefaultGateway: defaultGateway,
		CompiledAt:     o.clock(),
		rules:          compiled,
		known:          known,
		stickySalt:     doc.StickySalt,
		debug:          o.trace != nil,
		doc: &Document{
			ID:             doc.ID,
			Version:        doc.Version,
			Name:           strings.TrimSpace(doc.Name),
			StickySalt:     doc.StickySalt,
			DefaultGateway: defaultGateway,
			Gateways:       gateways,
			Rules:          canonical,
		},
	}, nil
}

type ruleCompiler struct {
	known map[string]struct{}
	trace TraceFunc
	errs  *errCollector
}

func (rc *ruleCompiler) wrap(m Matcher, path string) Matcher {
	if rc.trace == nil || m == nil {
		return m
	}
	return &tracedMatcher{inner: m, path: path, trace: rc.trace}
}

func (rc *ruleCompiler) compileRule(rd *RuleDocument, path string) (Rule, RuleDocument, bool) {
	before := len(rc.errs.errs)
	matcher, condJSON := rc.compileCondition(rd, path)
	action, actionDoc := rc.compileAction(&rd.Action, childPath(path, "action"))
	if len(rc.errs.errs) != before {
		return Rule{}, RuleDocument{}, false
	}
	canon := RuleDocument{
		ID:            rd.ID,
		Priority:      rd.Priority,
		Enabled:       true,
		ConditionType: "ADVANCED",
		Condition:     condJSON,
		Action:        actionDoc,
	}
	return Rule{ID: rd.ID, Priority: rd.Priority, Matcher: matcher, Action: action}, canon, true
}

func (rc *ruleCompiler) compileCondition(rd *RuleDocument, path string) (Matcher, json.RawMessage) {
	switch rd.ConditionType {
	case "USER":
		return rc.aliasValueIn(rd, path, fieldAPIUserID, coerceInt)
	case "PIX_KEY":
		return rc.aliasValueIn(rd, path, fieldPixKey, coerceString)
	case "PIX_KEY_TYPE":
		return rc.aliasValueIn(rd, path, fieldPixKeyType, coerceString)
	case "ADVANCED":
		if len(rd.Condition) == 0 {
			rc.errs.add(childPath(path, "condition_json"), CodeBadCondition, "ADVANCED rules require condition_json")
			return nil, nil
		}
		return rc.compileNode(rd.Condition, childPath(path, "condition_json"))
	}
	rc.errs.add(childPath(path, "condition_type"), CodeBadCondition,
		"condition_type must be one of USER, PIX_KEY, PIX_KEY_TYPE, ADVANCED")
	return nil, nil
}

// aliasValueIn expands the single-value condition aliases into their
// VALUE_IN form.
func (rc *ruleCompiler) aliasValueIn(rd *RuleDocument, path, field string, ck coerceKind) (Matcher, json.RawMessage) {
	valuePath := childPath(path, "condition_value")
	if rd.ConditionValue == nil {
		rc.errs.add(valuePath, CodeMissingField, "%s rules require condition_value", rd.ConditionType)
		return nil, nil
	}
	literal := formatScalar(rd.ConditionValue)
	node := valueInNode{Type: "VALUE_IN", Field: field, Coerce: ck.String()}
	keys := make(map[string]struct{}, 1)
	switch ck {
	case coerceInt:
		id, err := strconv.ParseInt(strings.TrimSpace(literal), 10, 64)
		if err != nil {
			rc.errs.add(valuePath, CodeBadType, "condition_value %q is not an integer", literal)
			return nil, nil
		}
		keys["i:"+strconv.FormatInt(id, 10)] = struct{}{}
		node.Values = []any{id}
	default:
		if field == fieldPixKeyType {
			if _, ok := pixKeyTypes[literal]; !ok {
				rc.errs.add(valuePath, CodeInvalidPixKeyType, "%q is not a known PIX key type", literal)
				return nil, nil
			}
		}
		keys["s:"+literal] = struct{}{}
		node.Values = []any{literal}
	}
	raw, err := json.Marshal(node)
	if err != nil {
		rc.errs.add(valuePath, CodeBadType, "condition_value cannot be encoded")
		return nil, nil
	}
	m := &valueInMatcher{field: field, coerce: ck, keys: keys}
	return rc.wrap(m, childPath(path, "condition_json")), raw
}

var compositeKinds = []string{"all", "any", "none"}

func (rc *ruleCompiler) compileNode(raw json.RawMessage, path string) (Matcher, json.RawMessage) {
	obj, ok := decodeObject(rc.errs, raw, path)
	if !ok {
		return nil, nil
	}
	var present []string
	for _, kind := range compositeKinds {
		if _, ok := obj[kind]; ok {
			present = append(present, kind)
		}
	}
	if len(present) > 1 {
		rc.errs.add(path, CodeAmbiguousComposite, "node mixes %s", strings.Join(present, " and "))
		return nil, nil
	}
	if len(present) == 1 {
		return rc.compileComposite(obj, present[0], path)
	}
	typRaw, ok := obj["type"]
	if !ok {
		rc.errs.add(path, CodeUnknownMatcher, `node needs "type" or one of all/any/none`)
		return nil, nil
	}
	typ, ok := wantString(rc.errs, typRaw, childPath(path, "type"))
	if !ok {
		return nil, nil
	}
	switch typ {
	case "VALUE_IN":
		return rc.compileValueIn(obj, path)
	case "REGEX":
		return rc.compileRegexNode(obj, path)
	case "AMOUNT_RANGE":
		return rc.compileAmountRange(obj, path)
	case "TIME_WINDOW":
		return rc.compileTimeWindow(obj, path)
	}
	rc.errs.add(childPath(path, "type"), CodeUnknownMatcher, "unknown matcher type %q", typ)
	return nil, nil
}

func (rc *ruleCompiler) compileComposite(obj map[string]json.RawMessage, kind, path string) (Matcher, json.RawMessage) {
	rejectUnknownKeys(rc.errs, obj, map[string]struct{}{kind: {}}, path)
	items, ok := wantArray(rc.errs, obj[kind], childPath(path, kind))
	if !ok {
		return nil, nil
	}
	children := make([]Matcher, 0, len(items))
	childNodes := make([]json.RawMessage, 0, len(items))
	failed := false
	for i, item := range items {
		m, node := rc.compileNode(item, fmt.Sprintf("%s.%s[%d]", path, kind, i))
		if m == nil {
			failed = true
			continue
		}
		children = append(children, m)
		childNodes = append(childNodes, node)
	}
	if failed {
		return nil, nil
	}
	canonical, err := json.Marshal(map[string][]json.RawMessage{kind: childNodes})
	if err != nil {
		rc.errs.add(path, CodeBadCondition, "condition cannot be encoded")
		return nil, nil
	}
	var m Matcher
	if rc.trace != nil {
		switch kind {
		case "all":
			m = &allMatcher{children: children}
		case "any":
			m = &anyMatcher{children: children}
		default:
			m = &noneMatcher{children: children}
		}
	} else {
		switch kind {
		case "all":
			m = newAll(children)
		case "any":
			m = newAny(children)
		default:
			m = newNone(children)
		}
	}
	return rc.wrap(m, path), canonical
}

type valueInNode struct {
	Type   string `json:"type"`
	Field  string `json:"field"`
	Values []any  `json:"values"`
	Coerce string `json:"coerce,omitempty"`
}

var valueInKeys = map[string]struct{}{
	"type": {}, "field": {}, "values": {}, "coerce": {},
}

func (rc *ruleCompiler) compileValueIn(obj map[string]json.RawMessage, path string) (Matcher, json.RawMessage) {
	before := len(rc.errs.errs)
	rejectUnknownKeys(rc.errs, obj, valueInKeys, path)
	field := rc.requireField(obj, path)

	ck := coerceRaw
	coerceName := ""
	if raw, ok := obj["coerce"]; ok && !isJSONNull(raw) {
		name, nameOK := wantString(rc.errs, raw, childPath(path, "coerce"))
		if nameOK {
			parsed, valid := parseCoerce(name)
			if !valid {
				rc.errs.add(childPath(path, "coerce"), CodeBadCoerce, "coerce must be one of int, str, lower-str, null")
			} else {
				ck = parsed
				coerceName = name
			}
		}
	}

	keys := make(map[string]struct{})
	var canonicalValues []any
	if raw, ok := requireKey(rc.errs, obj, "values", path); ok {
		items, itemsOK := wantArray(rc.errs, raw, childPath(path, "values"))
		if itemsOK {
			if len(items) == 0 {
				rc.errs.add(childPath(path, "values"), CodeEmptyValues, "values must not be empty")
			}
			for i, item := range items {
				sc, literal, scOK := literalScalar(item)
				if !scOK {
					rc.errs.add(indexPath(path, "values", i), CodeBadType, "values must be string or number scalars")
					continue
				}
				key, keyOK := membershipKey(sc, ck)
				if !keyOK {
					rc.errs.add(indexPath(path, "values", i), CodeBadType, "value %v does not coerce to %s", literal, ck)
					continue
				}
				keys[key] = struct{}{}
				canonicalValues = append(canonicalValues, literal)
			}
		}
	}
	if len(rc.errs.errs) != before {
		return nil, nil
	}
	node := valueInNode{Type: "VALUE_IN", Field: field, Values: canonicalValues, Coerce: coerceName}
	canonical, _ := json.Marshal(node)
	m := &valueInMatcher{field: field, coerce: ck, keys: keys}
	return rc.wrap(m, path), canonical
}

type regexNode struct {
	Type    string   `json:"type"`
	Field   string   `json:"field"`
	Pattern string   `json:"pattern"`
	Mode    string   `json:"mode"`
	Flags   []string `json:"flags,omitempty"`
	Coerce  string   `json:"coerce,omitempty"`
	MaxLen  int      `json:"max_len"`
}

var regexKeys = map[string]struct{}{
	"type": {}, "field": {}, "pattern": {}, "mode": {}, "flags": {}, "coerce": {}, "max_len": {},
}

func (rc *ruleCompiler) compileRegexNode(obj map[string]json.RawMessage, path string) (Matcher, json.RawMessage) {
	before := len(rc.errs.errs)
	rejectUnknownKeys(rc.errs, obj, regexKeys, path)
	field := rc.requireField(obj, path)

	pattern := ""
	if raw, ok := requireKey(rc.errs, obj, "pattern", path); ok {
		pattern, _ = wantString(rc.errs, raw, childPath(path, "pattern"))
	}

	mode := "search"
	if raw, ok := obj["mode"]; ok {
		if name, nameOK := wantString(rc.errs, raw, childPath(path, "mode")); nameOK {
			switch name {
			case "search", "match", "fullmatch":
				mode = name
			default:
				rc.errs.add(childPath(path, "mode"), CodeBadMode, "mode must be search, match, or fullmatch")
			}
		}
	}

	var flagNames []string
	if raw, ok := obj["flags"]; ok {
		if items, itemsOK := wantArray(rc.errs, raw, childPath(path, "flags")); itemsOK {
			for i, item := range items {
				name, nameOK := wantString(rc.errs, item, indexPath(path, "flags", i))
				if !nameOK {
					continue
				}
				if _, valid := regexFlags[name]; !valid {
					rc.errs.add(indexPath(path, "flags", i), CodeInvalidRegexFlag, "unsupported regex flag %q", name)
					continue
				}
				flagNames = append(flagNames, name)
			}
		}
	}

	lower := false
	coerceName := ""
	if raw, ok := obj["coerce"]; ok && !isJSONNull(raw) {
		if name, nameOK := wantString(rc.errs, raw, childPath(path, "coerce")); nameOK {
			switch name {
			case "str":
				coerceName = name
			case "lower-str":
				coerceName = name
				lower = true
			default:
				rc.errs.add(childPath(path, "coerce"), CodeBadCoerce, "coerce must be str or lower-str")
			}
		}
	}

	maxLen := 0
	if raw, ok := requireKey(rc.errs, obj, "max_len", path); ok {
		if v, vOK := wantInt(rc.errs, raw, childPath(path, "max_len")); vOK {
			if v < 1 {
				rc.errs.add(childPath(path, "max_len"), CodeBadMaxLen, "max_len must be at least 1")
			} else {
				maxLen = int(v)
			}
		}
	}

	if len(rc.errs.errs) != before {
		return nil, nil
	}

	prefix, _ := regexFlagPrefix(flagNames)
	re, err := regexp.Compile(regexPattern(pattern, mode, prefix))
	if err != nil {
		rc.errs.add(childPath(path, "pattern"), CodeInvalidRegex, "pattern does not compile: %v", err)
		return nil, nil
	}

	sort.Strings(flagNames)
	flagNames = dedupeStrings(flagNames)
	node := regexNode{
		Type: "REGEX", Field: field, Pattern: pattern, Mode: mode,
		Flags: flagNames, Coerce: coerceName, MaxLen: maxLen,
	}
	canonical, _ := json.Marshal(node)
	m := &regexMatcher{field: field, re: re, maxLen: maxLen, lower: lower}
	return rc.wrap(m, path), canonical
}

type amountRangeNode struct {
	Type         string `json:"type"`
	Field        string `json:"field"`
	Coerce       string `json:"coerce"`
	Scale        int32  `json:"scale,omitempty"`
	Min          string `json:"min,omitempty"`
	Max          string `json:"max,omitempty"`
	MinInclusive *bool  `json:"min_inclusive,omitempty"`
	MaxInclusive *bool  `json:"max_inclusive,omitempty"`
}

var amountRangeKeys = map[string]struct{}{
	"type": {}, "field": {}, "coerce": {}, "scale": {},
	"min": {}, "max": {}, "min_inclusive": {}, "max_inclusive": {},
}

func (rc *ruleCompiler) compileAmountRange(obj map[string]json.RawMessage, path string) (Matcher, json.RawMessage) {
	before := len(rc.errs.errs)
	rejectUnknownKeys(rc.errs, obj, amountRangeKeys, path)
	field := rc.requireField(obj, path)

	coerceName := "decimal"
	if raw, ok := obj["coerce"]; ok {
		if name, nameOK := wantString(rc.errs, raw, childPath(path, "coerce")); nameOK {
			switch name {
			case "int", "decimal":
				coerceName = name
			default:
				rc.errs.add(childPath(path, "coerce"), CodeBadCoerce, "coerce must be int or decimal")
			}
		}
	}

	var scale int32
	if raw, ok := obj["scale"]; ok {
		if v, vOK := wantInt(rc.errs, raw, childPath(path, "scale")); vOK {
			if v < 0 {
				rc.errs.add(childPath(path, "scale"), CodeBadScale, "scale must be non-negative")
			} else if v > 28 {
				rc.errs.add(childPath(path, "scale"), CodeBadScale, "scale must be at most 28")
			} else {
				scale = int32(v)
			}
		}
	}

	m := &amountRangeMatcher{field: field, minorUnit: coerceName == "int", scale: scale, minIncl: true, maxIncl: true}
	node := amountRangeNode{Type: "AMOUNT_RANGE", Field: field, Coerce: coerceName, Scale: scale}

	if raw, ok := obj["min"]; ok && !isJSONNull(raw) {
		if d, dOK := wantDecimal(rc.errs, raw, childPath(path, "min")); dOK {
			m.min, m.hasMin = d, true
			node.Min = d.String()
		}
	}
	if raw, ok := obj["max"]; ok && !isJSONNull(raw) {
		if d, dOK := wantDecimal(rc.errs, raw, childPath(path, "max")); dOK {
			m.max, m.hasMax = d, true
			node.Max = d.String()
		}
	}
	if m.hasMin && m.hasMax && m.min.GreaterThan(m.max) {
		rc.errs.add(childPath(path, "min"), CodeBadRange, "min %s exceeds max %s", m.min, m.max)
	}
	if raw, ok := obj["min_inclusive"]; ok {
		if v, vOK := wantBool(rc.errs, raw, childPath(path, "min_inclusive")); vOK {
			m.minIncl = v
			if !v {
				node.MinInclusive = &m.minIncl
			}
		}
	}
	if raw, ok := obj["max_inclusive"]; ok {
		if v, vOK := wantBool(rc.errs, raw, childPath(path, "max_inclusive")); vOK {
			m.maxIncl = v
			if !v {
				node.MaxInclusive = &m.maxIncl
			}
		}
	}

	if len(rc.errs.errs) != before {
		return nil, nil
	}
	canonical, _ := json.Marshal(node)
	return rc.wrap(m, path), canonical
}

type timeWindowNode struct {
	Type  string   `json:"type"`
	Tz    string   `json:"tz"`
	Start string   `json:"start"`
	End   string   `json:"end"`
	Days  []string `json:"days_of_week,omitempty"`
}

var timeWindowKeys = map[string]struct{}{
	"type": {}, "tz": {}, "start": {}, "end": {}, "days_of_week": {},
}

func (rc *ruleCompiler) compileTimeWindow(obj map[string]json.RawMessage, path string) (Matcher, json.RawMessage) {
	before := len(rc.errs.errs)
	rejectUnknownKeys(rc.errs, obj, timeWindowKeys, path)

	m := &timeWindowMatcher{days: allDays}
	node := timeWindowNode{Type: "TIME_WINDOW"}

	if raw, ok := requireKey(rc.errs, obj, "tz", path); ok {
		if name, nameOK := wantString(rc.errs, raw, childPath(path, "tz")); nameOK {
			loc, err := time.LoadLocation(name)
			if err != nil {
				rc.errs.add(childPath(path, "tz"), CodeInvalidTimezone, "unknown IANA timezone %q", name)
			} else {
				m.loc = loc
				node.Tz = name
			}
		}
	}
	if raw, ok := requireKey(rc.errs, obj, "start", path); ok {
		if s, sOK := wantString(rc.errs, raw, childPath(path, "start")); sOK {
			sec, err := parseClock(s)
			if err != nil {
				rc.errs.add(childPath(path, "start"), CodeBadClock, "%v", err)
			} else {
				m.start = sec
				node.Start = strings.TrimSpace(s)
			}
		}
	}
	if raw, ok := requireKey(rc.errs, obj, "end", path); ok {
		if s, sOK := wantString(rc.errs, raw, childPath(path, "end")); sOK {
			sec, err := parseClock(s)
			if err != nil {
				rc.errs.add(childPath(path, "end"), CodeBadClock, "%v", err)
			} else {
				m.end = sec
				node.End = strings.TrimSpace(s)
			}
		}
	}
	if raw, ok := obj["days_of_week"]; ok {
		if items, itemsOK := wantArray(rc.errs, raw, childPath(path, "days_of_week")); itemsOK {
			if len(items) == 0 {
				rc.errs.add(childPath(path, "days_of_week"), CodeBadDayOfWeek, "days_of_week must name at least one day when present")
			}
			var names []string
			var mask uint8
			for i, item := range items {
				name, nameOK := wantString(rc.errs, item, indexPath(path, "days_of_week", i))
				if !nameOK {
					continue
				}
				day := strings.ToLower(strings.TrimSpace(name))
				wd, valid := dayBits[day]
				if !valid {
					rc.errs.add(indexPath(path, "days_of_week", i), CodeBadDayOfWeek, "unknown day %q", name)
					continue
				}
				if mask&(1<<uint(wd)) == 0 {
					names = append(names, day)
				}
				mask |= 1 << uint(wd)
			}
			if mask != 0 {
				m.days = mask
				node.Days = names
			}
		}
	}

	if len(rc.errs.errs) != before {
		return nil, nil
	}
	canonical, _ := json.Marshal(node)
	return rc.wrap(m, path), canonical
}

func (rc *ruleCompiler) compileAction(ad *ActionDocument, path string) (CompiledAction, ActionDocument) {
	switch ad.Route {
	case "FIXED":
		gw := strings.TrimSpace(ad.Gateway)
		if gw == "" {
			rc.errs.add(childPath(path, "gateway"), CodeMissingField, "FIXED requires a gateway")
			return CompiledAction{}, ActionDocument{}
		}
		if _, ok := rc.known[gw]; !ok {
			rc.errs.add(childPath(path, "gateway"), CodeUnknownGateway, "gateway %q is not declared in gateways", gw)
			return CompiledAction{}, ActionDocument{}
		}
		return CompiledAction{Kind: ActionFixed, Gateway: gw},
			ActionDocument{Route: "FIXED", Gateway: gw}
	case "WEIGHTED":
		return rc.compileWeighted(ad, path)
	case "DENY":
		reason := strings.TrimSpace(ad.ReasonCode)
		if reason == "" {
			rc.errs.add(childPath(path, "reason_code"), CodeEmptyReason, "DENY requires a non-empty reason_code")
			return CompiledAction{}, ActionDocument{}
		}
		return CompiledAction{Kind: ActionDeny, Reason: reason},
			ActionDocument{Route: "DENY", ReasonCode: reason}
	}
	rc.errs.add(childPath(path, "route"), CodeBadRoute, "route must be FIXED, WEIGHTED, or DENY")
	return CompiledAction{}, ActionDocument{}
}

func (rc *ruleCompiler) compileWeighted(ad *ActionDocument, path string) (CompiledAction, ActionDocument) {
	weightsPath := childPath(path, "weights")
	if ad.Weights == nil {
		rc.errs.add(weightsPath, CodeMissingField, "WEIGHTED requires weights")
		return CompiledAction{}, ActionDocument{}
	}
	names := make([]string, 0, len(ad.Weights))
	for name := range ad.Weights {
		names = append(names, name)
	}
	sort.Strings(names)

	valid := true
	var sum int64
	for _, name := range names {
		w := ad.Weights[name]
		switch {
		case w < 0:
			rc.errs.add(childPath(weightsPath, name), CodeNegativeWeight, "weight must be non-negative")
			valid = false
		case w > MaxWeight:
			rc.errs.add(childPath(weightsPath, name), CodeWeightTooLarge, "weight must be at most %d", MaxWeight)
			valid = false
		case sum > math.MaxInt64-w:
			rc.errs.add(weightsPath, CodeWeightTooLarge, "weights sum exceeds %d", int64(math.MaxInt64))
			valid = false
		default:
			sum += w
		}
		if _, ok := rc.known[name]; !ok {
			rc.errs.add(childPath(weightsPath, name), CodeUnknownGateway, "gateway %q is not declared in gateways", name)
			valid = false
		}
	}
	if valid && sum <= 0 {
		rc.errs.add(weightsPath, CodeWeightsSumZero, "weights must sum to a positive value")
		valid = false
	}
	if !valid {
		return CompiledAction{}, ActionDocument{}
	}

	action := CompiledAction{
		Kind:     ActionWeighted,
		StickyBy: strings.TrimSpace(ad.StickyBy),
		entries:  normalizeWeights(ad.Weights),
	}
	return action, ActionDocument{Route: "WEIGHTED", Weights: action.weights(), StickyBy: action.StickyBy}
}

// requireField fetches the mandatory "field" parameter of leaf matchers.
func (rc *ruleCompiler) requireField(obj map[string]json.RawMessage, path string) string {
	raw, ok := requireKey(rc.errs, obj, "field", path)
	if !ok {
		return ""
	}
	s, ok := wantString(rc.errs, raw, childPath(path, "field"))
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		rc.errs.add(childPath(path, "field"), CodeBadType, "field must be a non-empty string")
	}
	return s
}

// literalScalar decodes one VALUE_IN literal. Only strings and numbers
// are scalar in the document grammar; numbers keep their exact text.
func literalScalar(raw json.RawMessage) (Scalar, any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Scalar{}, nil, false
	}
	switch tv := v.(type) {
	case string:
		return StringValue(tv), tv, true
	case json.Number:
		sc, ok := toScalar(tv)
		if !ok {
			return Scalar{}, nil, false
		}
		return sc, tv, true
	}
	return Scalar{}, nil, false
}

// wantDecimal accepts decimal bounds as strings or bare numbers; either
// way the exact text is parsed, never a binary float.
func wantDecimal(c *errCollector, raw json.RawMessage, path string) (decimal.Decimal, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		c.add(path, CodeBadDecimal, "expected a decimal string")
		return decimal.Decimal{}, false
	}
	var text string
	switch tv := v.(type) {
	case string:
		text = strings.TrimSpace(tv)
	case json.Number:
		text = tv.String()
	default:
		c.add(path, CodeBadDecimal, "expected a decimal string")
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		c.add(path, CodeBadDecimal, "%q is not a valid decimal", text)
		return decimal.Decimal{}, false
	}
	return d, true
}

func isJSONNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func dedupeStrings(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i > 0 && sorted[i-1] == s {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
