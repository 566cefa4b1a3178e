package selector

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
)

// Document is the wire form of a ruleset. ParseDocument produces it from
// JSON; Snapshot.Export produces the canonical compiled form.
type Document struct {
	ID             int64          `json:"id"`
	Version        int64          `json:"version"`
	Name           string         `json:"name,omitempty"`
	StickySalt     string         `json:"sticky_salt,omitempty"`
	DefaultGateway string         `json:"default_gateway,omitempty"`
	Gateways       []string       `json:"gateways"`
	Rules          []RuleDocument `json:"rules"`
}

// RuleDocument is one rule in document form. Condition holds the raw
// condition_json subtree for ADVANCED rules; ConditionValue holds the
// alias scalar (string or json.Number) for the other condition types.
type RuleDocument struct {
	ID             int64           `json:"id"`
	Priority       int64           `json:"priority"`
	Enabled        bool            `json:"enabled"`
	ConditionType  string          `json:"condition_type"`
	ConditionValue any             `json:"condition_value,omitempty"`
	Condition      json.RawMessage `json:"condition_json,omitempty"`
	Action         ActionDocument  `json:"action"`
}

// ActionDocument is the document form of a rule action.
type ActionDocument struct {
	Route      string           `json:"route"`
	Gateway    string           `json:"gateway,omitempty"`
	Weights    map[string]int64 `json:"weights,omitempty"`
	StickyBy   string           `json:"sticky_by,omitempty"`
	ReasonCode string           `json:"reason_code,omitempty"`
}

// JSON renders the document in its canonical wire form. Weight maps
// marshal with sorted keys, so output is deterministic.
func (d *Document) JSON() ([]byte, error) {
	return json.Marshal(d)
}

func (d *Document) clone() *Document {
	out := *d
	out.Gateways = append([]string(nil), d.Gateways...)
	out.Rules = make([]RuleDocument, len(d.Rules))
	for i, r := range d.Rules {
		cr := r
		cr.Condition = append(json.RawMessage(nil), r.Condition...)
		cr.Action.Weights = nil
		if r.Action.Weights != nil {
			cr.Action.Weights = make(map[string]int64, len(r.Action.Weights))
			for k, v := range r.Action.Weights {
				cr.Action.Weights[k] = v
			}
		}
		out.Rules[i] = cr
	}
	return &out
}

var documentKeys = map[string]struct{}{
	"id": {}, "version": {}, "name": {}, "sticky_salt": {},
	"default_gateway": {}, "gateways": {}, "rules": {},
}

var ruleKeys = map[string]struct{}{
	"id": {}, "priority": {}, "enabled": {}, "condition_type": {},
	"condition_value": {}, "condition_json": {}, "action": {},
}

var actionKeys = map[string]struct{}{
	"route": {}, "gateway": {}, "weights": {}, "sticky_by": {}, "reason_code": {},
}

// ParseDocument decodes ruleset JSON into a Document, validating shape:
// required keys present, value types correct, no unknown keys. All
// structural errors are collected; semantic validation happens in
// Compile.
func ParseDocument(data []byte) (*Document, error) {
	var c errCollector
	root, ok := decodeObject(&c, data, "")
	if !ok {
		return nil, c.err()
	}
	rejectUnknownKeys(&c, root, documentKeys, "")

	doc := &Document{}
	if raw, ok := requireKey(&c, root, "id", ""); ok {
		doc.ID, _ = wantInt(&c, raw, "id")
	}
	if raw, ok := requireKey(&c, root, "version", ""); ok {
		doc.Version, _ = wantInt(&c, raw, "version")
	}
	if raw, ok := root["name"]; ok {
		doc.Name, _ = wantString(&c, raw, "name")
	}
	if raw, ok := root["sticky_salt"]; ok {
		doc.StickySalt, _ = wantString(&c, raw, "sticky_salt")
	}
	if raw, ok := root["default_gateway"]; ok {
		doc.DefaultGateway, _ = wantString(&c, raw, "default_gateway")
	}
	if raw, ok := requireKey(&c, root, "gateways", ""); ok {
		items, ok := wantArray(&c, raw, "gateways")
		if ok {
			doc.Gateways = make([]string, 0, len(items))
			for i, item := range items {
				if s, ok := wantString(&c, item, indexPath("", "gateways", i)); ok {
					doc.Gateways = append(doc.Gateways, s)
				}
			}
		}
	}
	if raw, ok := requireKey(&c, root, "rules", ""); ok {
		items, ok := wantArray(&c, raw, "rules")
		if ok {
			doc.Rules = make([]RuleDocument, 0, len(items))
			for i, item := range items {
				rule, ok := parseRule(&c, item, indexPath("", "rules", i))
				if ok {
					doc.Rules = append(doc.Rules, rule)
				}
			}
		}
	}
	if err := c.err(); err != nil {
		return nil, err
	}
	return doc, nil
}

func parseRule(c *errCollector, data json.RawMessage, path string) (RuleDocument, bool) {
	before := len(c.errs)
	obj, ok := decodeObject(c, data, path)
	if !ok {
		return RuleDocument{}, false
	}
	rejectUnknownKeys(c, obj, ruleKeys, path)

	rule := RuleDocument{Enabled: true}
	if raw, ok := requireKey(c, obj, "id", path); ok {
		rule.ID, _ = wantInt(c, raw, childPath(path, "id"))
	}
	if raw, ok := requireKey(c, obj, "priority", path); ok {
		rule.Priority, _ = wantInt(c, raw, childPath(path, "priority"))
	}
	if raw, ok := obj["enabled"]; ok {
		rule.Enabled, _ = wantBool(c, raw, childPath(path, "enabled"))
	}
	if raw, ok := requireKey(c, obj, "condition_type", path); ok {
		rule.ConditionType, _ = wantString(c, raw, childPath(path, "condition_type"))
	}
	if raw, ok := obj["condition_value"]; ok {
		rule.ConditionValue = parseConditionValue(c, raw, childPath(path, "condition_value"))
	}
	if raw, ok := obj["condition_json"]; ok {
		rule.Condition = append(json.RawMessage(nil), raw...)
	}
	if raw, ok := requireKey(c, obj, "action", path); ok {
		rule.Action, _ = parseAction(c, raw, childPath(path, "action"))
	}
	return rule, len(c.errs) == before
}

func parseAction(c *errCollector, data json.RawMessage, path string) (ActionDocument, bool) {
	before := len(c.errs)
	obj, ok := decodeObject(c, data, path)
	if !ok {
		return ActionDocument{}, false
	}
	rejectUnknownKeys(c, obj, actionKeys, path)

	action := ActionDocument{}
	if raw, ok := requireKey(c, obj, "route", path); ok {
		action.Route, _ = wantString(c, raw, childPath(path, "route"))
	}
	if raw, ok := obj["gateway"]; ok {
		action.Gateway, _ = wantString(c, raw, childPath(path, "gateway"))
	}
	if raw, ok := obj["sticky_by"]; ok {
		action.StickyBy, _ = wantString(c, raw, childPath(path, "sticky_by"))
	}
	if raw, ok := obj["reason_code"]; ok {
		action.ReasonCode, _ = wantString(c, raw, childPath(path, "reason_code"))
	}
	if raw, ok := obj["weights"]; ok {
		weightsPath := childPath(path, "weights")
		entries, ok := decodeObject(c, raw, weightsPath)
		if ok {
			action.Weights = make(map[string]int64, len(entries))
			for _, name := range sortedKeys(entries) {
				if w, ok := wantInt(c, entries[name], childPath(weightsPath, name)); ok {
					action.Weights[name] = w
				}
			}
		}
	}
	return action, len(c.errs) == before
}

// parseConditionValue accepts the alias scalar forms: string, integer,
// or null. Anything else is a structural error.
func parseConditionValue(c *errCollector, raw json.RawMessage, path string) any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		c.add(path, CodeBadType, "condition_value is not valid JSON")
		return nil
	}
	switch v.(type) {
	case nil, string, json.Number:
		return v
	}
	c.add(path, CodeBadType, "condition_value must be a string or integer scalar")
	return nil
}

func decodeObject(c *errCollector, data json.RawMessage, path string) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		c.add(path, CodeBadType, "expected a JSON object")
		return nil, false
	}
	return obj, true
}

func rejectUnknownKeys(c *errCollector, obj map[string]json.RawMessage, allowed map[string]struct{}, path string) {
	var unknown []string
	for key := range obj {
		if _, ok := allowed[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		c.add(childPath(path, key), CodeUnknownField, "unknown field %q", key)
	}
}

func requireKey(c *errCollector, obj map[string]json.RawMessage, key, path string) (json.RawMessage, bool) {
	raw, ok := obj[key]
	if !ok {
		c.add(childPath(path, key), CodeMissingField, "required field %q is missing", key)
		return nil, false
	}
	return raw, true
}

func wantInt(c *errCollector, raw json.RawMessage, path string) (int64, bool) {
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		c.add(path, CodeBadType, "expected an integer")
		return 0, false
	}
	return v, true
}

func wantString(c *errCollector, raw json.RawMessage, path string) (string, bool) {
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		c.add(path, CodeBadType, "expected a string")
		return "", false
	}
	return v, true
}

func wantBool(c *errCollector, raw json.RawMessage, path string) (bool, bool) {
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		c.add(path, CodeBadType, "expected a boolean")
		return false, false
	}
	return v, true
}

func wantArray(c *errCollector, raw json.RawMessage, path string) ([]json.RawMessage, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		c.add(path, CodeBadType, "expected an array")
		return nil, false
	}
	return items, true
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatScalar(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case json.Number:
		return tv.String()
	case int:
		return strconv.Itoa(tv)
	case int64:
		return strconv.FormatInt(tv, 10)
	}
	return ""
}
