package selector

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoActiveSnapshot is returned by selection entry points that run
// against a registry with no installed snapshot.
var ErrNoActiveSnapshot = errors.New("selector: no active snapshot")

// Compile error codes. Structural codes come from document shape,
// semantic codes from ruleset content.
const (
	CodeBadType            = "bad_type"
	CodeUnknownField       = "unknown_field"
	CodeMissingField       = "missing_field"
	CodeUnknownMatcher     = "unknown_matcher"
	CodeAmbiguousComposite = "ambiguous_composite"
	CodeUnknownGateway     = "unknown_gateway"
	CodeDuplicatePriority  = "duplicate_priority"
	CodeDuplicateRuleID    = "duplicate_rule_id"
	CodeDuplicateGateway   = "duplicate_gateway"
	CodeEmptyGateways      = "empty_gateways"
	CodeEmptyValues        = "empty_values"
	CodeBadCoerce          = "bad_coerce"
	CodeInvalidRegex       = "invalid_regex"
	CodeInvalidRegexFlag   = "invalid_regex_flag"
	CodeBadMode            = "bad_mode"
	CodeBadMaxLen          = "bad_max_len"
	CodeInvalidTimezone    = "invalid_timezone"
	CodeBadClock           = "bad_clock"
	CodeBadDayOfWeek       = "bad_day_of_week"
	CodeBadDecimal         = "bad_decimal"
	CodeBadRange           = "bad_range"
	CodeBadScale           = "bad_scale"
	CodeWeightsSumZero     = "weights_sum_zero"
	CodeNegativeWeight     = "negative_weight"
	CodeWeightTooLarge     = "weight_too_large"
	CodeBadRoute           = "bad_route"
	CodeEmptyReason        = "empty_reason"
	CodeInvalidPixKeyType  = "invalid_pix_key_type"
	CodeBadCondition       = "bad_condition"
)

// CompileError is one validation failure located by a JSON path into the
// ruleset document, e.g. "rules[3].condition_json.all[1].pattern".
type CompileError struct {
	Path    string
	Code    string
	Message string
}

func (e *CompileError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Path, e.Message, e.Code)
}

// CompileErrors aggregates every failure found while compiling one
// document. Compilation is best-effort: all errors are collected before
// the install is aborted.
type CompileErrors struct {
	Errors []*CompileError
}

func (e *CompileErrors) Error() string {
	switch len(e.Errors) {
	case 0:
		return "selector: compile failed"
	case 1:
		return "selector: " + e.Errors[0].Error()
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "selector: %d compile errors:", len(e.Errors))
		for _, ce := range e.Errors {
			b.WriteString("\n\t")
			b.WriteString(ce.Error())
		}
		return b.String()
	}
}

// errCollector accumulates compile errors in document order.
type errCollector struct {
	errs []*CompileError
}

func (c *errCollector) add(path, code, format string, args ...any) {
	c.errs = append(c.errs, &CompileError{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (c *errCollector) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return &CompileErrors{Errors: c.errs}
}

func childPath(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}

func indexPath(parent, field string, i int) string {
	return fmt.Sprintf("%s[%d]", childPath(parent, field), i)
}
