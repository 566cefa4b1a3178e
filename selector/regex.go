package selector

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// regexFlags maps document flag names onto RE2 inline flags. RE2 has no
// ASCII or VERBOSE equivalents; unsupported names fail compilation.
var regexFlags = map[string]string{
	"IGNORECASE": "i",
	"MULTILINE":  "m",
	"DOTALL":     "s",
}

// regexFlagPrefix builds the inline-flag group for a flag list. The
// second return names the first unsupported flag, empty when all map.
func regexFlagPrefix(flags []string) (string, string) {
	if len(flags) == 0 {
		return "", ""
	}
	letters := make([]string, 0, len(flags))
	for _, f := range flags {
		letter, ok := regexFlags[f]
		if !ok {
			return "", f
		}
		letters = append(letters, letter)
	}
	sort.Strings(letters)
	return "(?" + strings.Join(letters, "") + ")", ""
}

// regexPattern assembles the final RE2 source. search is unanchored,
// match pins the start, fullmatch pins both ends.
func regexPattern(pattern, mode, prefix string) string {
	switch mode {
	case "match":
		return prefix + `\A(?:` + pattern + `)`
	case "fullmatch":
		return prefix + `\A(?:` + pattern + `)\z`
	}
	return prefix + pattern
}

// regexMatcher applies a pre-compiled pattern to the string form of the
// field value. Inputs longer than maxLen runes never reach the engine.
type regexMatcher struct {
	field  string
	re     *regexp.Regexp
	maxLen int
	lower  bool
}

func (m *regexMatcher) Matches(ev Eval) bool {
	v, ok := ev.Ctx.Lookup(m.field)
	if !ok {
		return false
	}
	s := v.String()
	if m.lower {
		s = strings.ToLower(s)
	}
	if utf8.RuneCountInString(s) > m.maxLen {
		return false
	}
	return m.re.MatchString(s)
}

func (m *regexMatcher) Kind() string { return "REGEX" }
