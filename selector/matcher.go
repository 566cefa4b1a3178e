package selector

import "time"

// Eval carries one selection's inputs across matcher evaluation. Now is
// resolved once at selection start so every TIME_WINDOW in a snapshot
// observes the same instant.
type Eval struct {
	Ctx Context
	Now time.Time
}

// Matcher is a compiled, thread-safe predicate over a request context.
// Implementations hold no mutable state and never fail: missing fields
// and coercion errors evaluate to false.
type Matcher interface {
	Matches(ev Eval) bool
	Kind() string
}

type constMatcher struct {
	result bool
}

func (m constMatcher) Matches(Eval) bool { return m.result }

func (m constMatcher) Kind() string {
	if m.result {
		return "CONST_TRUE"
	}
	return "CONST_FALSE"
}

// allMatcher is short-circuit AND. An empty child list matches.
type allMatcher struct {
	children []Matcher
}

func (m *allMatcher) Matches(ev Eval) bool {
	for _, c := range m.children {
		if !c.Matches(ev) {
			return false
		}
	}
	return true
}

func (m *allMatcher) Kind() string { return "ALL" }

// anyMatcher is short-circuit OR. An empty child list does not match.
type anyMatcher struct {
	children []Matcher
}

func (m *anyMatcher) Matches(ev Eval) bool {
	for _, c := range m.children {
		if c.Matches(ev) {
			return true
		}
	}
	return false
}

func (m *anyMatcher) Kind() string { return "ANY" }

// noneMatcher matches iff every child fails. An empty child list matches.
type noneMatcher struct {
	children []Matcher
}

func (m *noneMatcher) Matches(ev Eval) bool {
	for _, c := range m.children {
		if c.Matches(ev) {
			return false
		}
	}
	return true
}

func (m *noneMatcher) Kind() string { return "NONE" }

// newAll builds the AND composite, flattening nested ALL nodes and
// folding constants. Folding is skipped entirely when debug tracing is
// on so the traced tree mirrors the document.
func newAll(children []Matcher) Matcher {
	flat := make([]Matcher, 0, len(children))
	for _, c := range children {
		if inner, ok := c.(*allMatcher); ok {
			flat = append(flat, inner.children...)
			continue
		}
		flat = append(flat, c)
	}
	out := make([]Matcher, 0, len(flat))
	for _, c := range flat {
		if k, ok := c.(constMatcher); ok {
			if !k.result {
				return constMatcher{result: false}
			}
			continue
		}
		out = append(out, c)
	}
	switch len(out) {
	case 0:
		return constMatcher{result: true}
	case 1:
		return out[0]
	}
	return &allMatcher{children: out}
}

func newAny(children []Matcher) Matcher {
	flat := make([]Matcher, 0, len(children))
	for _, c := range children {
		if inner, ok := c.(*anyMatcher); ok {
			flat = append(flat, inner.children...)
			continue
		}
		flat = append(flat, c)
	}
	out := make([]Matcher, 0, len(flat))
	for _, c := range flat {
		if k, ok := c.(constMatcher); ok {
			if k.result {
				return constMatcher{result: true}
			}
			continue
		}
		out = append(out, c)
	}
	switch len(out) {
	case 0:
		return constMatcher{result: false}
	case 1:
		return out[0]
	}
	return &anyMatcher{children: out}
}

func newNone(children []Matcher) Matcher {
	out := make([]Matcher, 0, len(children))
	for _, c := range children {
		if k, ok := c.(constMatcher); ok {
			if k.result {
				return constMatcher{result: false}
			}
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return constMatcher{result: true}
	}
	return &noneMatcher{children: out}
}
