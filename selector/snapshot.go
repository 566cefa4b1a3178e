package selector

import (
	"sort"
	"time"
)

// Rule is one compiled (priority, matcher, action) triple.
type Rule struct {
	ID       int64
	Priority int64
	Matcher  Matcher
	Action   CompiledAction
}

// Snapshot is the compiled, immutable form of a ruleset. Nothing in it
// changes after Compile returns; replacement is always whole, never in
// place, so concurrent readers need no locks.
type Snapshot struct {
	ID             int64
	Version        int64
	Name           string
	DefaultGateway string
	CompiledAt     time.Time

	rules      []Rule
	known      map[string]struct{}
	stickySalt string
	debug      bool
	doc        *Document
}

// RuleCount reports how many enabled rules survived compilation.
func (s *Snapshot) RuleCount() int { return len(s.rules) }

// Debug reports whether the snapshot was compiled with tracing.
func (s *Snapshot) Debug() bool { return s.debug }

// KnownGateways returns the closed world of gateway names, sorted.
func (s *Snapshot) KnownGateways() []string {
	out := make([]string, 0, len(s.known))
	for name := range s.known {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Export returns the canonical document form of the snapshot: aliases
// expanded, weights normalized, disabled rules dropped, rules in
// priority order. Compiling the export yields identical decisions.
func (s *Snapshot) Export() *Document {
	return s.doc.clone()
}
