package selector

import "time"

// TraceEvent records one matcher evaluation during a debug-compiled
// snapshot. It carries the node's document path and outcome, never any
// context value.
type TraceEvent struct {
	Path    string
	Kind    string
	Matched bool
	Elapsed time.Duration
}

// TraceFunc receives matcher evaluation records. Implementations must be
// safe for concurrent use; selection may run from many goroutines.
type TraceFunc func(TraceEvent)

// tracedMatcher decorates a matcher with evaluation tracing. It exists
// only in snapshots compiled with WithDebug; plain compiles carry no
// wrapper and pay no overhead.
type tracedMatcher struct {
	inner Matcher
	path  string
	trace TraceFunc
}

func (m *tracedMatcher) Matches(ev Eval) bool {
	start := time.Now()
	matched := m.inner.Matches(ev)
	m.trace(TraceEvent{
		Path:    m.path,
		Kind:    m.inner.Kind(),
		Matched: matched,
		Elapsed: time.Since(start),
	})
	return matched
}

func (m *tracedMatcher) Kind() string { return m.inner.Kind() }
