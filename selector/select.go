package selector

import (
	"encoding/binary"
	"encoding/hex"
	"hash/fnv"
	"math/rand/v2"
	"time"

	"lukechampine.com/blake3"
)

// DecisionKind enumerates selection outcomes.
type DecisionKind uint8

const (
	DecisionRouted DecisionKind = iota + 1
	DecisionDenied
	DecisionDefaulted
	DecisionNoMatch
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionRouted:
		return "routed"
	case DecisionDenied:
		return "denied"
	case DecisionDefaulted:
		return "defaulted"
	case DecisionNoMatch:
		return "no_match"
	}
	return "unknown"
}

// Decision is the outcome of one selection. RuleID identifies the
// matched rule for routed and denied outcomes and is zero otherwise.
type Decision struct {
	Kind    DecisionKind
	Gateway string
	Reason  string
	RuleID  int64
}

// Event is the non-PII record emitted once per selection. Fingerprint
// correlates a payer across decisions without exposing raw identifiers.
type Event struct {
	RulesetID   int64
	Version     int64
	RuleID      int64
	Kind        DecisionKind
	Gateway     string
	Latency     time.Duration
	Fingerprint string
}

type selectOptions struct {
	now time.Time
	rng *rand.Rand
}

// SelectOption customizes one selection call.
type SelectOption func(*selectOptions)

// WithNow fixes the evaluation instant. Without it the selector uses
// ctx.now when present, then the wall clock.
func WithNow(now time.Time) SelectOption {
	return func(o *selectOptions) { o.now = now }
}

// WithRand injects the random source used for non-sticky weighted
// resolution, letting tests pin distributions.
func WithRand(rng *rand.Rand) SelectOption {
	return func(o *selectOptions) { o.rng = rng }
}

// Select evaluates the snapshot against ctx: rules in ascending
// priority order, first match wins, default gateway when nothing
// matches. Selection never fails on ruleset content; matcher anomalies
// evaluate as non-matches.
func (s *Snapshot) Select(ctx Context, opts ...SelectOption) Decision {
	var o selectOptions
	for _, opt := range opts {
		opt(&o)
	}
	now := o.now
	if now.IsZero() {
		if v, ok := ctx.Lookup("now"); ok {
			if t, tok := v.AsTime(); tok {
				now = t
			}
		}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ev := Eval{Ctx: ctx, Now: now}
	for i := range s.rules {
		r := &s.rules[i]
		if !r.Matcher.Matches(ev) {
			continue
		}
		switch r.Action.Kind {
		case ActionFixed:
			return Decision{Kind: DecisionRouted, Gateway: r.Action.Gateway, RuleID: r.ID}
		case ActionWeighted:
			return Decision{Kind: DecisionRouted, Gateway: s.resolveWeighted(&r.Action, ctx, o.rng), RuleID: r.ID}
		default:
			return Decision{Kind: DecisionDenied, Reason: r.Action.Reason, RuleID: r.ID}
		}
	}
	if s.DefaultGateway != "" {
		return Decision{Kind: DecisionDefaulted, Gateway: s.DefaultGateway}
	}
	return Decision{Kind: DecisionNoMatch}
}

// resolveWeighted picks the gateway for a weighted action: sticky-hashed
// when the sticky field is present in ctx, uniform random otherwise.
func (s *Snapshot) resolveWeighted(a *CompiledAction, ctx Context, rng *rand.Rand) string {
	if a.StickyBy != "" {
		if v, ok := ctx.Lookup(a.StickyBy); ok {
			return a.pick(stickyBucket(s.stickySalt, v.String()))
		}
	}
	if rng != nil {
		return a.pick(rng.Int64N(WeightTotal))
	}
	return a.pick(rand.Int64N(WeightTotal))
}

// stickyBucket maps a sticky value onto [0, WeightTotal): FNV-1a 64
// over the value's canonical string bytes, prefixed by "salt:" when the
// ruleset carries a sticky salt. The hash is frozen; stickiness across
// snapshot generations depends on it.
func stickyBucket(salt, value string) int64 {
	h := fnv.New64a()
	if salt != "" {
		h.Write([]byte(salt))
		h.Write([]byte{':'})
	}
	h.Write([]byte(value))
	return int64(h.Sum64() % uint64(WeightTotal))
}

// Option configures a Selector.
type Option func(*Selector)

// OnDecision registers a hook invoked once per selection with non-PII
// metadata. Hooks run on the selection goroutine; keep them fast.
func OnDecision(fn func(Event)) Option {
	return func(s *Selector) { s.hooks = append(s.hooks, fn) }
}

// Selector evaluates the registry's active snapshot and emits decision
// events to registered hooks.
type Selector struct {
	registry *Registry
	hooks    []func(Event)
}

func New(registry *Registry, opts ...Option) *Selector {
	s := &Selector{registry: registry}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the selector's snapshot registry.
func (s *Selector) Registry() *Registry { return s.registry }

// Select runs one selection against the active snapshot. The only
// possible error is ErrNoActiveSnapshot.
func (s *Selector) Select(ctx Context, opts ...SelectOption) (Decision, error) {
	snap, err := s.registry.Current()
	if err != nil {
		return Decision{}, err
	}
	return s.SelectSnapshot(snap, ctx, opts...), nil
}

// SelectSnapshot runs one selection against a pinned snapshot, emitting
// decision events like Select.
func (s *Selector) SelectSnapshot(snap *Snapshot, ctx Context, opts ...SelectOption) Decision {
	start := time.Now()
	d := snap.Select(ctx, opts...)
	if len(s.hooks) > 0 {
		evt := Event{
			RulesetID:   snap.ID,
			Version:     snap.Version,
			RuleID:      d.RuleID,
			Kind:        d.Kind,
			Gateway:     d.Gateway,
			Latency:     time.Since(start),
			Fingerprint: Fingerprint(ctx),
		}
		for _, fn := range s.hooks {
			fn(evt)
		}
	}
	return d
}

// fingerprintFields are the identity fields whose values feed the
// decision-event fingerprint.
var fingerprintFields = [...]string{fieldAPIUserID, fieldPixKey}

// Fingerprint derives a stable correlation token from the identity
// fields of a context. Values are hashed length-delimited with BLAKE3;
// raw identifiers never appear in events.
func Fingerprint(ctx Context) string {
	h := blake3.New(16, nil)
	var buf [4]byte
	for _, field := range fingerprintFields {
		var payload []byte
		if v, ok := ctx.Lookup(field); ok {
			payload = []byte(v.String())
		}
		binary.BigEndian.PutUint32(buf[:], uint32(len(payload)))
		h.Write(buf[:])
		h.Write(payload)
	}
	return hex.EncodeToString(h.Sum(nil))
}
