package selector

import (
	"math"
	"sort"
)

// ActionKind tags a compiled action.
type ActionKind uint8

const (
	ActionFixed ActionKind = iota + 1
	ActionWeighted
	ActionDeny
)

func (k ActionKind) String() string {
	switch k {
	case ActionFixed:
		return "FIXED"
	case ActionWeighted:
		return "WEIGHTED"
	case ActionDeny:
		return "DENY"
	}
	return "UNKNOWN"
}

// WeightTotal is the fixed cumulative total weighted entries normalize
// to at compile time (basis points).
const WeightTotal int64 = 10_000

// MaxWeight bounds one raw weight so share arithmetic stays within
// int64. Larger weights are rejected at compile.
const MaxWeight = math.MaxInt64 / WeightTotal

type weightedEntry struct {
	gateway string
	weight  int64
	cum     int64
}

// CompiledAction is the pre-validated decision payload of one rule.
// Weighted entries are sorted by gateway name and stored cumulatively so
// bucket lookup is a binary search and sticky hashing is stable across
// compiles.
type CompiledAction struct {
	Kind     ActionKind
	Gateway  string
	Reason   string
	StickyBy string
	entries  []weightedEntry
}

// pick resolves a weighted action for a bucket h in [0, WeightTotal):
// the first entry whose cumulative weight exceeds h.
func (a *CompiledAction) pick(h int64) string {
	idx := sort.Search(len(a.entries), func(i int) bool { return a.entries[i].cum > h })
	if idx >= len(a.entries) {
		idx = len(a.entries) - 1
	}
	return a.entries[idx].gateway
}

// weights returns the normalized per-gateway buckets for export.
func (a *CompiledAction) weights() map[string]int64 {
	out := make(map[string]int64, len(a.entries))
	for _, e := range a.entries {
		out[e.gateway] = e.weight
	}
	return out
}

// normalizeWeights scales raw weights onto WeightTotal using the
// largest-remainder method: every entry gets the floor of its exact
// share, then leftover units go to the largest fractional remainders,
// ties broken by gateway name ascending. Entries that normalize to zero
// are dropped. Callers guarantee sum > 0, no negative weights, and
// every weight at most MaxWeight.
func normalizeWeights(raw map[string]int64) []weightedEntry {
	names := make([]string, 0, len(raw))
	var sum int64
	for name, w := range raw {
		names = append(names, name)
		sum += w
	}
	sort.Strings(names)

	type share struct {
		name   string
		floor  int64
		remain int64
	}
	shares := make([]share, 0, len(names))
	var floored int64
	for _, name := range names {
		w := raw[name]
		shares = append(shares, share{
			name:   name,
			floor:  w * WeightTotal / sum,
			remain: w * WeightTotal % sum,
		})
		floored += w * WeightTotal / sum
	}

	leftover := WeightTotal - floored
	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	// shares is already name-ascending; a stable sort keeps that order
	// among equal remainders.
	sort.SliceStable(order, func(a, b int) bool {
		return shares[order[a]].remain > shares[order[b]].remain
	})
	for i := int64(0); i < leftover; i++ {
		shares[order[i]].floor++
	}

	entries := make([]weightedEntry, 0, len(shares))
	var cum int64
	for _, s := range shares {
		if s.floor == 0 {
			continue
		}
		cum += s.floor
		entries = append(entries, weightedEntry{gateway: s.name, weight: s.floor, cum: cum})
	}
	return entries
}
