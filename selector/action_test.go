package selector

import "testing"

func TestNormalizeWeightsExactSplit(t *testing.T) {
	entries := normalizeWeights(map[string]int64{"A": 70, "B": 30})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].gateway != "A" || entries[0].weight != 7000 || entries[0].cum != 7000 {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].gateway != "B" || entries[1].weight != 3000 || entries[1].cum != 10000 {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
}

func TestNormalizeWeightsLargestRemainder(t *testing.T) {
	entries := normalizeWeights(map[string]int64{"A": 1, "B": 1, "C": 1})
	got := map[string]int64{}
	var total int64
	for _, e := range entries {
		got[e.gateway] = e.weight
		total += e.weight
	}
	if total != WeightTotal {
		t.Fatalf("buckets sum to %d, want %d", total, WeightTotal)
	}
	if got["A"] != 3334 || got["B"] != 3333 || got["C"] != 3333 {
		t.Fatalf("leftover unit must go to the first name in a remainder tie, got %v", got)
	}
}

func TestNormalizeWeightsDropsZeroBuckets(t *testing.T) {
	entries := normalizeWeights(map[string]int64{"A": 1, "B": 99999})
	if len(entries) != 1 || entries[0].gateway != "B" || entries[0].weight != WeightTotal {
		t.Fatalf("vanishing share must be dropped, got %+v", entries)
	}
}

func TestNormalizeWeightsAtMaxWeight(t *testing.T) {
	entries := normalizeWeights(map[string]int64{"A": MaxWeight, "B": MaxWeight})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	if entries[0].weight != 5000 || entries[1].weight != 5000 || entries[1].cum != WeightTotal {
		t.Fatalf("weights at the bound must split evenly, got %+v", entries)
	}
}

func TestNormalizeWeightsIdentityWhenNormalized(t *testing.T) {
	in := map[string]int64{"A": 3334, "B": 3333, "C": 3333}
	for _, e := range normalizeWeights(in) {
		if e.weight != in[e.gateway] {
			t.Fatalf("normalizing normalized weights must be the identity, got %+v", e)
		}
	}
}

func TestPickBoundaries(t *testing.T) {
	a := CompiledAction{Kind: ActionWeighted, entries: normalizeWeights(map[string]int64{"A": 70, "B": 30})}
	cases := []struct {
		h    int64
		want string
	}{
		{0, "A"},
		{6999, "A"},
		{7000, "B"},
		{WeightTotal - 1, "B"},
	}
	for _, tc := range cases {
		if got := a.pick(tc.h); got != tc.want {
			t.Fatalf("pick(%d) = %q, want %q", tc.h, got, tc.want)
		}
	}
}

func TestStickyBucketProperties(t *testing.T) {
	if stickyBucket("", "42") != stickyBucket("", "42") {
		t.Fatalf("bucket must be deterministic")
	}
	differs := false
	for i := 0; i < 100; i++ {
		v := string(rune('a'+i%26)) + "-user"
		b := stickyBucket("", v)
		if b < 0 || b >= WeightTotal {
			t.Fatalf("bucket %d out of range for %q", b, v)
		}
		if b != stickyBucket("pepper", v) {
			differs = true
		}
	}
	if !differs {
		t.Fatalf("salt must perturb bucket assignment")
	}
}
