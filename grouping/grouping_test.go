package grouping

import (
	"testing"

	"imagedupes/config"
	"imagedupes/matching"
	"imagedupes/progress"
	"imagedupes/types"
)

func record(path, contentHash, perceptualHash string) *types.ImageRecord {
	return &types.ImageRecord{
		Path:           path,
		ContentHash:    contentHash,
		PerceptualHash: perceptualHash,
		Valid:          true,
	}
}

func buildGroups(t *testing.T, level int, records []*types.ImageRecord) []*types.DuplicateGroup {
	t.Helper()
	th := matching.MapStrictness(level)
	engine := NewEngine(matching.Matchers(th, false))
	return engine.Build(records, progress.NewCoordinator())
}

// Hamming distances between the three hashes below: a-b is 3, b-c is 3,
// a-c is 6. At the default cutoff of 5 only the a-b and b-c edges match,
// and transitivity still puts all three in one group.
const (
	hashA = "0000000000000000"
	hashB = "0700000000000000"
	hashC = "0700000000000007"
)

func TestBuildTransitiveGroup(t *testing.T) {
	records := []*types.ImageRecord{
		record("/p/a.jpg", "c1", hashA),
		record("/p/b.jpg", "c2", hashB),
		record("/p/c.jpg", "c3", hashC),
	}

	groups := buildGroups(t, config.StrictnessNormal, records)
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if got := len(groups[0].Members); got != 3 {
		t.Errorf("group has %d members, want 3", got)
	}
	if groups[0].ID != 1 {
		t.Errorf("group id = %d, want 1", groups[0].ID)
	}
	if groups[0].Kind != types.MatchExact {
		t.Errorf("group kind = %s, want %s", groups[0].Kind, types.MatchExact)
	}
}

func TestBuildStricterLevelSplitsGroup(t *testing.T) {
	records := []*types.ImageRecord{
		record("/p/a.jpg", "c1", hashA),
		record("/p/b.jpg", "c2", hashB),
		record("/p/c.jpg", "c3", hashC),
	}

	// Cutoff 2 admits no edge at all.
	groups := buildGroups(t, config.StrictnessStrict, records)
	if len(groups) != 0 {
		t.Fatalf("strict level: got %d groups, want 0", len(groups))
	}
}

func TestBuildMonotonicAcrossStrictness(t *testing.T) {
	records := []*types.ImageRecord{
		record("/p/a.jpg", "c1", hashA),
		record("/p/b.jpg", "c2", hashB),
		record("/p/c.jpg", "c3", hashC),
	}

	prev := 0
	for level := config.StrictnessVeryStrict; level <= config.StrictnessVeryLoose; level++ {
		grouped := 0
		for _, g := range buildGroups(t, level, records) {
			grouped += len(g.Members)
		}
		if grouped < prev {
			t.Errorf("level %d groups fewer records (%d) than stricter level (%d)", level, grouped, prev)
		}
		prev = grouped
	}
}

func TestBuildContentEqualAlwaysMatches(t *testing.T) {
	// Identical bytes, wildly different perceptual hashes. Even the
	// strictest level groups them, as exact with score 1.
	records := []*types.ImageRecord{
		record("/p/a.jpg", "same", hashA),
		record("/p/b.jpg", "same", "ffffffffffffffff"),
	}

	groups := buildGroups(t, config.StrictnessVeryStrict, records)
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if groups[0].Kind != types.MatchExact {
		t.Errorf("group kind = %s, want %s", groups[0].Kind, types.MatchExact)
	}
	if groups[0].Score != 1 {
		t.Errorf("group score = %v, want 1", groups[0].Score)
	}
}

func TestBuildBoundaryDistanceMatches(t *testing.T) {
	// Exactly at the cutoff: distance 5 against MaxHamming 5 must match.
	records := []*types.ImageRecord{
		record("/p/a.jpg", "c1", "0000000000000000"),
		record("/p/b.jpg", "c2", "1f00000000000000"),
	}

	groups := buildGroups(t, config.StrictnessNormal, records)
	if len(groups) != 1 {
		t.Fatalf("boundary distance: got %d groups, want 1", len(groups))
	}
}

func TestBuildDeterministicOutput(t *testing.T) {
	makeRecords := func() []*types.ImageRecord {
		return []*types.ImageRecord{
			record("/p/z.jpg", "c1", hashA),
			record("/p/a.jpg", "c2", hashB),
			record("/p/m.jpg", "c3", "ffffffffffffffff"),
			record("/p/n.jpg", "c4", "ffffffffffffff00"),
		}
	}

	first := buildGroups(t, config.StrictnessVeryLoose, makeRecords())
	second := buildGroups(t, config.StrictnessVeryLoose, makeRecords())

	if len(first) != len(second) {
		t.Fatalf("group counts differ across runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("group %d id differs: %d vs %d", i, first[i].ID, second[i].ID)
		}
		if len(first[i].Members) != len(second[i].Members) {
			t.Fatalf("group %d member counts differ", i)
		}
		for j := range first[i].Members {
			if first[i].Members[j].Path != second[i].Members[j].Path {
				t.Errorf("group %d member %d differs: %s vs %s",
					i, j, first[i].Members[j].Path, second[i].Members[j].Path)
			}
		}
	}
}

func TestBuildGroupIDsFollowSmallestMemberPath(t *testing.T) {
	// Two disjoint pairs. The group containing /p/a.jpg must get id 1
	// regardless of input order.
	records := []*types.ImageRecord{
		record("/p/z.jpg", "c1", "ffffffffffffffff"),
		record("/p/y.jpg", "c2", "ffffffffffffff00"),
		record("/p/a.jpg", "c3", hashA),
		record("/p/b.jpg", "c4", hashB),
	}

	groups := buildGroups(t, config.StrictnessLoose, records)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if got := groups[0].Members[0].Path; got != "/p/a.jpg" {
		t.Errorf("group 1 smallest member = %s, want /p/a.jpg", got)
	}
	if got := groups[1].Members[0].Path; got != "/p/y.jpg" {
		t.Errorf("group 2 smallest member = %s, want /p/y.jpg", got)
	}
}

func TestBuildSkipsInvalidRecords(t *testing.T) {
	bad := record("/p/bad.jpg", "", "")
	bad.Valid = false
	records := []*types.ImageRecord{
		record("/p/a.jpg", "c1", hashA),
		record("/p/b.jpg", "c2", hashB),
		bad,
		record("/p/nohash.jpg", "", hashA),
	}

	groups := buildGroups(t, config.StrictnessNormal, records)
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if got := len(groups[0].Members); got != 2 {
		t.Errorf("group has %d members, want 2", got)
	}
}

func TestBuildAspectIncompatiblePairSkipped(t *testing.T) {
	a := record("/p/a.jpg", "c1", hashA)
	a.Width, a.Height = 3000, 1000
	b := record("/p/b.jpg", "c2", hashA)
	b.Width, b.Height = 1000, 3000

	groups := buildGroups(t, config.StrictnessNormal, []*types.ImageRecord{a, b})
	if len(groups) != 0 {
		t.Fatalf("incompatible aspect ratios: got %d groups, want 0", len(groups))
	}
}

func TestBuildCancellation(t *testing.T) {
	coord := progress.NewCoordinator()
	coord.Cancel()

	th := matching.MapStrictness(config.StrictnessNormal)
	engine := NewEngine(matching.Matchers(th, false))
	groups := engine.Build([]*types.ImageRecord{
		record("/p/a.jpg", "c1", hashA),
		record("/p/b.jpg", "c2", hashB),
	}, coord)
	if groups != nil {
		t.Errorf("cancelled build returned %d groups, want nil", len(groups))
	}
}
