package grouping

import (
	"sort"

	"imagedupes/logging"
	"imagedupes/matching"
	"imagedupes/progress"
	"imagedupes/types"
)

// aspectRatioSpread is the maximum factor two aspect ratios may differ by
// before the pair is considered trivially incompatible and skipped.
const aspectRatioSpread = 2.0

// cancelCheckInterval bounds how many pairs are compared between
// cancellation checks.
const cancelCheckInterval = 1024

// Engine clusters records into duplicate groups from pairwise match
// decisions. It depends only on the Matcher interface, never on a concrete
// detection strategy.
type Engine struct {
	matchers []matching.Matcher
}

// NewEngine creates a grouping engine over the given strategy set.
func NewEngine(matchers []matching.Matcher) *Engine {
	return &Engine{matchers: matchers}
}

// Build forms duplicate groups via union-find over the candidate-pair graph.
// Given identical records and matchers the output is identical across runs:
// members are ordered by path and group ids follow ascending order of each
// group's lexicographically smallest member path.
func (e *Engine) Build(records []*types.ImageRecord, coord *progress.Coordinator) []*types.DuplicateGroup {
	// Only valid, fingerprinted records participate.
	candidates := make([]*types.ImageRecord, 0, len(records))
	for _, rec := range records {
		if rec.Valid && rec.ContentHash != "" {
			candidates = append(candidates, rec)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Path < candidates[j].Path })

	uf := newUnionFind(len(candidates))

	// Byte-identical files short-circuit the pairwise comparison: equal
	// content fingerprints always connect as exact with score 1.
	byContent := make(map[string]int)
	for i, rec := range candidates {
		if first, ok := byContent[rec.ContentHash]; ok {
			uf.connect(first, i, 1.0, true)
		} else {
			byContent[rec.ContentHash] = i
		}
	}

	// Pairwise candidate comparison, restricted to compatible aspect
	// ratios to stay below the naive cross-product.
	coord.SetTotal(int64(len(candidates)))
	pairsSinceCheck := 0
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			pairsSinceCheck++
			if pairsSinceCheck >= cancelCheckInterval {
				pairsSinceCheck = 0
				if coord.Cancelled() {
					return nil
				}
			}

			a, b := candidates[i], candidates[j]
			if a.ContentHash == b.ContentHash {
				continue // already connected above
			}
			if !aspectCompatible(a, b) {
				continue
			}

			matched, exact, score := e.matchPair(a, b)
			if matched {
				uf.connect(i, j, score, exact)
			}
		}
		coord.Step(1)
		if coord.Cancelled() {
			return nil
		}
	}

	groups := e.collect(candidates, uf)
	logging.DebugLog("Grouping produced %d groups from %d candidates", len(groups), len(candidates))
	return groups
}

// matchPair runs every strategy over one pair. The pair matches when any
// strategy's distance is at or below its cutoff (boundary inclusive); the
// connection is exact-tier when an exact-tier strategy passed, and its score
// is the best similarity among passing strategies.
func (e *Engine) matchPair(a, b *types.ImageRecord) (matched bool, exact bool, score float64) {
	for _, m := range e.matchers {
		d, ok := m.Distance(a, b)
		if !ok || d > m.Cutoff() {
			continue
		}
		matched = true
		if m.Kind() == types.MatchExact {
			exact = true
		}
		if s := m.Similarity(d); s > score {
			score = s
		}
	}
	return matched, exact, score
}

// collect turns the connected components of size >= 2 into groups.
func (e *Engine) collect(candidates []*types.ImageRecord, uf *unionFind) []*types.DuplicateGroup {
	componentMembers := make(map[int][]int)
	for i := range candidates {
		root := uf.find(i)
		componentMembers[root] = append(componentMembers[root], i)
	}

	var roots []int
	for root, members := range componentMembers {
		if len(members) >= 2 {
			roots = append(roots, root)
		}
	}
	// Candidate indices are path-sorted, so ordering components by their
	// smallest member index orders them by smallest member path.
	sort.Slice(roots, func(i, j int) bool {
		return componentMembers[roots[i]][0] < componentMembers[roots[j]][0]
	})

	groups := make([]*types.DuplicateGroup, 0, len(roots))
	for n, root := range roots {
		members := componentMembers[root]
		group := &types.DuplicateGroup{
			ID:    n + 1,
			Kind:  types.MatchSimilar,
			Score: uf.minScore[root],
		}
		if uf.allExact[root] {
			group.Kind = types.MatchExact
		}
		for _, idx := range members {
			group.Members = append(group.Members, candidates[idx])
		}
		groups = append(groups, group)
	}
	return groups
}

// aspectCompatible rules out pairs whose shapes make a match implausible.
// Records with unknown dimensions are never ruled out.
func aspectCompatible(a, b *types.ImageRecord) bool {
	if a.Width <= 0 || a.Height <= 0 || b.Width <= 0 || b.Height <= 0 {
		return true
	}
	ra := float64(a.Width) / float64(a.Height)
	rb := float64(b.Width) / float64(b.Height)
	if ra < rb {
		ra, rb = rb, ra
	}
	return ra/rb <= aspectRatioSpread
}

// unionFind tracks connected components along with the minimum connection
// score and whether every connection in the component was exact-tier.
type unionFind struct {
	parent   []int
	rank     []int
	minScore []float64
	allExact []bool
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent:   make([]int, n),
		rank:     make([]int, n),
		minScore: make([]float64, n),
		allExact: make([]bool, n),
	}
	for i := 0; i < n; i++ {
		uf.parent[i] = i
		uf.minScore[i] = 1.0
		uf.allExact[i] = true
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

// connect records an edge between a and b with the given score and tier,
// merging their components when separate.
func (uf *unionFind) connect(a, b int, score float64, exact bool) {
	ra, rb := uf.find(a), uf.find(b)

	if ra == rb {
		// Extra edge inside one component still tightens its aggregate.
		if score < uf.minScore[ra] {
			uf.minScore[ra] = score
		}
		uf.allExact[ra] = uf.allExact[ra] && exact
		return
	}

	minScore := uf.minScore[ra]
	if uf.minScore[rb] < minScore {
		minScore = uf.minScore[rb]
	}
	if score < minScore {
		minScore = score
	}
	allExact := uf.allExact[ra] && uf.allExact[rb] && exact

	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
	uf.minScore[ra] = minScore
	uf.allExact[ra] = allExact
}
