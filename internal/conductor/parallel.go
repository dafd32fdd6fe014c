package conductor

import (
	"sort"

	"github.com/rendis/conductor/pkg/schema"
)

// GroupByDepth inverts a depth assignment into per-depth node groups,
// sorted ascending by depth. Node order within a group follows graph
// declaration order for determinism. Equal depth is a candidate for
// concurrency, not a guarantee of independence; see
// SplitIntoIndependentGroups.
func GroupByDepth(g *schema.FlowGraph, depths map[string]int) []schema.ParallelGroup {
	byDepth := make(map[int][]string)
	for _, n := range g.Nodes {
		d, ok := depths[n.ID]
		if !ok {
			continue // cycle members carry no depth
		}
		byDepth[d] = append(byDepth[d], n.ID)
	}

	levels := make([]int, 0, len(byDepth))
	for d := range byDepth {
		levels = append(levels, d)
	}
	sort.Ints(levels)

	groups := make([]schema.ParallelGroup, 0, len(levels))
	for _, d := range levels {
		groups = append(groups, schema.ParallelGroup{Depth: d, NodeIDs: byDepth[d]})
	}
	return groups
}

// SplitIntoIndependentGroups partitions the given node ids into
// connected components: any direct edge between two of the ids, in
// either direction, joins their components. Each component must run
// sequentially internally; distinct components may run concurrently.
//
// Union-find over dense integer indices. The pairwise edge scan is
// O(n^2) in the worst case per depth layer, acceptable at typical
// layer sizes.
func SplitIntoIndependentGroups(g *schema.FlowGraph, nodeIDs []string) [][]string {
	if len(nodeIDs) == 0 {
		return nil
	}

	index := make(map[string]int, len(nodeIDs))
	for i, id := range nodeIDs {
		index[id] = i
	}

	uf := newUnionFind(len(nodeIDs))
	for _, e := range g.Edges {
		from, okFrom := index[e.From]
		to, okTo := index[e.To]
		if okFrom && okTo {
			uf.union(from, to)
		}
	}

	// Components keyed by root, emitted in first-appearance order.
	componentOf := make(map[int]int) // root index -> position in result
	var result [][]string
	for i, id := range nodeIDs {
		root := uf.find(i)
		pos, ok := componentOf[root]
		if !ok {
			pos = len(result)
			componentOf[root] = pos
			result = append(result, nil)
		}
		result[pos] = append(result[pos], id)
	}
	return result
}

// unionFind is an arena-indexed disjoint set with path compression and
// union by rank.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]] // path halving
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}
