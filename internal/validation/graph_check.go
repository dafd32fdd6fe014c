package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/conductor/pkg/schema"
)

// validateGraphStructure performs reachability analysis on the flow graph.
// Cycles are legal (they compile into meshes), so unlike a strict DAG check
// this stage only reports warnings: nodes no execution path can reach, and
// graphs with no entry point at all.
func validateGraphStructure(g *schema.FlowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		nodeIDs[n.ID] = true
	}

	// Forward adjacency; reverse edges and dangling endpoints contribute
	// nothing, matching the compiler's view of the graph.
	forward := make(map[string][]string, len(g.Nodes))
	inDegree := make(map[string]int, len(g.Nodes))
	for _, e := range g.Edges {
		if e.Kind == schema.EdgeKindReverse || !nodeIDs[e.From] || !nodeIDs[e.To] {
			continue
		}
		forward[e.From] = append(forward[e.From], e.To)
		inDegree[e.To]++
		if e.Kind == schema.EdgeKindBidirectional {
			forward[e.To] = append(forward[e.To], e.From)
			inDegree[e.From]++
		}
	}

	// Roots: nodes nothing points at.
	roots := make([]string, 0)
	for _, n := range g.Nodes {
		if inDegree[n.ID] == 0 {
			roots = append(roots, n.ID)
		}
	}
	sort.Strings(roots)

	if len(roots) == 0 && len(g.Nodes) > 0 {
		result.AddWarning("nodes", schema.ErrCodeValidation,
			"flow has no entry node; every node is inside a cycle")
		return result
	}

	// BFS from roots through forward edges.
	reachable := make(map[string]bool, len(g.Nodes))
	queue := make([]string, len(roots))
	copy(queue, roots)
	for _, r := range roots {
		reachable[r] = true
	}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range forward[node] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, n := range g.Nodes {
		if !reachable[n.ID] {
			result.AddWarning(fmt.Sprintf("nodes[%s]", n.ID),
				schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from any entry node", n.ID))
		}
	}

	return result
}
