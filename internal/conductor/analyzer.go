package conductor

import "github.com/rendis/conductor/pkg/schema"

// Adjacency holds execution-order adjacency for a flow graph.
// Every known node id is pre-populated, so lookups never fail.
type Adjacency struct {
	Forward  map[string][]string // node -> children
	Backward map[string][]string // node -> parents
}

// BuildAdjacency constructs forward and backward adjacency maps.
//
// Reverse-kind edges are excluded: they express pull semantics, not
// execution order. A bidirectional edge contributes both directions,
// which is what lets DetectCycles see it as a 2-cycle. Edges referencing
// unknown node ids contribute nothing.
func BuildAdjacency(g *schema.FlowGraph) Adjacency {
	adj := Adjacency{
		Forward:  make(map[string][]string, len(g.Nodes)),
		Backward: make(map[string][]string, len(g.Nodes)),
	}

	known := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		known[n.ID] = true
		adj.Forward[n.ID] = []string{}
		adj.Backward[n.ID] = []string{}
	}

	for _, e := range g.Edges {
		if e.Kind == schema.EdgeKindReverse {
			continue
		}
		if !known[e.From] || !known[e.To] {
			continue // dangling reference, tolerated
		}
		adj.Forward[e.From] = append(adj.Forward[e.From], e.To)
		adj.Backward[e.To] = append(adj.Backward[e.To], e.From)
		if e.Kind == schema.EdgeKindBidirectional {
			adj.Forward[e.To] = append(adj.Forward[e.To], e.From)
			adj.Backward[e.From] = append(adj.Backward[e.From], e.To)
		}
	}

	return adj
}

// DetectCycles finds cycles via DFS with an explicit path stack.
// Revisiting a node on the current stack yields a cycle set: the stack
// slice from its first occurrence to the top, inclusive. A self-edge
// yields a singleton cycle. Multiple cycles found in one pass are
// reported separately; merging overlapping sets happens later in
// BuildMeshConfigs. O(V+E).
func DetectCycles(g *schema.FlowGraph) [][]string {
	adj := BuildAdjacency(g)

	var cycles [][]string
	visited := make(map[string]bool, len(g.Nodes))
	onStack := make(map[string]bool, len(g.Nodes))
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, child := range adj.Forward[id] {
			if onStack[child] {
				// Slice the path stack from the child's first
				// occurrence to the current node.
				start := 0
				for i, s := range stack {
					if s == child {
						start = i
						break
					}
				}
				cycle := make([]string, len(stack)-start)
				copy(cycle, stack[start:])
				cycles = append(cycles, cycle)
				continue
			}
			if !visited[child] {
				visit(child)
			}
		}

		stack = stack[:len(stack)-1]
		onStack[id] = false
	}

	// Declaration order keeps the output deterministic.
	for _, n := range g.Nodes {
		if !visited[n.ID] {
			visit(n.ID)
		}
	}

	return cycles
}

// ComputeDepthLevels assigns a BFS depth to every non-cycle node.
//
// In-degree is counted only from non-cycle parents, so nodes fed solely
// by a mesh become roots of the acyclic portion. Fan-in resolves by
// longest path: a child's depth is max(existing, parent depth + 1),
// which keeps a node from running before its deepest dependency.
// Cycle members receive no depth.
func ComputeDepthLevels(g *schema.FlowGraph, cycleNodes map[string]bool) map[string]int {
	adj := BuildAdjacency(g)
	depths := make(map[string]int, len(g.Nodes))

	inDegree := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		if cycleNodes[n.ID] {
			continue
		}
		deg := 0
		for _, parent := range adj.Backward[n.ID] {
			if !cycleNodes[parent] {
				deg++
			}
		}
		inDegree[n.ID] = deg
	}

	var queue []string
	for _, n := range g.Nodes {
		if cycleNodes[n.ID] {
			continue
		}
		if inDegree[n.ID] == 0 {
			depths[n.ID] = 0
			queue = append(queue, n.ID)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, child := range adj.Forward[id] {
			if cycleNodes[child] {
				continue
			}
			next := depths[id] + 1
			if existing, ok := depths[child]; !ok || next > existing {
				depths[child] = next
				queue = append(queue, child)
			}
		}
	}

	return depths
}
