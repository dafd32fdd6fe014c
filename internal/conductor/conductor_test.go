package conductor

import (
	"fmt"
	"testing"

	"github.com/rendis/conductor/pkg/schema"
)

// --- shared helpers ---

func node(id string, kind schema.NodeKind) schema.FlowNode {
	return schema.FlowNode{ID: id, Kind: kind}
}

func agentNode(id, prompt string) schema.FlowNode {
	return schema.FlowNode{
		ID:     id,
		Kind:   schema.NodeKindAgent,
		Config: schema.NodeConfig{Prompt: prompt},
	}
}

func edge(from, to string) schema.FlowEdge {
	return schema.FlowEdge{
		ID:   fmt.Sprintf("%s-%s", from, to),
		From: from,
		To:   to,
		Kind: schema.EdgeKindForward,
	}
}

func graph(nodes []schema.FlowNode, edges []schema.FlowEdge) *schema.FlowGraph {
	return &schema.FlowGraph{ID: "g1", Name: "test", Nodes: nodes, Edges: edges}
}

// coverage returns a count per node id across all units of a strategy.
func coverage(s *schema.ExecutionStrategy) map[string]int {
	seen := make(map[string]int)
	for _, ph := range s.Phases {
		for _, u := range ph.Units {
			for _, id := range u.NodeIDs {
				seen[id]++
			}
		}
	}
	return seen
}

func assertFullCoverage(t *testing.T, g *schema.FlowGraph, s *schema.ExecutionStrategy) {
	t.Helper()
	seen := coverage(s)
	for _, n := range g.Nodes {
		if seen[n.ID] != 1 {
			t.Errorf("node %s appears %d times across units, want exactly 1", n.ID, seen[n.ID])
		}
	}
	if len(seen) != len(g.Nodes) {
		t.Errorf("strategy covers %d nodes, graph has %d", len(seen), len(g.Nodes))
	}
}
