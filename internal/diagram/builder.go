package diagram

import (
	"fmt"

	"github.com/rendis/conductor/internal/conductor"
	"github.com/rendis/conductor/pkg/schema"
)

// Build constructs a Model from a flow graph and, optionally, its compiled
// strategy. With a strategy the model carries execution levels (one per
// phase) and groups for collapsed and mesh units; without one it is a plain
// classified rendering of the graph.
func Build(g *schema.FlowGraph, strategy *schema.ExecutionStrategy) (*Model, error) {
	if g == nil {
		return nil, fmt.Errorf("diagram: nil graph")
	}

	known := make(map[string]bool, len(g.Nodes))
	nodes := make([]*Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, &Node{
			ID:    n.ID,
			Label: nodeLabel(n),
			Kind:  n.Kind,
			Class: conductor.Classify(n),
		})
		known[n.ID] = true
	}

	// Dangling edges are tolerated by the compiler; drawing them would
	// reference boxes that do not exist.
	var edges []Edge
	for _, e := range g.Edges {
		if !known[e.From] || !known[e.To] {
			continue
		}
		edges = append(edges, Edge{From: e.From, To: e.To, Kind: e.Kind})
	}

	m := &Model{
		Title: titleFromGraph(g),
		Nodes: nodes,
		Edges: edges,
	}

	if strategy != nil {
		for _, phase := range strategy.Phases {
			var level []string
			for _, unit := range phase.Units {
				level = append(level, unit.NodeIDs...)
				if len(unit.NodeIDs) > 1 {
					m.Groups = append(m.Groups, &Group{
						ID:      unit.ID,
						Label:   groupLabel(unit),
						Type:    unit.Type,
						NodeIDs: unit.NodeIDs,
					})
				}
			}
			m.Levels = append(m.Levels, level)
		}
	}

	return m, nil
}

// nodeLabel prefers the editor label, falling back to "id (kind)".
func nodeLabel(n schema.FlowNode) string {
	if n.Config.Label != "" {
		return n.Config.Label
	}
	return fmt.Sprintf("%s (%s)", n.ID, n.Kind)
}

func groupLabel(unit schema.ExecutionUnit) string {
	switch unit.Type {
	case schema.UnitCollapsedAgent:
		return fmt.Sprintf("collapsed x%d", len(unit.NodeIDs))
	case schema.UnitMesh:
		return fmt.Sprintf("mesh (max %d)", unit.MaxIterations)
	default:
		return string(unit.Type)
	}
}

func titleFromGraph(g *schema.FlowGraph) string {
	if g.Name != "" {
		return g.Name
	}
	return g.ID
}
