package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/conductor/pkg/schema"
)

// RenderMermaid renders a Model as a Mermaid flowchart string. Collapsed
// and mesh units become subgraphs around their member nodes.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	grouped := make(map[string]bool)
	for _, g := range model.Groups {
		for _, id := range g.NodeIDs {
			grouped[id] = true
		}
	}

	nodeIndex := make(map[string]*Node, len(model.Nodes))
	for _, node := range model.Nodes {
		nodeIndex[node.ID] = node
		if !grouped[node.ID] {
			b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
		}
	}

	for _, g := range model.Groups {
		b.WriteString(fmt.Sprintf("    subgraph %s[\"%s\"]\n", mermaidSafeID(g.ID), g.Label))
		for _, id := range g.NodeIDs {
			if node, ok := nodeIndex[id]; ok {
				b.WriteString(fmt.Sprintf("        %s\n", mermaidNodeDef(node)))
			}
		}
		b.WriteString("    end\n")
	}

	for _, edge := range model.Edges {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidEdgeDef(edge)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef agent fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef direct fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef passthrough fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), string(node.Class)))
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with a shape per kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := node.Label

	switch node.Kind {
	case schema.NodeKindCondition:
		return fmt.Sprintf("%s{%q}", id, label)
	case schema.NodeKindTrigger, schema.NodeKindOutput:
		return fmt.Sprintf("%s((%q))", id, label)
	case schema.NodeKindLoop, schema.NodeKindSquad:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case schema.NodeKindData, schema.NodeKindCode:
		return fmt.Sprintf("%s[/%q/]", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

func mermaidEdgeDef(edge Edge) string {
	from, to := mermaidSafeID(edge.From), mermaidSafeID(edge.To)
	label := ""
	if edge.Label != "" {
		label = fmt.Sprintf("|%s|", edge.Label)
	}
	switch edge.Kind {
	case schema.EdgeKindBidirectional:
		return fmt.Sprintf("%s <-->%s %s", from, label, to)
	case schema.EdgeKindReverse:
		return fmt.Sprintf("%s -.->%s %s", from, label, to)
	case schema.EdgeKindError:
		return fmt.Sprintf("%s -.->|error| %s", from, to)
	default:
		return fmt.Sprintf("%s -->%s %s", from, label, to)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}
