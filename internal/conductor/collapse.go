package conductor

import (
	"fmt"
	"strings"

	"github.com/rendis/conductor/pkg/schema"
)

// StepBoundary is the literal sentinel separating per-step outputs in a
// collapsed model response. It is the only wire contract between the
// merged prompt and ParseCollapsedOutput; collisions with node content
// are an accepted risk.
const StepBoundary = "---STEP_BOUNDARY---"

const mergedPromptPreamble = "You will be given several steps. Complete every step in order; do not skip, merge, or reorder them."

const mergedPromptTrailer = "Separate each step's output with a line containing exactly:\n" + StepBoundary

// DetectCollapseChains finds maximal runs of strictly-sequential,
// compatible agent nodes that can merge into one model call.
//
// Nodes are visited in topological order; each unconsumed agent node
// without the noCollapse flag starts a chain, extended greedily while:
//   - the current node has exactly one forward child (no fan-out)
//   - the child is an agent node, not noCollapse, not already consumed,
//     not already in this chain
//   - the child has exactly one parent (no fan-in)
//   - configs are compatible (see configsCompatible)
//
// Chains shorter than 2 are discarded. Incompatibility silently stops
// extension; it is never an error.
func DetectCollapseChains(g *schema.FlowGraph, adj Adjacency) []schema.CollapseGroup {
	nodesByID := make(map[string]schema.FlowNode, len(g.Nodes))
	for _, n := range g.Nodes {
		nodesByID[n.ID] = n
	}

	consumed := make(map[string]bool, len(g.Nodes))
	var groups []schema.CollapseGroup

	for _, id := range topoOrder(g, adj) {
		node := nodesByID[id]
		if consumed[id] || node.Kind != schema.NodeKindAgent || node.Config.NoCollapse {
			continue
		}

		chain := []schema.FlowNode{node}
		inChain := map[string]bool{id: true}

		current := node
		for {
			children := adj.Forward[current.ID]
			if len(children) != 1 {
				break
			}
			candidate, ok := nodesByID[children[0]]
			if !ok {
				break
			}
			if candidate.Kind != schema.NodeKindAgent ||
				candidate.Config.NoCollapse ||
				consumed[candidate.ID] ||
				inChain[candidate.ID] {
				break
			}
			if len(adj.Backward[candidate.ID]) != 1 {
				break
			}
			if !configsCompatible(current.Config, candidate.Config) {
				break
			}
			chain = append(chain, candidate)
			inChain[candidate.ID] = true
			current = candidate
		}

		if len(chain) < 2 {
			continue
		}

		ids := make([]string, len(chain))
		for i, n := range chain {
			ids[i] = n.ID
			consumed[n.ID] = true
		}
		groups = append(groups, schema.CollapseGroup{
			NodeIDs:      ids,
			MergedPrompt: buildMergedPrompt(chain),
		})
	}

	return groups
}

// configsCompatible reports whether two agent configs can share a model
// call. An unset agentId or model means "inherit" and is always
// compatible; when both sides set a value, the values must match.
func configsCompatible(a, b schema.NodeConfig) bool {
	if a.AgentID != "" && b.AgentID != "" && a.AgentID != b.AgentID {
		return false
	}
	if a.Model != "" && b.Model != "" && a.Model != b.Model {
		return false
	}
	return true
}

// buildMergedPrompt renders the deterministic merged prompt for a chain.
// The exact text, including the step boundary instruction, is consumed
// downstream by ParseCollapsedOutput.
func buildMergedPrompt(chain []schema.FlowNode) string {
	var b strings.Builder

	b.WriteString(mergedPromptPreamble)
	b.WriteString("\n\n")

	for i, node := range chain {
		label := node.Config.Label
		if label == "" {
			label = node.ID
		}
		fmt.Fprintf(&b, "## Step %d: %s\n", i+1, label)

		switch {
		case node.Config.Prompt != "":
			b.WriteString(node.Config.Prompt)
		case node.Config.Description != "":
			b.WriteString(node.Config.Description)
		default:
			fmt.Fprintf(&b, "Complete the task for %s using the output of the previous step.", label)
		}
		b.WriteString("\n\n")
	}

	b.WriteString(mergedPromptTrailer)
	return b.String()
}

// topoOrder returns node ids in reverse DFS postorder, which is a
// topological order over the acyclic portion. Back edges are ignored,
// so the traversal terminates on cyclic graphs too. Roots are visited
// in declaration order; any stable order is equivalent for collapse
// detection since compatibility is evaluated pairwise.
func topoOrder(g *schema.FlowGraph, adj Adjacency) []string {
	visited := make(map[string]bool, len(g.Nodes))
	order := make([]string, 0, len(g.Nodes))

	var visit func(id string)
	visit = func(id string) {
		visited[id] = true
		for _, child := range adj.Forward[id] {
			if !visited[child] {
				visit(child)
			}
		}
		order = append(order, id)
	}

	for _, n := range g.Nodes {
		if !visited[n.ID] {
			visit(n.ID)
		}
	}

	// Reverse the postorder in place.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}
