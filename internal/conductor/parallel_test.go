package conductor

import (
	"testing"

	"github.com/rendis/conductor/pkg/schema"
)

func TestGroupByDepth_SortedAscending(t *testing.T) {
	g := graph(
		[]schema.FlowNode{
			agentNode("a", ""), agentNode("b", ""),
			agentNode("c", ""), agentNode("d", ""),
		},
		nil,
	)
	depths := map[string]int{"a": 0, "b": 2, "c": 1, "d": 1}

	groups := GroupByDepth(g, depths)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if groups[0].Depth != 0 || groups[1].Depth != 1 || groups[2].Depth != 2 {
		t.Errorf("groups not sorted by depth: %+v", groups)
	}
	if len(groups[1].NodeIDs) != 2 {
		t.Errorf("depth 1 should hold c and d, got %v", groups[1].NodeIDs)
	}
}

func TestGroupByDepth_SkipsNodesWithoutDepth(t *testing.T) {
	g := graph(
		[]schema.FlowNode{agentNode("a", ""), agentNode("cyc", "")},
		nil,
	)
	groups := GroupByDepth(g, map[string]int{"a": 0})

	if len(groups) != 1 || len(groups[0].NodeIDs) != 1 || groups[0].NodeIDs[0] != "a" {
		t.Errorf("cycle member leaked into depth groups: %+v", groups)
	}
}

// --- independent group splitting ---

func TestSplitIntoIndependentGroups_NoEdges(t *testing.T) {
	g := graph(
		[]schema.FlowNode{agentNode("a", ""), agentNode("b", ""), agentNode("c", "")},
		nil,
	)

	groups := SplitIntoIndependentGroups(g, []string{"a", "b", "c"})
	if len(groups) != 3 {
		t.Errorf("expected 3 singleton groups, got %v", groups)
	}
}

func TestSplitIntoIndependentGroups_EdgeJoinsComponents(t *testing.T) {
	g := graph(
		[]schema.FlowNode{agentNode("a", ""), agentNode("b", ""), agentNode("c", "")},
		[]schema.FlowEdge{edge("a", "b")},
	)

	groups := SplitIntoIndependentGroups(g, []string{"a", "b", "c"})
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %v", groups)
	}
	if len(groups[0]) != 2 || groups[0][0] != "a" || groups[0][1] != "b" {
		t.Errorf("a and b should share a component: %v", groups)
	}
	if len(groups[1]) != 1 || groups[1][0] != "c" {
		t.Errorf("c should stand alone: %v", groups)
	}
}

func TestSplitIntoIndependentGroups_EitherDirection(t *testing.T) {
	g := graph(
		[]schema.FlowNode{agentNode("a", ""), agentNode("b", "")},
		[]schema.FlowEdge{edge("b", "a")},
	)

	groups := SplitIntoIndependentGroups(g, []string{"a", "b"})
	if len(groups) != 1 {
		t.Errorf("edge direction must not matter, got %v", groups)
	}
}

func TestSplitIntoIndependentGroups_TransitiveChain(t *testing.T) {
	g := graph(
		[]schema.FlowNode{
			agentNode("a", ""), agentNode("b", ""),
			agentNode("c", ""), agentNode("d", ""),
		},
		[]schema.FlowEdge{edge("a", "b"), edge("b", "c")},
	)

	groups := SplitIntoIndependentGroups(g, []string{"a", "b", "c", "d"})
	if len(groups) != 2 {
		t.Fatalf("expected chain component plus singleton, got %v", groups)
	}
	if len(groups[0]) != 3 {
		t.Errorf("a, b, c should union transitively: %v", groups[0])
	}
}

func TestSplitIntoIndependentGroups_Empty(t *testing.T) {
	g := graph(nil, nil)
	if groups := SplitIntoIndependentGroups(g, nil); groups != nil {
		t.Errorf("expected nil for empty input, got %v", groups)
	}
}
