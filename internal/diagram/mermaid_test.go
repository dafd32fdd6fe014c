package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/conductor/internal/conductor"
	"github.com/rendis/conductor/pkg/schema"
)

func TestRenderMermaid_Basic(t *testing.T) {
	model, err := Build(pipelineGraph(), nil)
	require.NoError(t, err)

	out := RenderMermaid(model)
	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "%% Research Pipeline")
	assert.Contains(t, out, `t((`)
	assert.Contains(t, out, "t --> research")
	assert.Contains(t, out, "format --> out")
}

func TestRenderMermaid_ClassesApplied(t *testing.T) {
	model, err := Build(pipelineGraph(), nil)
	require.NoError(t, err)

	out := RenderMermaid(model)
	assert.Contains(t, out, "classDef agent")
	assert.Contains(t, out, "class research agent")
	assert.Contains(t, out, "class format direct")
	assert.Contains(t, out, "class t passthrough")
}

func TestRenderMermaid_CollapsedSubgraph(t *testing.T) {
	g := pipelineGraph()
	strategy := conductor.New().CompileStrategy(g)
	model, err := Build(g, strategy)
	require.NoError(t, err)

	out := RenderMermaid(model)
	assert.Contains(t, out, "subgraph")
	assert.Contains(t, out, "collapsed x2")

	// Grouped nodes are declared inside the subgraph, not twice.
	assert.Equal(t, 1, strings.Count(out, `research[`))
}

func TestRenderMermaid_EdgeKinds(t *testing.T) {
	model := &Model{
		Nodes: []*Node{
			{ID: "a", Label: "a", Kind: schema.NodeKindAgent, Class: schema.ClassAgent},
			{ID: "b", Label: "b", Kind: schema.NodeKindAgent, Class: schema.ClassAgent},
		},
		Edges: []Edge{
			{From: "a", To: "b", Kind: schema.EdgeKindBidirectional},
			{From: "b", To: "a", Kind: schema.EdgeKindReverse},
			{From: "a", To: "b", Kind: schema.EdgeKindError},
		},
	}

	out := RenderMermaid(model)
	assert.Contains(t, out, "a <--> b")
	assert.Contains(t, out, "b -.-> a")
	assert.Contains(t, out, "a -.->|error| b")
}

func TestRenderMermaid_SafeIDs(t *testing.T) {
	model := &Model{
		Nodes: []*Node{
			{ID: "my-node.1", Label: "x", Kind: schema.NodeKindTool, Class: schema.ClassDirect},
		},
	}

	out := RenderMermaid(model)
	assert.Contains(t, out, "my_node_1[")
	assert.NotContains(t, out, "my-node.1[")
}
