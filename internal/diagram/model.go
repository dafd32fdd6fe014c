package diagram

import "github.com/rendis/conductor/pkg/schema"

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Groups []*Group   // collapsed-agent and mesh units
	Levels [][]string // node ids per execution phase, in phase order
}

// Node is a single flow node annotated with its classification.
type Node struct {
	ID    string
	Label string
	Kind  schema.NodeKind
	Class schema.NodeClass
}

// Group is an execution unit that spans multiple nodes. Renderers draw
// groups as subgraphs around their member nodes.
type Group struct {
	ID      string
	Label   string
	Type    schema.UnitType
	NodeIDs []string
}

// Edge is a directed connection between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
	Kind  schema.EdgeKind
}
