package schema

// FlowGraph is the JSON-serializable graph format produced by the visual
// editor, the text parser, or template instantiation. It is the sole input
// to the conductor compiler.
type FlowGraph struct {
	ID    string     `json:"id"`
	Name  string     `json:"name,omitempty"`
	Nodes []FlowNode `json:"nodes"`
	Edges []FlowEdge `json:"edges"`
}

// FlowNode is a single node on the canvas.
type FlowNode struct {
	ID     string     `json:"id"`
	Kind   NodeKind   `json:"kind"`
	Config NodeConfig `json:"config,omitempty"`
}

// NodeConfig carries the optional per-node settings the compiler inspects.
// Fields irrelevant to a node's kind are simply left empty by the editor.
type NodeConfig struct {
	Label         string `json:"label,omitempty"`
	Description   string `json:"description,omitempty"`
	Prompt        string `json:"prompt,omitempty"`
	AgentID       string `json:"agent_id,omitempty"`
	Model         string `json:"model,omitempty"`
	ConditionExpr string `json:"condition_expr,omitempty"`
	Transform     string `json:"transform,omitempty"` // jq expression for data nodes
	NoCollapse    bool   `json:"no_collapse,omitempty"`
}

// FlowEdge is a directed connection between two nodes.
// Edge endpoints should reference existing node ids; dangling references
// are tolerated by the compiler (they contribute nothing to adjacency).
type FlowEdge struct {
	ID   string   `json:"id"`
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind,omitempty"` // default: forward
}

// NodeKind enumerates the node types the canvas can place.
type NodeKind string

const (
	NodeKindTrigger      NodeKind = "trigger"
	NodeKindAgent        NodeKind = "agent"
	NodeKindTool         NodeKind = "tool"
	NodeKindCondition    NodeKind = "condition"
	NodeKindData         NodeKind = "data"
	NodeKindCode         NodeKind = "code"
	NodeKindOutput       NodeKind = "output"
	NodeKindError        NodeKind = "error"
	NodeKindGroup        NodeKind = "group"
	NodeKindHTTP         NodeKind = "http"
	NodeKindMCPTool      NodeKind = "mcp-tool"
	NodeKindLoop         NodeKind = "loop"
	NodeKindSquad        NodeKind = "squad"
	NodeKindMemory       NodeKind = "memory"
	NodeKindMemoryRecall NodeKind = "memory-recall"
)

// EdgeKind enumerates edge semantics.
type EdgeKind string

const (
	EdgeKindForward       EdgeKind = "forward"
	EdgeKindReverse       EdgeKind = "reverse"       // pull semantics, excluded from execution order
	EdgeKindBidirectional EdgeKind = "bidirectional" // explicit cycle signal
	EdgeKindError         EdgeKind = "error"
)

// NodeClass is the compiler's classification of a node.
type NodeClass string

const (
	ClassAgent       NodeClass = "agent"       // requires a model call
	ClassDirect      NodeClass = "direct"      // deterministic action, no model
	ClassPassthrough NodeClass = "passthrough" // contributes no work of its own
)
