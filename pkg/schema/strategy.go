package schema

// UnitType enumerates the kinds of execution units a strategy can schedule.
type UnitType string

const (
	UnitCollapsedAgent UnitType = "collapsed-agent" // N sequential agent nodes, one model call
	UnitSingleAgent    UnitType = "single-agent"
	UnitSingleDirect   UnitType = "single-direct"
	UnitMesh           UnitType = "mesh" // cyclic subgraph, iterative convergence
)

// ExecutionUnit is one schedulable item in the plan. Across a whole
// strategy every node id appears in exactly one unit.
type ExecutionUnit struct {
	ID            string   `json:"id"`
	Type          UnitType `json:"type"`
	NodeIDs       []string `json:"node_ids"`
	MergedPrompt  string   `json:"merged_prompt,omitempty"`  // collapsed-agent only
	MaxIterations int      `json:"max_iterations,omitempty"` // mesh only
	DependsOn     []string `json:"depends_on,omitempty"`     // unit ids (sequential fallback only)
}

// ExecutionPhase groups units that may run concurrently.
// Phases execute strictly in index order.
type ExecutionPhase struct {
	Index int             `json:"index"`
	Units []ExecutionUnit `json:"units"`
}

// StrategyMeta carries optimization counters for observability.
type StrategyMeta struct {
	CollapseGroups int `json:"collapse_groups"`
	ParallelPhases int `json:"parallel_phases"`
	MeshCount      int `json:"mesh_count"`
	ExtractedNodes int `json:"extracted_nodes"` // direct nodes pulled out of model calls
}

// ExecutionStrategy is the compiled plan the external runtime walks.
// Created once per compile call, immutable afterward.
type ExecutionStrategy struct {
	GraphID                string           `json:"graph_id"`
	Phases                 []ExecutionPhase `json:"phases"`
	TotalNodes             int              `json:"total_nodes"`
	EstimatedLLMCalls      int              `json:"estimated_llm_calls"`
	EstimatedDirectActions int              `json:"estimated_direct_actions"`
	ConductorUsed          bool             `json:"conductor_used"`
	Meta                   StrategyMeta     `json:"meta"`
}

// CollapseGroup is a detected run of sequential agent nodes merged into
// one model call. NodeIDs is ordered and always has at least 2 entries.
type CollapseGroup struct {
	NodeIDs      []string `json:"node_ids"`
	MergedPrompt string   `json:"merged_prompt"`
}

// MeshConfig configures iterative execution of one merged cyclic subgraph.
type MeshConfig struct {
	NodeIDs              []string `json:"node_ids"`
	MaxIterations        int      `json:"max_iterations"`
	ConvergenceThreshold float64  `json:"convergence_threshold"`
}

// ParallelGroup is the set of non-cycle nodes sharing a BFS depth.
// Equal depth is a candidate for concurrency, not a guarantee of
// independence; see SplitIntoIndependentGroups.
type ParallelGroup struct {
	Depth   int      `json:"depth"`
	NodeIDs []string `json:"node_ids"`
}

// Mesh defaults applied when the caller does not override them.
const (
	DefaultMeshMaxIterations        = 5
	DefaultMeshConvergenceThreshold = 0.85
)
