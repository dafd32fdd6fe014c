package expressions

import (
	"encoding/json"
	"sync"

	"github.com/rendis/conductor/pkg/schema"
)

// ScopeBuilder constructs EvalScopes with proper variable isolation.
// It enforces:
//   - Node outputs are immutable after completion (frozen on insert).
//   - Append-only: new node outputs are added after each phase completes.
//   - Loop variables (loop.item, loop.index) are scoped per iteration.
//   - Outputs produced by units running in the same phase are isolated
//     from each other until the phase ends.
//   - Resolution order: node output -> flow input -> flow metadata.
type ScopeBuilder struct {
	mu      sync.RWMutex
	nodes   map[string]any // node ID -> frozen output (deep-copied on insert)
	input   map[string]any // flow input params (immutable after init)
	flow    map[string]any // flow metadata (immutable after init)
	context map[string]any // run context (immutable after init)

	// loop holds the current loop iteration variables.
	// nil when not inside a loop node.
	loop *LoopVars
}

// LoopVars holds the scoped variables for a single loop iteration.
type LoopVars struct {
	Item  any // current iteration value
	Index int // current iteration index
}

// NewScopeBuilder creates a ScopeBuilder initialized with flow-level data.
// input, flow, and context are deep-copied to prevent external mutation.
func NewScopeBuilder(input, flow, context map[string]any) *ScopeBuilder {
	return &ScopeBuilder{
		nodes:   make(map[string]any),
		input:   deepCopyMap(input),
		flow:    deepCopyMap(flow),
		context: deepCopyMap(context),
	}
}

// AddNodeOutput registers a completed node's output. The output is frozen
// (deep-copied) at the time of insertion. Subsequent calls with the same
// nodeID are rejected; node outputs are immutable after completion.
func (sb *ScopeBuilder) AddNodeOutput(nodeID string, output json.RawMessage) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if _, exists := sb.nodes[nodeID]; exists {
		return schema.NewErrorf(schema.ErrCodeExpression,
			"node %q output already registered; node outputs are immutable after completion", nodeID).
			WithNode(nodeID)
	}

	if len(output) == 0 {
		sb.nodes[nodeID] = nil
		return nil
	}

	var parsed any
	if err := json.Unmarshal(output, &parsed); err != nil {
		return schema.NewErrorf(schema.ErrCodeExpression,
			"cannot parse node %q output: %s", nodeID, err.Error()).WithNode(nodeID)
	}

	// Deep-copy to freeze the value.
	sb.nodes[nodeID] = deepCopyAny(parsed)
	return nil
}

// Build creates an EvalScope snapshot. The returned scope is safe for
// concurrent use (all data is copied). If loop vars are set, they are
// included under the "loop" namespace.
func (sb *ScopeBuilder) Build() *EvalScope {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	scope := &EvalScope{
		Nodes:   deepCopyMap(sb.nodes),
		Input:   sb.input,   // already frozen at init
		Flow:    sb.flow,    // already frozen at init
		Context: sb.context, // already frozen at init
	}

	if sb.loop != nil {
		scope.Loop = &LoopScope{
			Item:  deepCopyAny(sb.loop.Item),
			Index: sb.loop.Index,
		}
	}

	return scope
}

// WithLoopVars returns a child ScopeBuilder with loop-scoped variables.
// The child shares the same nodes/input/flow/context but has its own loop
// vars, so loop vars stay scoped to the iteration.
func (sb *ScopeBuilder) WithLoopVars(item any, index int) *ScopeBuilder {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	return &ScopeBuilder{
		nodes:   sb.nodes,   // shared (append-only, safe)
		input:   sb.input,   // shared (immutable)
		flow:    sb.flow,    // shared (immutable)
		context: sb.context, // shared (immutable)
		loop: &LoopVars{
			Item:  deepCopyAny(item),
			Index: index,
		},
	}
}

// ForParallelUnit returns a child ScopeBuilder for one unit of a parallel
// phase. The child gets a snapshot of current node outputs but has its own
// isolated output map. Outputs completed inside the unit do NOT leak to
// units sharing the phase.
func (sb *ScopeBuilder) ForParallelUnit() *ScopeBuilder {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	return &ScopeBuilder{
		nodes:   deepCopyMap(sb.nodes), // isolated copy
		input:   sb.input,              // shared (immutable)
		flow:    sb.flow,               // shared (immutable)
		context: sb.context,            // shared (immutable)
	}
}

// MergeUnitOutputs merges completed node outputs from a parallel unit back
// into the parent scope once the phase ends. Only new node IDs are added;
// existing ones are preserved (immutability rule).
func (sb *ScopeBuilder) MergeUnitOutputs(unit *ScopeBuilder) {
	unit.mu.RLock()
	unitNodes := unit.nodes
	unit.mu.RUnlock()

	sb.mu.Lock()
	defer sb.mu.Unlock()

	for nodeID, output := range unitNodes {
		if _, exists := sb.nodes[nodeID]; !exists {
			sb.nodes[nodeID] = deepCopyAny(output)
		}
	}
}

// NodeOutputs returns a read-only copy of the current node outputs.
func (sb *ScopeBuilder) NodeOutputs() map[string]any {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return deepCopyMap(sb.nodes)
}

// --- Deep copy utilities ---

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		// Primitives (string, float64, bool, nil, int, int64) are value types.
		return v
	}
}
