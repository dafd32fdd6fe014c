package conductor

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/rendis/conductor/pkg/schema"
)

// IDGenerator produces unit ids. A fresh generator is created per
// compile; the compiler holds no global counters.
type IDGenerator func() string

// UUIDGenerator returns an IDGenerator backed by random UUIDs.
func UUIDGenerator() IDGenerator {
	return func() string { return uuid.NewString() }
}

// SequentialGenerator returns an IDGenerator producing "unit-1",
// "unit-2", and so on. Deterministic within a single compile.
func SequentialGenerator() IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("unit-%d", n)
	}
}

// Compiler turns a flow graph into an execution strategy. Compiles do
// no I/O and share no mutable state, so a single Compiler is safe for
// concurrent use.
type Compiler struct {
	newIDs        func() IDGenerator
	meshMaxIter   int
	meshThreshold float64
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithIDGenerator sets the factory producing a fresh unit-id generator
// per compile call.
func WithIDGenerator(factory func() IDGenerator) Option {
	return func(c *Compiler) { c.newIDs = factory }
}

// WithMeshDefaults overrides the mesh iteration cap and convergence
// threshold applied to detected cycles.
func WithMeshDefaults(maxIterations int, threshold float64) Option {
	return func(c *Compiler) {
		c.meshMaxIter = maxIterations
		c.meshThreshold = threshold
	}
}

// New creates a Compiler. By default each compile numbers its units with
// a fresh sequential generator and meshes use the package defaults.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		newIDs:        SequentialGenerator,
		meshMaxIter:   schema.DefaultMeshMaxIterations,
		meshThreshold: schema.DefaultMeshConvergenceThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CompileStrategy compiles a flow graph into a phased execution plan
// that minimizes model invocations and maximizes safe concurrency.
//
// Pipeline: detect cycles and fold them into mesh configs; compute BFS
// depths over the acyclic remainder; detect collapse chains over the
// whole graph; group the leftover nodes by depth; emit depth-ordered
// phases, then one trailing mesh phase per mesh config.
//
// Invariant on return: the union of all unit node ids equals the full
// node set, each id exactly once. Malformed input degrades instead of
// erroring (unknown kinds, dangling edges, self-loops).
func (c *Compiler) CompileStrategy(g *schema.FlowGraph) *schema.ExecutionStrategy {
	ids := c.newIDs()
	adj := BuildAdjacency(g)

	// 1. Cycles become mesh configs.
	cycles := DetectCycles(g)
	meshes := BuildMeshConfigs(cycles, c.meshMaxIter, c.meshThreshold)

	cycleNodes := make(map[string]bool)
	for _, m := range meshes {
		for _, id := range m.NodeIDs {
			cycleNodes[id] = true
		}
	}

	// 2. Depth levels over the acyclic portion.
	depths := ComputeDepthLevels(g, cycleNodes)

	// 3. Collapse chains over the whole graph. Running this before
	// cycle exclusion is intentional: a node that is both collapse-
	// consumed and a cycle member favors collapse.
	chains := DetectCollapseChains(g, adj)

	collapsed := make(map[string]bool)
	for _, ch := range chains {
		for _, id := range ch.NodeIDs {
			collapsed[id] = true
		}
	}

	classes := make(map[string]schema.NodeClass, len(g.Nodes))
	for _, n := range g.Nodes {
		classes[n.ID] = Classify(n)
	}

	// Anchor each chain at the depth of its first node. A chain whose
	// head is a cycle member carries no depth; it cannot share a phase
	// with the nodes feeding it, so it is deferred to the trailing
	// phases where the mesh it displaced would have run.
	chainsAtDepth := make(map[int][]schema.CollapseGroup)
	var deferredChains []schema.CollapseGroup
	for _, ch := range chains {
		if d, ok := depths[ch.NodeIDs[0]]; ok {
			chainsAtDepth[d] = append(chainsAtDepth[d], ch)
		} else {
			deferredChains = append(deferredChains, ch)
		}
	}

	// 4.+5. Depth-ordered phases: one collapsed-agent unit per chain
	// anchored at this depth, one unit per remaining node. Units
	// sharing a phase express the concurrency contract; the
	// independent-group split documents why that sharing is safe.
	strategy := &schema.ExecutionStrategy{
		GraphID:    g.ID,
		TotalNodes: len(g.Nodes),
	}

	groupsByDepth := make(map[int][]string)
	seenDepths := make(map[int]bool)
	var levels []int
	for _, grp := range GroupByDepth(g, depths) {
		groupsByDepth[grp.Depth] = grp.NodeIDs
		seenDepths[grp.Depth] = true
		levels = append(levels, grp.Depth)
	}
	for d := range chainsAtDepth {
		if !seenDepths[d] {
			seenDepths[d] = true
			levels = append(levels, d)
		}
	}
	sort.Ints(levels)

	directActions := 0
	for _, d := range levels {
		var units []schema.ExecutionUnit

		for _, ch := range chainsAtDepth[d] {
			units = append(units, schema.ExecutionUnit{
				ID:           ids(),
				Type:         schema.UnitCollapsedAgent,
				NodeIDs:      ch.NodeIDs,
				MergedPrompt: ch.MergedPrompt,
			})
		}

		remainder := make([]string, 0, len(groupsByDepth[d]))
		for _, id := range groupsByDepth[d] {
			if collapsed[id] || cycleNodes[id] {
				continue
			}
			remainder = append(remainder, id)
		}

		// Units are emitted component by component: nodes joined by a
		// direct edge stay adjacent, independent components follow in
		// first-appearance order.
		for _, component := range SplitIntoIndependentGroups(g, remainder) {
			for _, id := range component {
				unitType := schema.UnitSingleAgent
				if classes[id] == schema.ClassDirect || classes[id] == schema.ClassPassthrough {
					unitType = schema.UnitSingleDirect
					directActions++
				}
				units = append(units, schema.ExecutionUnit{
					ID:      ids(),
					Type:    unitType,
					NodeIDs: []string{id},
				})
			}
		}

		if len(units) == 0 {
			continue
		}
		strategy.Phases = append(strategy.Phases, schema.ExecutionPhase{
			Index: len(strategy.Phases),
			Units: units,
		})
	}

	// Deferred chains run once every depth phase is done: by then all
	// of their non-chain feeders have produced output. One phase per
	// chain, mirroring the one-phase-per-mesh layout below.
	for _, ch := range deferredChains {
		strategy.Phases = append(strategy.Phases, schema.ExecutionPhase{
			Index: len(strategy.Phases),
			Units: []schema.ExecutionUnit{{
				ID:           ids(),
				Type:         schema.UnitCollapsedAgent,
				NodeIDs:      ch.NodeIDs,
				MergedPrompt: ch.MergedPrompt,
			}},
		})
	}

	// 6. Mesh phases trail all depth-based phases. Meshes never
	// interleave with dependents; a known simplification. Collapse-
	// consumed members are excluded so each node runs exactly once.
	meshCount := 0
	for _, m := range meshes {
		members := make([]string, 0, len(m.NodeIDs))
		for _, id := range m.NodeIDs {
			if !collapsed[id] {
				members = append(members, id)
			}
		}
		if len(members) == 0 {
			continue
		}
		meshCount++
		strategy.Phases = append(strategy.Phases, schema.ExecutionPhase{
			Index: len(strategy.Phases),
			Units: []schema.ExecutionUnit{{
				ID:            ids(),
				Type:          schema.UnitMesh,
				NodeIDs:       members,
				MaxIterations: m.MaxIterations,
			}},
		})
	}

	// 7. Cost estimation: one model call per agent or collapsed unit,
	// nodeCount x 3 per mesh (three average rounds), one direct action
	// per direct node.
	llmCalls := 0
	parallelPhases := 0
	for _, ph := range strategy.Phases {
		if len(ph.Units) > 1 {
			parallelPhases++
		}
		for _, u := range ph.Units {
			switch u.Type {
			case schema.UnitCollapsedAgent, schema.UnitSingleAgent:
				llmCalls++
			case schema.UnitMesh:
				llmCalls += len(u.NodeIDs) * 3
			}
		}
	}

	strategy.EstimatedLLMCalls = llmCalls
	strategy.EstimatedDirectActions = directActions
	strategy.ConductorUsed = ShouldUseConductor(g)
	strategy.Meta = schema.StrategyMeta{
		CollapseGroups: len(chains),
		ParallelPhases: parallelPhases,
		MeshCount:      meshCount,
		ExtractedNodes: directActions,
	}
	return strategy
}

// BuildSequentialStrategy is the fallback plan: one unit per node in the
// given order, one phase per unit, each unit explicitly depending on the
// previous one. This is the only place dependsOn is populated; the
// optimized compiler relies on phase ordering instead.
func (c *Compiler) BuildSequentialStrategy(g *schema.FlowGraph, plan []string) *schema.ExecutionStrategy {
	ids := c.newIDs()

	nodesByID := make(map[string]schema.FlowNode, len(g.Nodes))
	for _, n := range g.Nodes {
		nodesByID[n.ID] = n
	}

	strategy := &schema.ExecutionStrategy{
		GraphID:    g.ID,
		TotalNodes: len(g.Nodes),
	}

	prevUnit := ""
	llmCalls, directActions := 0, 0
	for _, nodeID := range plan {
		node, ok := nodesByID[nodeID]
		if !ok {
			continue
		}

		unitType := schema.UnitSingleAgent
		switch Classify(node) {
		case schema.ClassDirect, schema.ClassPassthrough:
			unitType = schema.UnitSingleDirect
			directActions++
		default:
			llmCalls++
		}

		unit := schema.ExecutionUnit{
			ID:      ids(),
			Type:    unitType,
			NodeIDs: []string{nodeID},
		}
		if prevUnit != "" {
			unit.DependsOn = []string{prevUnit}
		}
		prevUnit = unit.ID

		strategy.Phases = append(strategy.Phases, schema.ExecutionPhase{
			Index: len(strategy.Phases),
			Units: []schema.ExecutionUnit{unit},
		})
	}

	strategy.EstimatedLLMCalls = llmCalls
	strategy.EstimatedDirectActions = directActions
	return strategy
}

// ShouldUseConductor reports whether the optimizing compiler is worth
// running for a graph. Small straight-line flows of a single class gain
// nothing over sequential execution.
func ShouldUseConductor(g *schema.FlowGraph) bool {
	if len(g.Nodes) >= 4 {
		return true
	}

	adj := BuildAdjacency(g)
	for _, children := range adj.Forward {
		if len(children) > 1 {
			return true
		}
	}

	for _, e := range g.Edges {
		if e.Kind == schema.EdgeKindBidirectional {
			return true
		}
	}

	hasAgent, hasDirect := false, false
	for _, n := range g.Nodes {
		switch Classify(n) {
		case schema.ClassAgent:
			hasAgent = true
		case schema.ClassDirect:
			hasDirect = true
		}
	}
	return hasAgent && hasDirect
}
