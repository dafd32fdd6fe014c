package validation

import (
	"fmt"

	"github.com/rendis/conductor/internal/conductor"
	"github.com/rendis/conductor/pkg/expressions"
	"github.com/rendis/conductor/pkg/schema"
)

// validateSemantic performs semantic analysis on a flow graph.
// Checks: duplicate node/edge ids, dangling edge endpoints, kind-specific
// config requirements, and expression linting for structured conditions,
// data transforms, and prompt templates.
func validateSemantic(g *schema.FlowGraph, engines *lintEngines) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(g.Nodes))
	for i, n := range g.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if nodeIDs[n.ID] {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		nodeIDs[n.ID] = true

		validateNodeConfig(&g.Nodes[i], path, engines, result)
	}

	edgeIDs := make(map[string]bool, len(g.Edges))
	for i, e := range g.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if edgeIDs[e.ID] {
			result.AddWarning(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate edge id %q", e.ID))
		}
		edgeIDs[e.ID] = true

		// Dangling endpoints are tolerated by the compiler (the edge is
		// dropped from adjacency) but almost always an editor bug.
		if !nodeIDs[e.From] {
			result.AddWarning(path+".from", schema.ErrCodeValidation,
				fmt.Sprintf("edge %q references non-existent node %q", e.ID, e.From))
		}
		if !nodeIDs[e.To] {
			result.AddWarning(path+".to", schema.ErrCodeValidation,
				fmt.Sprintf("edge %q references non-existent node %q", e.ID, e.To))
		}
		if e.From == e.To && e.Kind == schema.EdgeKindBidirectional {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("bidirectional self-edge on node %q is redundant", e.From))
		}
	}

	// Prompt references between nodes must form a DAG; a cycle of
	// ${{node.X.output}} references can never resolve at run time.
	prompts := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		if expressions.HasInterpolation(n.Config.Prompt) {
			prompts[n.ID] = n.Config.Prompt
		}
	}
	if err := expressions.DetectCircularRefs(prompts); err != nil {
		result.AddError("nodes", schema.ErrCodeExpression, err.Error())
	}

	return result
}

// validateNodeConfig checks kind-specific config requirements and lints any
// expressions the node carries.
func validateNodeConfig(n *schema.FlowNode, path string, engines *lintEngines, result *schema.ValidationResult) {
	switch n.Kind {
	case schema.NodeKindAgent, schema.NodeKindSquad:
		if n.Config.Prompt == "" && n.Config.Description == "" {
			result.AddWarning(path+".config.prompt", schema.ErrCodeValidation,
				fmt.Sprintf("%s node %q has neither prompt nor description; a generic instruction will be synthesized", n.Kind, n.ID))
		}

	case schema.NodeKindCondition:
		expr := n.Config.ConditionExpr
		if expr == "" {
			result.AddError(path+".config.condition_expr", schema.ErrCodeValidation,
				fmt.Sprintf("condition node %q has no expression to route on", n.ID))
			return
		}
		// Structured conditions run without a model; a lint failure means
		// the expression falls back to agent evaluation at runtime. CEL
		// is checked first, expr as fallback, so a condition warns only
		// when neither engine can take it. Boolean literals route
		// structurally and need no engine at all.
		if conductor.IsStructuredCondition(expr) && !conductor.IsBooleanLiteral(expr) {
			if celErr := engines.cel.Lint(expr); celErr != nil {
				if exprErr := engines.expr.Lint(expr); exprErr != nil {
					result.AddWarning(path+".config.condition_expr", schema.ErrCodeExpression,
						fmt.Sprintf("condition %q does not compile under cel (%s) or expr (%s); it will be routed through an agent",
							expr, celErr.Error(), exprErr.Error()))
				}
			}
		}

	case schema.NodeKindData:
		if n.Config.Transform == "" {
			result.AddWarning(path+".config.transform", schema.ErrCodeValidation,
				fmt.Sprintf("data node %q has no transform; it passes its input through unchanged", n.ID))
			return
		}
		if engines.jq != nil {
			if err := engines.jq.Lint(n.Config.Transform); err != nil {
				result.AddError(path+".config.transform", schema.ErrCodeExpression,
					fmt.Sprintf("transform does not parse: %s", err.Error()))
			}
		}

	case schema.NodeKindLoop:
		if n.Config.NoCollapse {
			result.AddWarning(path+".config.no_collapse", schema.ErrCodeValidation,
				fmt.Sprintf("noCollapse on loop node %q has no effect; loop nodes never collapse", n.ID))
		}
	}

	// Interpolation references in prompts must at least be well-formed
	// and rooted in a known namespace; the interpolator's own scanner
	// is the authority on both.
	if expressions.HasInterpolation(n.Config.Prompt) {
		if err := engines.interp.LintTemplate(n.Config.Prompt); err != nil {
			result.AddError(path+".config.prompt", schema.ErrCodeExpression, err.Error())
		}
	}
}
