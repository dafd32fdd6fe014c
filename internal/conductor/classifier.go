package conductor

import (
	"strings"

	"github.com/rendis/conductor/pkg/schema"
)

// directKinds are node kinds the runtime executes deterministically,
// without a model call.
var directKinds = map[schema.NodeKind]bool{
	schema.NodeKindCode:         true,
	schema.NodeKindOutput:       true,
	schema.NodeKindError:        true,
	schema.NodeKindHTTP:         true,
	schema.NodeKindMCPTool:      true,
	schema.NodeKindLoop:         true,
	schema.NodeKindGroup:        true,
	schema.NodeKindData:         true,
	schema.NodeKindMemory:       true,
	schema.NodeKindMemoryRecall: true,
}

// Classify maps a node to its execution class. It never errors: unknown
// kinds default to agent, the over-cautious choice (a wasted model call
// beats a silently skipped one).
func Classify(node schema.FlowNode) schema.NodeClass {
	switch {
	case node.Kind == schema.NodeKindTrigger:
		return schema.ClassPassthrough

	case node.Kind == schema.NodeKindSquad:
		// Squads coordinate their own model calls; always agent,
		// never collapsible.
		return schema.ClassAgent

	case node.Kind == schema.NodeKindTool:
		// A prompt on a tool node is routed into the tool invocation,
		// not a model call.
		return schema.ClassDirect

	case node.Kind == schema.NodeKindCondition:
		if IsStructuredCondition(node.Config.ConditionExpr) {
			return schema.ClassDirect
		}
		// Natural-language conditions need model judgment.
		return schema.ClassAgent

	case directKinds[node.Kind]:
		return schema.ClassDirect

	case node.Kind == schema.NodeKindAgent:
		return schema.ClassAgent

	default:
		return schema.ClassAgent
	}
}

// comparisonOperators in match order: longer operators first so that
// ">=" is not mistaken for ">" with an empty right operand.
var comparisonOperators = []string{"===", "!==", ">=", "<=", "==", "!=", ">", "<"}

// booleanLiterals accepted as trivially structured conditions.
var booleanLiterals = map[string]bool{
	"true":  true,
	"false": true,
	"yes":   true,
	"no":    true,
}

// IsBooleanLiteral reports whether a condition expression is one of the
// constant always/never forms. These route structurally without any
// expression engine, so they are exempt from condition linting.
func IsBooleanLiteral(expr string) bool {
	return booleanLiterals[strings.ToLower(strings.TrimSpace(expr))]
}

// IsStructuredCondition reports whether a condition expression can be
// evaluated by simple comparison logic, without model judgment.
//
// True for boolean literals and for a single binary comparison with
// non-empty operands; the left side is typically a dotted property-access
// path (e.g. "input.status === 200"). Anything else is treated as
// natural language and routed to an agent.
func IsStructuredCondition(expr string) bool {
	normalized := strings.ToLower(strings.TrimSpace(expr))
	if normalized == "" {
		return false
	}

	if booleanLiterals[normalized] {
		return true
	}

	for _, op := range comparisonOperators {
		idx := strings.Index(normalized, op)
		if idx < 0 {
			continue
		}
		left := strings.TrimSpace(normalized[:idx])
		right := strings.TrimSpace(normalized[idx+len(op):])
		return left != "" && right != ""
	}

	return false
}
