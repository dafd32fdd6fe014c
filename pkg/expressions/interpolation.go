package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/conductor/pkg/schema"
)

// EvalScope holds all data available for variable resolution.
type EvalScope struct {
	Nodes   map[string]any // node ID -> output (unmarshalled)
	Input   map[string]any // flow input params
	Flow    map[string]any // flow metadata (run_id, etc.)
	Context map[string]any // run context (intent, etc.)
	Loop    *LoopScope     // loop iteration variables (nil when not in a loop)
}

// LoopScope holds scoped variables for a single loop iteration.
type LoopScope struct {
	Item  any // current item value
	Index int // current iteration index (0-based)
}

// AsData flattens the scope into the data map the expression engines
// consume. Keys match the CEL environment variables.
func (s *EvalScope) AsData() map[string]any {
	data := map[string]any{
		"input":   s.Input,
		"node":    s.Nodes,
		"flow":    s.Flow,
		"context": s.Context,
	}
	if s.Loop != nil {
		data["loop"] = map[string]any{"item": s.Loop.Item, "index": s.Loop.Index}
	}
	return data
}

// Interpolator resolves ${{...}} references in node prompts and params.
type Interpolator struct{}

// NewInterpolator creates a new Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Resolve interpolates raw JSON, replacing node.*, input.*, flow.*,
// context.*, and loop.* references with values from the scope. Returns the
// interpolated JSON bytes.
func (interp *Interpolator) Resolve(raw json.RawMessage, scope *EvalScope) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}

	resolved, err := interp.resolveString(string(raw), scope)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resolved), nil
}

// ResolveString interpolates plain text such as an agent node's prompt.
func (interp *Interpolator) ResolveString(input string, scope *EvalScope) (string, error) {
	return interp.resolveString(input, scope)
}

// resolveString scans for ${{...}} tokens and resolves them.
func (interp *Interpolator) resolveString(input string, scope *EvalScope) (string, error) {
	var result strings.Builder
	result.Grow(len(input))

	err := walkTemplate(input,
		func(literal string) { result.WriteString(literal) },
		func(expr string) error {
			val, err := interp.resolveExpr(expr, scope)
			if err != nil {
				return err
			}
			result.WriteString(marshalInline(val))
			return nil
		})
	if err != nil {
		return "", err
	}

	return result.String(), nil
}

// LintTemplate checks every ${{...}} reference in a template for
// structural problems and unknown namespaces without resolving values;
// node outputs do not exist at validation time, so resolution errors
// are out of scope here.
func (interp *Interpolator) LintTemplate(s string) error {
	return walkTemplate(s, func(string) {}, func(expr string) error {
		ns := strings.SplitN(expr, ".", 2)[0]
		for _, known := range templateNamespaces {
			if ns == known {
				return nil
			}
		}
		return schema.NewErrorf(schema.ErrCodeExpression,
			"unknown namespace %q in ${{%s}}; available: %s",
			ns, expr, strings.Join(templateNamespaces, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_namespaces": templateNamespaces})
	})
}

// templateNamespaces are the reference roots a template may use.
var templateNamespaces = []string{"node", "input", "flow", "context", "loop"}

// walkTemplate is the single scanner behind resolution and linting.
// literal receives the text between tokens, ref the trimmed expression
// of each ${{...}} token. Scanning stops at the first structural
// problem: an unclosed token, a nested ${{, or an empty reference.
func walkTemplate(input string, literal func(string), ref func(string) error) error {
	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			literal(input[i:])
			return nil
		}

		literal(input[i : i+idx])
		start := i + idx + 3 // skip "${{"

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return schema.NewError(schema.ErrCodeExpression, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(input[start:end])
		if strings.Contains(expr, "${{") {
			return schema.NewError(schema.ErrCodeExpression,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}
		if expr == "" {
			return schema.NewError(schema.ErrCodeExpression, "empty variable reference: ${{  }}")
		}

		if err := ref(expr); err != nil {
			return err
		}

		i = end + 2 // skip "}}"
	}
	return nil
}

// resolveExpr resolves a single expression path like "node.research.output.url".
func (interp *Interpolator) resolveExpr(expr string, scope *EvalScope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	namespace := parts[0]

	switch namespace {
	case "node":
		return interp.resolveNode(expr, scope)
	case "input":
		return interp.resolveInput(expr, scope)
	case "flow":
		return interp.resolveFlow(expr, scope)
	case "context":
		return interp.resolveContext(expr, scope)
	case "loop":
		return interp.resolveLoop(expr, scope)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"unknown namespace %q in ${{%s}}; available: %s",
			namespace, expr, strings.Join(templateNamespaces, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_namespaces": templateNamespaces})
	}
}

// resolveNode resolves node.<id>.output[.<field>...] references.
func (interp *Interpolator) resolveNode(expr string, scope *EvalScope) (any, error) {
	// Expected: node.<id>.output or node.<id>.output.<field>...
	parts := strings.SplitN(expr, ".", 4) // [node, id, output, rest...]
	if len(parts) < 3 {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"invalid node reference %q: expected node.<id>.output[.<field>]", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	nodeID := parts[1]
	if parts[2] != "output" {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"invalid node reference %q: only 'output' property is supported (got %q)", expr, parts[2]).
			WithDetails(map[string]any{"expression": expr})
	}

	if scope.Nodes == nil {
		return nil, interp.missingNodeErr(expr, nodeID, scope)
	}

	output, ok := scope.Nodes[nodeID]
	if !ok {
		return nil, interp.missingNodeErr(expr, nodeID, scope)
	}

	// node.<id>.output returns the whole output.
	if len(parts) == 3 {
		return output, nil
	}

	// node.<id>.output.<field>[.<subfield>...]
	return interp.traversePath(output, parts[3], expr)
}

// resolveInput resolves input.<name> references.
func (interp *Interpolator) resolveInput(expr string, scope *EvalScope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"invalid input reference %q: expected input.<name>", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	return interp.resolveFromMap(scope.Input, parts[1], expr, "input")
}

// resolveFlow resolves flow.<field> references.
func (interp *Interpolator) resolveFlow(expr string, scope *EvalScope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"invalid flow reference %q: expected flow.<field>", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	return interp.resolveFromMap(scope.Flow, parts[1], expr, "flow")
}

// resolveContext resolves context.<field> references.
func (interp *Interpolator) resolveContext(expr string, scope *EvalScope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"invalid context reference %q: expected context.<field>", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	return interp.resolveFromMap(scope.Context, parts[1], expr, "context")
}

// resolveLoop resolves loop.item and loop.index references.
func (interp *Interpolator) resolveLoop(expr string, scope *EvalScope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"invalid loop reference %q: expected loop.item or loop.index", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	if scope.Loop == nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"loop variable %q referenced outside of a loop context", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	field := parts[1]
	switch {
	case field == "item":
		return scope.Loop.Item, nil
	case field == "index":
		return scope.Loop.Index, nil
	case strings.HasPrefix(field, "item."):
		// Support nested field access on loop.item: loop.item.name
		subpath := strings.TrimPrefix(field, "item.")
		return interp.traversePath(scope.Loop.Item, subpath, expr)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"unknown loop field %q in ${{%s}}; available: item, index", field, expr).
			WithDetails(map[string]any{"expression": expr, "available_fields": []string{"item", "index"}})
	}
}

// resolveFromMap resolves a dot-delimited field path from a map.
func (interp *Interpolator) resolveFromMap(data map[string]any, fieldPath, expr, namespace string) (any, error) {
	if data == nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"cannot resolve %q: %s scope is empty", expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}

	// Try direct key lookup first (supports keys with dots).
	if val, ok := data[fieldPath]; ok {
		return val, nil
	}

	// Traverse by splitting on dots.
	return interp.traversePath(data, fieldPath, expr)
}

// traversePath navigates into nested maps using a dot-delimited path.
func (interp *Interpolator) traversePath(root any, path, expr string) (any, error) {
	segments := strings.Split(path, ".")
	current := root

	for i, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"empty segment in path %q at position %d", expr, i).
				WithDetails(map[string]any{"expression": expr})
		}

		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				availableKeys := mapKeys(v)
				return nil, schema.NewErrorf(schema.ErrCodeExpression,
					"field %q not found in %q; available: [%s]", seg, expr, strings.Join(availableKeys, ", ")).
					WithDetails(map[string]any{"expression": expr, "available_fields": availableKeys})
			}
			current = val
		default:
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, expr, current).
				WithDetails(map[string]any{"expression": expr})
		}
	}

	return current, nil
}

// missingNodeErr builds an error for missing node references with available nodes listed.
func (interp *Interpolator) missingNodeErr(expr, id string, scope *EvalScope) *schema.ConductorError {
	available := mapKeys(scope.Nodes)
	return schema.NewErrorf(schema.ErrCodeExpression,
		"node %q not found in ${{%s}}; available nodes: [%s]", id, expr, strings.Join(available, ", ")).
		WithNode(id).
		WithDetails(map[string]any{"expression": expr, "available_nodes": available})
}

// marshalInline converts a resolved value into its inline JSON representation.
// Strings are embedded without extra quotes when the reference is the entire
// value. For complex types (maps, slices), JSON-encode inline.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// mapKeys returns sorted keys from a map[string]any.
func mapKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Simple insertion sort for small slices.
	for i := 1; i < len(keys); i++ {
		key := keys[i]
		j := i - 1
		for j >= 0 && keys[j] > key {
			keys[j+1] = keys[j]
			j--
		}
		keys[j+1] = key
	}
	return keys
}

// HasInterpolation checks if text contains any ${{...}} references.
func HasInterpolation(s string) bool {
	return strings.Contains(s, "${{")
}

// DetectCircularRefs checks for circular references between nodes scheduled
// into the same phase. A circular reference occurs when node A's prompt
// references node B's output and node B's prompt references node A's output;
// neither can start before the other finishes, so the phase would deadlock.
// texts maps node ID to the node's prompt or raw params.
func DetectCircularRefs(texts map[string]string) error {
	// Build a dependency graph from ${{node.<id>.output}} references.
	refs := make(map[string]map[string]bool) // node ID -> set of referenced node IDs

	for id, text := range texts {
		if text == "" {
			continue
		}
		extracted := extractNodeRefs(text)
		if len(extracted) > 0 {
			refs[id] = extracted
		}
	}

	// Detect cycles using DFS.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(refs))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for dep := range refs[id] {
			switch color[dep] {
			case gray:
				return schema.NewErrorf(schema.ErrCodeExpression,
					"circular variable reference detected: %s -> %s", id, dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range refs {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}

	return nil
}

// extractNodeRefs finds all node IDs referenced via ${{node.<id>.output...}} in a string.
func extractNodeRefs(s string) map[string]bool {
	refs := make(map[string]bool)
	for {
		idx := strings.Index(s, "${{node.")
		if idx == -1 {
			break
		}
		// Skip past "${{node."
		rest := s[idx+len("${{node."):]
		dotIdx := strings.IndexByte(rest, '.')
		closeIdx := strings.Index(rest, "}}")
		if closeIdx == -1 {
			break
		}
		var nodeID string
		if dotIdx != -1 && dotIdx < closeIdx {
			nodeID = rest[:dotIdx]
		} else {
			nodeID = rest[:closeIdx]
		}
		nodeID = strings.TrimSpace(nodeID)
		if nodeID != "" {
			refs[nodeID] = true
		}
		s = rest[closeIdx+2:]
	}
	return refs
}
