package validation

import (
	"github.com/rendis/conductor/pkg/expressions"
	"github.com/rendis/conductor/pkg/schema"
)

// Validator checks flow graphs for correctness before compilation.
// Uses JSON Schema Draft 2020-12 for structural and input validation.
type Validator interface {
	ValidateGraph(g *schema.FlowGraph) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// FlowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (ids, edge refs, kind-specific config, expression lint)
// 3. Graph (reachability)
type FlowValidator struct {
	jsonSchema *JSONSchemaValidator
	engines    *lintEngines
}

// lintEngines bundles the expression machinery the semantic stage lints
// with. Conditions are checked under CEL first with expr as fallback;
// transforms under gojq; prompt templates under the interpolator's own
// scanner.
type lintEngines struct {
	cel    *expressions.CELEngine
	expr   *expressions.ExprEngine
	jq     *expressions.GoJQEngine
	interp *expressions.Interpolator
}

// NewFlowValidator creates a FlowValidator with fresh expression engines
// for condition, transform, and template linting.
func NewFlowValidator() (*FlowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &FlowValidator{
		jsonSchema: jsv,
		engines: &lintEngines{
			cel:    cel,
			expr:   expressions.NewExprEngine(),
			jq:     expressions.NewGoJQEngine(),
			interp: expressions.NewInterpolator(),
		},
	}, nil
}

// Validate runs the full 3-stage pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and graph stages are skipped.
func (fv *FlowValidator) Validate(g *schema.FlowGraph) *schema.ValidationResult {
	if g == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "flow graph is nil")
		return r
	}

	// Stage 1: Structural (JSON Schema).
	result := validateStructural(fv.jsonSchema, g)
	if !result.Valid() {
		return result
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(g, fv.engines))

	// Stage 3: Graph (skip if semantic errors, ids may be unusable).
	if result.Valid() {
		result.Merge(validateGraphStructure(g))
	}

	return result
}

// ValidateGraph satisfies the Validator interface.
func (fv *FlowValidator) ValidateGraph(g *schema.FlowGraph) error {
	return fv.Validate(g).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (fv *FlowValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return fv.jsonSchema.ValidateInput(input, inputSchema)
}

// validateStructural wraps JSONSchemaValidator.ValidateGraph, converting
// its error output into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, g *schema.FlowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateGraph(g)
	if err == nil {
		return result
	}

	cerr, ok := err.(*schema.ConductorError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if cerr.Details != nil {
		if violations, ok := cerr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, cerr.Message)
	return result
}
