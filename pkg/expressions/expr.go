package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/conductor/pkg/schema"
)

// ExprEngine evaluates deterministic node logic with expr-lang/expr.
// It covers what CEL does not: let bindings, array builtins (filter,
// map, count, any, all, sum, min, max), optional chaining (?.), nil
// coalescing (??), and pipes (|). Condition linting uses it as the
// fallback engine when CEL rejects an expression.
//
// Programs are compiled against an open environment, so every key of
// the data map passed to Evaluate is addressable as a top-level
// variable. Compiled programs are cached by normalized source; safe
// for concurrent use.
type ExprEngine struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewExprEngine creates an ExprEngine with an empty program cache.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{
		programs: make(map[string]*vm.Program),
	}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate runs an expression against the data map. The expression is
// normalized first, so JS-style "===" conditions evaluate directly.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out, nil
}

// Lint compiles an expression without evaluating it, reporting syntax
// errors. Used by flow validation as the fallback check for structured
// conditions CEL cannot compile.
func (e *ExprEngine) Lint(expression string) error {
	_, err := e.compile(expression)
	return err
}

// compile returns the cached program for an expression, compiling and
// caching it on first use.
func (e *ExprEngine) compile(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty expr expression")
	}
	src := NormalizeConditionExpr(expression)

	e.mu.RLock()
	prg, ok := e.programs[src]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	// Compiled without a typed environment: unknown variables resolve
	// at run time from the data map (or fail there).
	compiled, err := expr.Compile(src)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.mu.Lock()
	e.programs[src] = compiled
	e.mu.Unlock()
	return compiled, nil
}

var _ Engine = (*ExprEngine)(nil)
