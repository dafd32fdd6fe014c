package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/conductor/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.NotNil(t, e)
	assert.Equal(t, "cel", e.Name())
}

// --- Normalization ---

func TestNormalizeConditionExpr(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`input.status === "done"`, `input.status == "done"`},
		{`input.status !== "done"`, `input.status != "done"`},
		{`input.count == 5`, `input.count == 5`},
		{`input.count >= 5`, `input.count >= 5`},
		{`a === b && c !== d`, `a == b && c != d`},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeConditionExpr(tc.in), "input: %s", tc.in)
	}
}

func TestCEL_JSStyleEquality(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"input": map[string]any{"status": "done"},
	}

	out, err := e.Evaluate(context.Background(), `input.status === "done"`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), `input.status !== "done"`, data)
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

// --- Basic evaluation ---

func TestCEL_BooleanLiteral(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "true", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_IntegerArithmetic(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "1 + 2", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)
}

// --- Condition-node expressions ---

func TestCEL_Condition_InputAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"input": map[string]any{
			"enabled": true,
			"count":   int64(5),
		},
	}

	t.Run("boolean field", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `input.enabled == true`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("numeric comparison", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `input.count > 3`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("numeric comparison false", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `input.count > 10`, data)
		require.NoError(t, err)
		assert.Equal(t, false, out)
	})
}

func TestCEL_Condition_NodeOutputAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"node": map[string]any{
			"fetch": map[string]any{
				"output": map[string]any{
					"status": int64(200),
					"body":   "ok",
				},
			},
		},
	}

	t.Run("nested field access", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `node.fetch.output.status == 200`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("string field", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `node.fetch.output.body == "ok"`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})
}

func TestCEL_Condition_FlowAndContextAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"flow":    map[string]any{"run_id": "r-123"},
		"context": map[string]any{"intent": "summarize"},
	}

	out, err := e.Evaluate(context.Background(), `flow.run_id == "r-123" && context.intent == "summarize"`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

// --- Missing data handling ---

func TestCEL_MissingScopesDefaultToEmptyMaps(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	// No data at all; "input" in ... style membership checks still work.
	out, err := e.Evaluate(context.Background(), `"enabled" in input`, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestCEL_MissingKeyIsRuntimeError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), `input.missing == 1`, map[string]any{})
	require.Error(t, err)

	var cerr *schema.ConductorError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, schema.ErrCodeExpression, cerr.Code)
}

// --- Errors ---

func TestCEL_EmptyExpression(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "input.count >", nil)
	require.Error(t, err)

	var cerr *schema.ConductorError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, schema.ErrCodeExpression, cerr.Code)
	assert.Contains(t, cerr.Message, "compile")
}

func TestCEL_Lint(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	assert.NoError(t, e.Lint(`input.count >= 5`))
	assert.NoError(t, e.Lint(`input.status === "ok"`))
	assert.Error(t, e.Lint(`input.count >=`))
	assert.Error(t, e.Lint(""))
}

// --- Caching and concurrency ---

func TestCEL_CacheReuse(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "1 + 1", nil)
	require.NoError(t, err)

	e.mu.RLock()
	assert.Len(t, e.cache, 1)
	e.mu.RUnlock()

	// Same expression again must not grow the cache.
	_, err = e.Evaluate(context.Background(), "1 + 1", nil)
	require.NoError(t, err)

	e.mu.RLock()
	assert.Len(t, e.cache, 1)
	e.mu.RUnlock()
}

func TestCEL_ConcurrentEvaluate(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), `input.x + 1`, map[string]any{
				"input": map[string]any{"x": int64(41)},
			})
			assert.NoError(t, err)
			assert.Equal(t, int64(42), out)
		}()
	}
	wg.Wait()
}
