package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/conductor/internal/store"
	condmcp "github.com/rendis/conductor/pkg/mcp"
	"github.com/rendis/conductor/pkg/schema"
)

// --- Test infrastructure ---

// testEnv holds all real dependencies for E2E tests.
type testEnv struct {
	store  *store.LibSQLStore
	server *condmcp.ConductorServer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "e2e.db")
	s, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
	})

	srv, err := condmcp.NewConductorServer(condmcp.ConductorServerDeps{Store: s})
	require.NoError(t, err)

	return &testEnv{store: s, server: srv}
}

// callTool invokes a tool handler through the MCP server's HandleMessage (full JSON-RPC round-trip).
func (e *testEnv) callTool(t *testing.T, toolName string, args map[string]any) *mcp.CallToolResult {
	t.Helper()

	initMsg := map[string]any{
		"jsonrpc": "2.0",
		"id":      0,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo": map[string]any{
				"name":    "e2e-test",
				"version": "1.0.0",
			},
		},
	}
	rawInit, err := json.Marshal(initMsg)
	require.NoError(t, err)

	reqMsg := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": args,
		},
	}
	rawReq, err := json.Marshal(reqMsg)
	require.NoError(t, err)

	ctx := context.Background()
	mcpSrv := e.server.MCPServer()

	initResp := mcpSrv.HandleMessage(ctx, rawInit)
	require.NotNil(t, initResp)

	resp := mcpSrv.HandleMessage(ctx, rawReq)
	require.NotNil(t, resp)

	respBytes, err := json.Marshal(resp)
	require.NoError(t, err)

	var rpcResp struct {
		Result *mcp.CallToolResult `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))

	if rpcResp.Error != nil {
		t.Fatalf("JSON-RPC error: code=%d, msg=%s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	require.NotNil(t, rpcResp.Result)
	return rpcResp.Result
}

// extractJSON extracts text content from a tool result and parses it as JSON.
func extractJSON(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text := mcp.GetTextFromContent(result.Content[0])
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

// extractText extracts text content from a tool result.
func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

// --- Test flows ---

// researchFlow is a linear pipeline whose two middle agent nodes collapse
// into a single merged-prompt unit.
func researchFlow(id string) map[string]any {
	return map[string]any{
		"id":   id,
		"name": "Research Pipeline",
		"nodes": []any{
			map[string]any{"id": "t", "kind": "trigger", "config": map[string]any{}},
			map[string]any{"id": "research", "kind": "agent", "config": map[string]any{
				"label":  "Research",
				"prompt": "Research the topic thoroughly.",
			}},
			map[string]any{"id": "summarize", "kind": "agent", "config": map[string]any{
				"label":  "Summarize",
				"prompt": "Summarize the research findings.",
			}},
			map[string]any{"id": "out", "kind": "output", "config": map[string]any{}},
		},
		"edges": []any{
			map[string]any{"id": "e1", "from": "t", "to": "research", "kind": "forward"},
			map[string]any{"id": "e2", "from": "research", "to": "summarize", "kind": "forward"},
			map[string]any{"id": "e3", "from": "summarize", "to": "out", "kind": "forward"},
		},
	}
}

// debateFlow holds a bidirectional pair of agents with distinct agent ids,
// which compiles into a mesh unit.
func debateFlow(id string) map[string]any {
	return map[string]any{
		"id":   id,
		"name": "Debate",
		"nodes": []any{
			map[string]any{"id": "t", "kind": "trigger", "config": map[string]any{}},
			map[string]any{"id": "drafter", "kind": "agent", "config": map[string]any{
				"agent_id": "drafter", "prompt": "Draft the argument.",
			}},
			map[string]any{"id": "critic", "kind": "agent", "config": map[string]any{
				"agent_id": "critic", "prompt": "Critique the draft.",
			}},
			map[string]any{"id": "out", "kind": "output", "config": map[string]any{}},
		},
		"edges": []any{
			map[string]any{"id": "e1", "from": "t", "to": "drafter", "kind": "forward"},
			map[string]any{"id": "e2", "from": "drafter", "to": "critic", "kind": "bidirectional"},
			map[string]any{"id": "e3", "from": "critic", "to": "out", "kind": "forward"},
		},
	}
}

// --- E2E tests ---

// TestMCPFullLifecycle exercises the complete tool surface:
// compile (persisting) -> query flows/strategies -> diagram by flow id -> validate.
func TestMCPFullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 1. Compile and persist.
	compileResult := env.callTool(t, "conductor.compile", map[string]any{
		"flow": researchFlow("e2e-research"),
	})
	require.False(t, compileResult.IsError, "compile failed: %s", extractText(t, compileResult))

	var compiled struct {
		Compiled   bool                     `json:"compiled"`
		Strategy   *schema.ExecutionStrategy `json:"strategy"`
		StrategyID string                   `json:"strategy_id"`
	}
	extractJSON(t, compileResult, &compiled)
	require.True(t, compiled.Compiled)
	require.NotNil(t, compiled.Strategy)
	assert.NotEmpty(t, compiled.StrategyID)
	assert.Equal(t, "e2e-research", compiled.Strategy.GraphID)
	assert.Equal(t, 4, compiled.Strategy.TotalNodes)
	assert.Equal(t, 1, compiled.Strategy.EstimatedLLMCalls, "research+summarize should collapse to one call")

	// 2. The flow and strategy landed in the store.
	flow, err := env.store.GetFlow(ctx, "e2e-research")
	require.NoError(t, err)
	assert.Equal(t, "Research Pipeline", flow.Name)

	latest, err := env.store.LatestStrategy(ctx, "e2e-research")
	require.NoError(t, err)
	assert.Equal(t, compiled.StrategyID, latest.ID)

	// 3. Query via conductor.flows.
	flowsResult := env.callTool(t, "conductor.flows", map[string]any{"resource": "flows"})
	require.False(t, flowsResult.IsError)
	var flowsWrapper struct {
		Flows []store.Flow `json:"flows"`
	}
	extractJSON(t, flowsResult, &flowsWrapper)
	require.Len(t, flowsWrapper.Flows, 1)
	assert.Equal(t, "e2e-research", flowsWrapper.Flows[0].ID)

	strategiesResult := env.callTool(t, "conductor.flows", map[string]any{
		"resource": "strategies",
		"filter":   map[string]any{"flow_id": "e2e-research"},
	})
	require.False(t, strategiesResult.IsError)
	var strategiesWrapper struct {
		Strategies []store.CompiledStrategy `json:"strategies"`
	}
	extractJSON(t, strategiesResult, &strategiesWrapper)
	require.Len(t, strategiesWrapper.Strategies, 1)
	assert.True(t, strategiesWrapper.Strategies[0].ConductorUsed)

	// 4. Diagram by stored flow id uses the stored strategy.
	diagramResult := env.callTool(t, "conductor.diagram", map[string]any{
		"flow_id": "e2e-research",
		"format":  "ascii",
	})
	require.False(t, diagramResult.IsError)
	ascii := extractText(t, diagramResult)
	assert.Contains(t, ascii, "phase 0")
	assert.Contains(t, ascii, "merged units")

	// 5. Validate the same flow.
	validateResult := env.callTool(t, "conductor.validate", map[string]any{
		"flow": researchFlow("e2e-research"),
	})
	require.False(t, validateResult.IsError)
	var validation struct {
		Valid bool `json:"valid"`
	}
	extractJSON(t, validateResult, &validation)
	assert.True(t, validation.Valid)
}

// TestMCPMeshCompile compiles a bidirectional debate flow into a mesh
// and renders it as mermaid.
func TestMCPMeshCompile(t *testing.T) {
	env := newTestEnv(t)

	compileResult := env.callTool(t, "conductor.compile", map[string]any{
		"flow": debateFlow("e2e-debate"),
	})
	require.False(t, compileResult.IsError, "compile failed: %s", extractText(t, compileResult))

	var compiled struct {
		Compiled bool                      `json:"compiled"`
		Strategy *schema.ExecutionStrategy `json:"strategy"`
	}
	extractJSON(t, compileResult, &compiled)
	require.True(t, compiled.Compiled)
	require.NotNil(t, compiled.Strategy)
	assert.Equal(t, 1, compiled.Strategy.Meta.MeshCount)
	assert.Equal(t, 6, compiled.Strategy.EstimatedLLMCalls, "mesh of 2 costs 2x3 calls")

	meshFound := false
	for _, phase := range compiled.Strategy.Phases {
		for _, unit := range phase.Units {
			if unit.Type == schema.UnitMesh {
				meshFound = true
				assert.ElementsMatch(t, []string{"drafter", "critic"}, unit.NodeIDs)
				assert.Equal(t, 5, unit.MaxIterations)
			}
		}
	}
	assert.True(t, meshFound, "strategy should contain a mesh unit")

	diagramResult := env.callTool(t, "conductor.diagram", map[string]any{
		"flow":   debateFlow("e2e-debate"),
		"format": "mermaid",
	})
	require.False(t, diagramResult.IsError)
	mermaid := extractText(t, diagramResult)
	assert.True(t, strings.HasPrefix(mermaid, "graph TD"))
	assert.Contains(t, mermaid, "subgraph")
	assert.Contains(t, mermaid, "<-->")
}

// TestMCPInvalidFlowDoesNotPersist verifies a flow failing validation is
// rejected before compilation and nothing is stored.
func TestMCPInvalidFlowDoesNotPersist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result := env.callTool(t, "conductor.compile", map[string]any{
		"flow": map[string]any{
			"id":    "e2e-invalid",
			"nodes": []any{},
			"edges": []any{},
		},
	})
	require.False(t, result.IsError)

	var compiled struct {
		Compiled bool `json:"compiled"`
	}
	extractJSON(t, result, &compiled)
	assert.False(t, compiled.Compiled)

	_, err := env.store.GetFlow(ctx, "e2e-invalid")
	require.Error(t, err)
	var cerr *schema.ConductorError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, schema.ErrCodeNotFound, cerr.Code)
}

// TestMCPRecompileKeepsHistory compiles the same flow twice and verifies
// both strategies are retained while the flow row is upserted.
func TestMCPRecompileKeepsHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result := env.callTool(t, "conductor.compile", map[string]any{
			"flow": researchFlow("e2e-history"),
		})
		require.False(t, result.IsError, "compile %d failed", i)
	}

	flows, err := env.store.ListFlows(ctx, store.FlowFilter{})
	require.NoError(t, err)
	assert.Len(t, flows, 1)

	strategies, err := env.store.ListStrategies(ctx, store.StrategyFilter{FlowID: "e2e-history"})
	require.NoError(t, err)
	assert.Len(t, strategies, 2)
}

// TestMCPRunQueries seeds runs directly and queries them through the tool.
func TestMCPRunQueries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	compileResult := env.callTool(t, "conductor.compile", map[string]any{
		"flow": researchFlow("e2e-runs"),
	})
	require.False(t, compileResult.IsError)

	latest, err := env.store.LatestStrategy(ctx, "e2e-runs")
	require.NoError(t, err)

	for i, status := range []store.RunStatus{store.RunStatusCompleted, store.RunStatusFailed} {
		require.NoError(t, env.store.CreateRun(ctx, &store.FlowRun{
			ID:         fmt.Sprintf("run-%d", i),
			FlowID:     "e2e-runs",
			StrategyID: latest.ID,
			Status:     status,
		}))
	}

	result := env.callTool(t, "conductor.flows", map[string]any{
		"resource": "runs",
		"filter":   map[string]any{"flow_id": "e2e-runs", "status": "failed"},
	})
	require.False(t, result.IsError)

	var wrapper struct {
		Runs []store.FlowRun `json:"runs"`
	}
	extractJSON(t, result, &wrapper)
	require.Len(t, wrapper.Runs, 1)
	assert.Equal(t, "run-1", wrapper.Runs[0].ID)
	assert.Equal(t, store.RunStatusFailed, wrapper.Runs[0].Status)
}
