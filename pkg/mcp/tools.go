package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/conductor/internal/diagram"
	"github.com/rendis/conductor/internal/store"
	"github.com/rendis/conductor/pkg/schema"
)

// handleCompile validates and compiles a flow graph, optionally persisting
// the flow and the resulting strategy.
func (s *ConductorServer) handleCompile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	g, errResult := parseFlowArg(req)
	if errResult != nil {
		return errResult, nil
	}

	result := s.validator.Validate(g)
	if !result.Valid() {
		return marshalResult(map[string]any{
			"compiled":   false,
			"validation": result,
		})
	}

	strategy := s.compiler.CompileStrategy(g)

	response := map[string]any{
		"compiled":   true,
		"strategy":   strategy,
		"validation": result,
	}

	persist := req.GetBool("persist", s.store != nil)
	if persist {
		if s.store == nil {
			return mcp.NewToolResultError("persist requested but no store is configured"), nil
		}
		now := time.Now().UTC()
		if err := s.store.SaveFlow(ctx, &store.Flow{
			ID: g.ID, Name: g.Name, Graph: *g, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to store flow: %v", err)), nil
		}

		record := &store.CompiledStrategy{
			ID:                     uuid.New().String(),
			FlowID:                 g.ID,
			Strategy:               *strategy,
			EstimatedLLMCalls:      strategy.EstimatedLLMCalls,
			EstimatedDirectActions: strategy.EstimatedDirectActions,
			ConductorUsed:          strategy.ConductorUsed,
			CreatedAt:              now,
		}
		if err := s.store.RecordStrategy(ctx, record); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to store strategy: %v", err)), nil
		}
		response["strategy_id"] = record.ID
	}

	// Remember which session compiled this flow so recompiles can notify it.
	s.captureSession(ctx, g.ID)
	_ = s.notifier.Notify(ctx, g.ID, map[string]any{
		"event":               "flow_compiled",
		"flow_id":             g.ID,
		"estimated_llm_calls": strategy.EstimatedLLMCalls,
	})

	return marshalResult(response)
}

// handleValidate runs the validation pipeline without compiling.
func (s *ConductorServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	g, errResult := parseFlowArg(req)
	if errResult != nil {
		return errResult, nil
	}

	result := s.validator.Validate(g)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleDiagram renders a flow, inline or stored, in the requested format.
func (s *ConductorServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" {
		return mcp.NewToolResultError("format must be ascii or mermaid"), nil
	}

	flowID := req.GetString("flow_id", "")
	flowMap := mcp.ParseStringMap(req, "flow", nil)
	if flowID == "" && flowMap == nil {
		return mcp.NewToolResultError("one of flow or flow_id is required"), nil
	}

	var g *schema.FlowGraph
	var strategy *schema.ExecutionStrategy

	includeStrategy := req.GetBool("include_strategy", true)

	if flowID != "" {
		if s.store == nil {
			return mcp.NewToolResultError("flow_id lookup requires a configured store"), nil
		}
		flow, getErr := s.store.GetFlow(ctx, flowID)
		if getErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("flow not found: %v", getErr)), nil
		}
		g = &flow.Graph
		if includeStrategy {
			// The latest stored strategy, when one exists; fall back to a
			// fresh compile.
			if cs, csErr := s.store.LatestStrategy(ctx, flowID); csErr == nil {
				strategy = &cs.Strategy
			}
		}
	} else {
		var errResult *mcp.CallToolResult
		g, errResult = parseFlowArg(req)
		if errResult != nil {
			return errResult, nil
		}
	}

	if includeStrategy && strategy == nil {
		strategy = s.compiler.CompileStrategy(g)
	}

	model, buildErr := diagram.Build(g, strategy)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	default:
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	}
}

// handleFlows lists flows, strategies, or runs based on filters.
func (s *ConductorServer) handleFlows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("no store is configured"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "flows":
		return s.queryFlows(ctx, filter)
	case "strategies":
		return s.queryStrategies(ctx, filter)
	case "runs":
		return s.queryRuns(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *ConductorServer) queryFlows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ff := store.FlowFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if name, ok := filter["name"].(string); ok {
		ff.Name = name
	}

	flows, err := s.store.ListFlows(ctx, ff)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"flows": flows})
}

func (s *ConductorServer) queryStrategies(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	sf := store.StrategyFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if flowID, ok := filter["flow_id"].(string); ok {
		sf.FlowID = flowID
	}

	strategies, err := s.store.ListStrategies(ctx, sf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"strategies": strategies})
}

func (s *ConductorServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if flowID, ok := filter["flow_id"].(string); ok {
		rf.FlowID = flowID
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rf.Status = store.RunStatus(status)
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

// --- Internal helpers ---

// parseFlowArg decodes the "flow" object argument into a FlowGraph.
// Returns a tool error result on failure.
func parseFlowArg(req mcp.CallToolRequest) (*schema.FlowGraph, *mcp.CallToolResult) {
	flowMap := mcp.ParseStringMap(req, "flow", nil)
	if flowMap == nil {
		return nil, mcp.NewToolResultError("flow is required")
	}

	raw, err := json.Marshal(flowMap)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid flow: %v", err))
	}
	var g schema.FlowGraph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid flow: %v", err))
	}
	return &g, nil
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps the flow ID to the current MCP session for notifications.
func (s *ConductorServer) captureSession(ctx context.Context, flowID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(flowID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
