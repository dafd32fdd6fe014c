package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/conductor/internal/conductor"
	"github.com/rendis/conductor/internal/store"
	"github.com/rendis/conductor/internal/validation"
)

// ConductorServerDeps holds the dependencies for creating a ConductorServer.
// Store is optional; without it compile results are not persisted and the
// flows tool reports an error.
type ConductorServerDeps struct {
	Store     store.Store
	Validator *validation.FlowValidator
	Compiler  *conductor.Compiler
	Logger    *slog.Logger
}

// ConductorServer wraps an MCP server with the conductor tool handlers.
type ConductorServer struct {
	store     store.Store
	validator *validation.FlowValidator
	compiler  *conductor.Compiler
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  *MCPNotifier
	mcpServer *server.MCPServer
}

// NewConductorServer creates a ConductorServer with all 4 tools registered.
func NewConductorServer(deps ConductorServerDeps) (*ConductorServer, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	validator := deps.Validator
	if validator == nil {
		fv, err := validation.NewFlowValidator()
		if err != nil {
			return nil, err
		}
		validator = fv
	}
	compiler := deps.Compiler
	if compiler == nil {
		compiler = conductor.New()
	}

	s := &ConductorServer{
		store:     deps.Store,
		validator: validator,
		compiler:  compiler,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"conductor",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Conductor compiles flow graphs into phased execution strategies. Use conductor.compile to compile a flow, conductor.validate to check one without compiling, conductor.diagram to render a flow as mermaid or ascii, and conductor.flows to query stored flows, strategies, and runs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s, nil
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *ConductorServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ConductorServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 4 registered MCP tools as ServerTool entries.
func (s *ConductorServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: compileTool(), Handler: s.handleCompile},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: flowsTool(), Handler: s.handleFlows},
	}
}

// --- Tool definitions ---

func compileTool() mcp.Tool {
	return mcp.NewTool("conductor.compile",
		mcp.WithDescription("Compile a flow graph into a phased execution strategy"),
		mcp.WithObject("flow", mcp.Required(), mcp.Description("Flow graph object (id, nodes, edges)")),
		mcp.WithBoolean("persist", mcp.Description("Store the flow and the compiled strategy (default: true when a store is configured)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("conductor.validate",
		mcp.WithDescription("Validate a flow graph without compiling it"),
		mcp.WithObject("flow", mcp.Required(), mcp.Description("Flow graph object (id, nodes, edges)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("conductor.diagram",
		mcp.WithDescription("Render a flow graph as a Mermaid flowchart or ASCII phase diagram"),
		mcp.WithObject("flow", mcp.Description("Inline flow graph object")),
		mcp.WithString("flow_id", mcp.Description("ID of a stored flow (alternative to inline flow)")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("mermaid", "ascii"),
			mcp.Description("Output format"),
		),
		mcp.WithBoolean("include_strategy", mcp.Description("Overlay the compiled strategy: phase levels and merged units (default: true)")),
	)
}

func flowsTool() mcp.Tool {
	return mcp.NewTool("conductor.flows",
		mcp.WithDescription("Query stored flows, compiled strategies, or runs"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("flows", "strategies", "runs"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (name, flow_id, status, since, limit, offset)")),
	)
}
