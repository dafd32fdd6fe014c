package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// CompileNotifier pushes compile results to connected clients.
type CompileNotifier interface {
	Notify(ctx context.Context, flowID string, payload map[string]any) error
}

// MCPNotifier implements CompileNotifier using MCP push notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via the MCP server.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the session watching the flow.
// Best-effort: returns nil if no client is watching.
func (n *MCPNotifier) Notify(_ context.Context, flowID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(flowID)
	if !ok {
		return nil // nobody watching, best-effort
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send, not an error.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
