package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowfunc/pkg/schema"
)

// stageNotification is the MCP method used for run progress.
const stageNotification = "notifications/message"

// RunNotifier pushes stage events to the client that started a run.
type RunNotifier interface {
	Notify(ctx context.Context, ev schema.StageEvent) error
}

// MCPNotifier implements RunNotifier using MCP server notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes to registered sessions.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends ev to the session that owns its run.
// Best-effort: returns nil if no session owns the run or it has gone away.
func (n *MCPNotifier) Notify(_ context.Context, ev schema.StageEvent) error {
	sessionID, ok := n.sessions.SessionFor(ev.RunID)
	if !ok {
		return nil
	}
	payload := map[string]any{
		"level":  "info",
		"logger": "flowfunc",
		"data": map[string]any{
			"run_id":    ev.RunID,
			"stage":     string(ev.Stage),
			"type":      string(ev.Type),
			"timestamp": ev.Timestamp,
		},
	}
	if ev.Error != "" {
		payload["level"] = "error"
		payload["data"].(map[string]any)["error"] = ev.Error
	}
	if ev.Duration > 0 {
		payload["data"].(map[string]any)["duration_ms"] = ev.Duration.Milliseconds()
	}

	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, stageNotification, payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session closed between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
