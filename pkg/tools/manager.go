package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/empath/internal/logger"
)

// ToolManager manages the available tools
type ToolManager struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// List returns all registered tools ordered by name
func (m *ToolManager) List() []Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts := make([]Tool, 0, len(m.tools))
	for _, t := range m.tools {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Name() < ts[j].Name() })
	return ts
}

// NewToolManager creates a new ToolManager
func NewToolManager() *ToolManager {
	return &ToolManager{
		tools: make(map[string]Tool),
	}
}

// RegisterTool registers a new tool
func (m *ToolManager) RegisterTool(tool Tool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools[tool.Name()] = tool
}

// GetTool retrieves a tool by name
func (m *ToolManager) GetTool(name string) (Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tool, ok := m.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool, nil
}

// Handle runs the named tool for an MCP call. Tool failures become error
// results so the client sees them; only unknown tools fail the call.
func (m *ToolManager) Handle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tool, err := m.GetTool(request.Params.Name)
	if err != nil {
		return nil, err
	}

	args := "{}"
	if request.Params.Arguments != nil {
		raw, err := json.Marshal(request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError("arguments are not valid JSON"), nil
		}
		args = string(raw)
	}

	logger.FromContext(ctx).Info("tool invoked", "tool", tool.Name())
	out, err := tool.Run(ctx, args)
	if err != nil {
		logger.FromContext(ctx).Warn("tool failed", "tool", tool.Name(), "error", err)
		var um userMessenger
		if errors.As(err, &um) {
			return mcp.NewToolResultError(um.UserMessage()), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

// Server exposes every registered tool on a new MCP server.
func (m *ToolManager) Server(name, version string) *server.MCPServer {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(false))
	for _, t := range m.List() {
		schema := t.Schema()
		if len(schema) == 0 {
			schema = emptySchema
		}
		s.AddTool(mcp.Tool{
			Name:           t.Name(),
			Description:    t.Description(),
			RawInputSchema: schema,
		}, m.Handle)
	}
	return s
}
