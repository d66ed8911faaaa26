package api

import (
	"context"

	"spendbot/pkg/mcp"
)

// ToolCaller invokes one remote tool. Headers are attached to that single
// request only and carry the caller's identity.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any, headers map[string]string) (*mcp.ToolCallResult, error)
}

// ToolLister returns the remote tool catalog.
type ToolLister interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// ToolProvider is the full remote tool-provider surface.
type ToolProvider interface {
	ToolCaller
	ToolLister
}
