package api

import "context"

// AgentEngine defines the interface for the core reasoning engine as seen by
// request/response transports. Ask runs one full turn, waiting for any
// suspended tool call to resolve.
type AgentEngine interface {
	Ask(ctx context.Context, session SessionContext, query string) (string, error)
}
