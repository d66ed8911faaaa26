package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client is an MCP client bound to one tool-provider.
type Client struct {
	config     Config
	impl       *mcpsdk.Client
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.RWMutex
	session *mcpsdk.ClientSession
	info    ServerInfo
}

// NewClient creates a client. Nothing is sent until Connect.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: cfg,
		impl:   mcpsdk.NewClient(&mcpsdk.Implementation{Name: "spendbot", Version: "1.0.0"}, nil),
		httpClient: &http.Client{Transport: &headerTransport{
			base:   http.DefaultTransport,
			static: cfg.Headers,
		}},
		logger: logger.With("component", "mcp"),
	}
}

// Connect performs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	transport := &mcpsdk.StreamableClientTransport{
		Endpoint:   c.config.URL,
		HTTPClient: c.httpClient,
	}
	session, err := c.impl.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("initialize: %w", convertError(err))
	}

	var info ServerInfo
	protocol := ""
	if res := session.InitializeResult(); res != nil {
		protocol = res.ProtocolVersion
		if res.ServerInfo != nil {
			info = ServerInfo{Name: res.ServerInfo.Name, Version: res.ServerInfo.Version}
		}
	}

	c.mu.Lock()
	c.session = session
	c.info = info
	c.mu.Unlock()

	c.logger.Info("MCP session established",
		"server", info.Name,
		"version", info.Version,
		"protocol", protocol,
		"session", session.ID())
	return nil
}

// Close terminates the session.
func (c *Client) Close() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

// ServerInfo returns the server's self-description.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Connected reports whether a session is open.
func (c *Client) Connected() bool {
	return c.current() != nil
}

func (c *Client) current() *mcpsdk.ClientSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// ListTools returns the full tool catalog across all pages.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	session := c.current()
	if session == nil {
		return nil, fmt.Errorf("not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout())
	defer cancel()

	var tools []Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("tools/list: %w", convertError(err))
		}
		schema, err := schemaMap(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", tool.Name, err)
		}
		tools = append(tools, Tool{Name: tool.Name, Description: tool.Description, InputSchema: schema})
	}
	return tools, nil
}

// CallTool invokes a tool. headers are attached to this request only.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any, headers map[string]string) (*ToolCallResult, error) {
	session := c.current()
	if session == nil {
		return nil, fmt.Errorf("not connected")
	}
	if arguments == nil {
		arguments = map[string]any{}
	}

	ctx, cancel := context.WithTimeout(withHeaders(ctx, headers), c.config.Timeout())
	defer cancel()

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, convertError(err))
	}
	return toResult(res), nil
}

func toResult(res *mcpsdk.CallToolResult) *ToolCallResult {
	out := &ToolCallResult{IsError: res.IsError}
	for _, item := range res.Content {
		switch v := item.(type) {
		case *mcpsdk.TextContent:
			out.Content = append(out.Content, ToolResultContent{Type: "text", Text: v.Text})
		case *mcpsdk.ImageContent:
			out.Content = append(out.Content, ToolResultContent{Type: "image", MimeType: v.MIMEType, Data: base64.StdEncoding.EncodeToString(v.Data)})
		case *mcpsdk.AudioContent:
			out.Content = append(out.Content, ToolResultContent{Type: "audio", MimeType: v.MIMEType, Data: base64.StdEncoding.EncodeToString(v.Data)})
		}
	}
	// Structured-only results still reach the model as text.
	if len(out.Texts()) == 0 && res.StructuredContent != nil {
		if b, err := json.Marshal(res.StructuredContent); err == nil {
			out.Content = append(out.Content, ToolResultContent{Type: "text", Text: string(b)})
		}
	}
	return out
}

func schemaMap(schema any) (map[string]any, error) {
	if schema == nil {
		return nil, nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m, nil
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	return m, nil
}

func convertError(err error) error {
	var wire *jsonrpc.Error
	if errors.As(err, &wire) {
		return &JSONRPCError{Code: wire.Code, Message: wire.Message}
	}
	return err
}
