// Package mcp connects to the tool-provider over the MCP streamable HTTP
// transport. The protocol itself is handled by the official go-sdk; this
// package keeps the catalog and call results in the shapes the rest of the
// bot works with and attaches per-call identity headers.
package mcp

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds the tool-provider endpoint settings.
type Config struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	// TimeoutMs bounds a single protocol round trip. Zero means 30s.
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

// Timeout returns the per-request timeout.
func (c Config) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Validate checks the endpoint configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("mcp url is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("mcp url must be http or https: %s", c.URL)
	}
	return nil
}

// JSONRPCError is a protocol-level error answered by the provider.
type JSONRPCError struct {
	Code    int64
	Message string
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// ServerInfo is the provider's self-description from initialize.
type ServerInfo struct {
	Name    string
	Version string
}

// Tool is a remote tool descriptor as listed by tools/list.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolResultContent is one content item of a tool result.
type ToolResultContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// ToolCallResult is the tools/call response payload.
type ToolCallResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// Texts returns every text content item in order.
func (r *ToolCallResult) Texts() []string {
	if r == nil {
		return nil
	}
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" || c.Type == "" {
			parts = append(parts, c.Text)
		}
	}
	return parts
}

// Text joins all text content items.
func (r *ToolCallResult) Text() string {
	return strings.Join(r.Texts(), "\n")
}
