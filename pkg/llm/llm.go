package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"spendbot/pkg/tools"

	jsoniter "github.com/json-iterator/go"
)

// json is used for all JSON handling inside package llm.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Usage is the token accounting of one generation.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	CachedTokens     int    `json:"cached_tokens,omitempty"`
	StopReason       string `json:"stop_reason,omitempty"`
}

// LogUsage prints the usage of a generation at debug level.
func LogUsage(ctx context.Context, model string, usage *Usage) {
	if usage == nil {
		return
	}
	slog.DebugContext(ctx, "Token usage",
		"model", model,
		"prompt", usage.PromptTokens,
		"completion", usage.CompletionTokens,
		"total", usage.TotalTokens,
		"cached", usage.CachedTokens,
		"stop", usage.StopReason,
	)
}

// ItemType discriminates the output items of a step.
type ItemType string

const (
	ItemFunctionCall ItemType = "function_call"
	ItemMessage      ItemType = "message"
)

// Item is one output item of a model step: a tool call or a final message.
type Item struct {
	Type ItemType
	Call ToolCall
	Text string
}

// Step is the ordered output of one model generation.
type Step struct {
	Items []Item
	Usage *Usage
}

// Empty reports whether the step carries nothing actionable.
func (s *Step) Empty() bool {
	if s == nil {
		return true
	}
	for _, it := range s.Items {
		if it.Type == ItemFunctionCall || strings.TrimSpace(it.Text) != "" {
			return false
		}
	}
	return true
}

// Request is everything a provider needs for one generation.
type Request struct {
	Instructions string
	Messages     []Message
	Tools        []tools.Descriptor
}

// ModelClient is a single model endpoint. Implementations must not retry.
type ModelClient interface {
	Provider() string
	Generate(ctx context.Context, req Request) (*Step, error)
}

// ToolSchema renders a descriptor as the generic function-tool JSON shape
// shared by the chat-style providers.
func ToolSchema(d tools.Descriptor) map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"parameters":  d.Parameters,
		},
	}
}

// checkOrdering verifies that every tool result follows its request and that
// no request is left without a result.
func checkOrdering(msgs []Message) error {
	open := make(map[string]bool)
	var order []string
	for i, m := range msgs {
		for _, tc := range m.ToolCalls {
			open[tc.ID] = true
			order = append(order, tc.ID)
		}
		if m.Role != RoleTool {
			continue
		}
		if !open[m.ToolCallID] {
			return fmt.Errorf("tool result %q at position %d has no preceding request", m.ToolCallID, i)
		}
		delete(open, m.ToolCallID)
	}
	for _, id := range order {
		if open[id] {
			return fmt.Errorf("tool call %q has no result", id)
		}
	}
	return nil
}
