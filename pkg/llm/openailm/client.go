package openailm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"spendbot/pkg/llm"
	"spendbot/pkg/tools"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

// Client is a wrapper around the official OpenAI Go SDK using the
// Responses API.
type Client struct {
	client       *openai.Client
	provider     string
	model        string
	debugEnabled bool
	options      map[string]any
}

// NewClient creates a new OpenAI client
func NewClient(provider string, apiKey string, model string, baseURL string, options map[string]any) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}

	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	return &Client{
		client:   &client,
		provider: provider,
		model:    model,
		options:  options,
	}
}

func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) SetDebug(enabled bool) {
	c.debugEnabled = enabled
}

// Generate issues one non-streaming Responses call.
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Step, error) {
	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertMessages(req.Messages),
		},
	}
	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}
	if tools := convertTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	opts := []option.RequestOption{}

	// Handle unified "thinking_effort" option
	if effortStr, ok := c.options["thinking_effort"].(string); ok && effortStr != "" && effortStr != "off" {
		var effort shared.ReasoningEffort
		switch effortStr {
		case "low":
			effort = shared.ReasoningEffortLow
		case "high":
			effort = shared.ReasoningEffortHigh
		default:
			effort = shared.ReasoningEffortMedium
		}
		params.Reasoning = shared.ReasoningParam{Effort: effort}
	}
	if t, ok := c.options["temperature"].(float64); ok {
		opts = append(opts, option.WithJSONSet("temperature", t))
	}
	if p, ok := c.options["top_p"].(float64); ok {
		opts = append(opts, option.WithJSONSet("top_p", p))
	}
	if maxTok, ok := c.options["max_tokens"].(float64); ok {
		opts = append(opts, option.WithJSONSet("max_output_tokens", int(maxTok)))
	}

	debugger := llm.NewDebugger(ctx, c.provider, c.debugEnabled)
	defer debugger.Close()

	resp, err := c.client.Responses.New(ctx, params, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s responses call: %w", c.provider, err)
	}
	debugger.WriteString(resp.RawJSON())

	step := convertOutput(resp)
	llm.LogUsage(ctx, c.model, step.Usage)
	return step, nil
}

func convertMessages(messages []llm.Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.GetTextContent(),
				responses.EasyInputMessageRoleSystem,
			))
		case llm.RoleUser:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.GetTextContent(),
				responses.EasyInputMessageRoleUser,
			))
		case llm.RoleAssistant:
			if text := m.GetTextContent(); text != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(
					text,
					responses.EasyInputMessageRoleAssistant,
				))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Function.Arguments
				if args == "" {
					args = "{}"
				}
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(args, tc.ID, tc.Name))
			}
		case llm.RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(
				m.ToolCallID,
				m.GetTextContent(),
			))
		}
	}

	return items
}

// convertTools marks a tool strict only when its schema requires every
// property; the API rejects strict tools with optional fields.
func convertTools(descriptors []tools.Descriptor) []responses.ToolUnionParam {
	out := make([]responses.ToolUnionParam, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  d.Parameters,
				Strict:      openai.Bool(d.Strict && tools.StrictCompatible(d.Parameters)),
			},
		})
	}
	return out
}

// convertOutput keeps function calls and messages in emission order.
// Reasoning and other item types are dropped.
func convertOutput(resp *responses.Response) *llm.Step {
	step := &llm.Step{}
	for _, item := range resp.Output {
		switch item.Type {
		case "function_call":
			fc := item.AsFunctionCall()
			step.Items = append(step.Items, llm.Item{
				Type: llm.ItemFunctionCall,
				Call: llm.ToolCall{
					ID:   fc.CallID,
					Name: fc.Name,
					Function: llm.FunctionCall{
						Name:      fc.Name,
						Arguments: fc.Arguments,
					},
				},
			})
		case "message":
			msg := item.AsMessage()
			var sb strings.Builder
			for _, part := range msg.Content {
				if part.Type == "output_text" {
					sb.WriteString(part.Text)
				}
			}
			step.Items = append(step.Items, llm.Item{Type: llm.ItemMessage, Text: sb.String()})
		default:
			slog.Debug("Skipping output item", "type", item.Type)
		}
	}

	if resp.Usage.TotalTokens > 0 {
		step.Usage = &llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
			CachedTokens:     int(resp.Usage.InputTokensDetails.CachedTokens),
			StopReason:       string(resp.Status),
		}
	}
	return step
}
