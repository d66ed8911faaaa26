package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"spendbot/pkg/llm"
	"spendbot/pkg/tools"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	metaFunctionCall = "gemini_function_call"

	roleUser  = "user"
	roleModel = "model"
)

// GeminiClient Google Gemini API client
type GeminiClient struct {
	client       *genai.Client
	model        string
	useThought   bool
	debugEnabled bool
}

func (g *GeminiClient) SetDebug(enabled bool) {
	g.debugEnabled = enabled
}

// NewGeminiClient creates a Gemini client for one model and API key.
// baseURL overrides the API endpoint and is empty in production.
func NewGeminiClient(ctx context.Context, apiKey, model, baseURL string, useThought bool) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiClient{
		client:     client,
		model:      model,
		useThought: useThought,
	}, nil
}

func (g *GeminiClient) Provider() string {
	return "gemini"
}

// Generate issues one GenerateContent call.
func (g *GeminiClient) Generate(ctx context.Context, req llm.Request) (*llm.Step, error) {
	contents := convertMessages(req.Messages)

	cfg := &genai.GenerateContentConfig{
		Tools: convertTools(req.Tools),
	}
	if req.Instructions != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.Instructions}}}
	}
	if g.useThought {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}

	debugger := llm.NewDebugger(ctx, g.Provider(), g.debugEnabled)
	defer debugger.Close()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate (%s): %w", g.model, err)
	}
	debugger.WriteJSON(resp)

	step := convertResponse(resp)
	llm.LogUsage(ctx, g.model, step.Usage)
	return step, nil
}

func convertTools(descriptors []tools.Descriptor) []*genai.Tool {
	if len(descriptors) == 0 {
		return nil
	}
	fds := make([]*genai.FunctionDeclaration, 0, len(descriptors))
	for _, d := range descriptors {
		fds = append(fds, &genai.FunctionDeclaration{
			Name:                 d.Name,
			Description:          d.Description,
			ParametersJsonSchema: d.Parameters,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fds}}
}

func convertResponse(resp *genai.GenerateContentResponse) *llm.Step {
	step := &llm.Step{}

	if u := resp.UsageMetadata; u != nil {
		step.Usage = &llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
			CachedTokens:     int(u.CachedContentTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return step
	}

	candidate := resp.Candidates[0]
	if step.Usage != nil {
		step.Usage.StopReason = string(candidate.FinishReason)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				args = []byte("{}")
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			step.Items = append(step.Items, llm.Item{
				Type: llm.ItemFunctionCall,
				Call: llm.ToolCall{
					ID:   id,
					Name: part.FunctionCall.Name,
					Function: llm.FunctionCall{
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					},
					// Echoing the original part keeps thought signatures intact.
					Meta: map[string]any{metaFunctionCall: part},
				},
			})
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	if text.Len() > 0 {
		step.Items = append(step.Items, llm.Item{Type: llm.ItemMessage, Text: text.String()})
	}
	return step
}

// convertMessages maps the buffer to GenAI contents. Tool results travel as
// user-role FunctionResponse parts.
func convertMessages(messages []llm.Message) []*genai.Content {
	var contents []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			continue

		case llm.RoleTool:
			contents = append(contents, &genai.Content{
				Role: roleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     msg.ToolName,
						Response: map[string]any{"result": msg.GetTextContent()},
					},
				}},
			})
			continue
		}

		role := roleUser
		if msg.Role == llm.RoleAssistant {
			role = roleModel
		}

		var parts []*genai.Part
		for _, tc := range msg.ToolCalls {
			if original, ok := tc.Meta[metaFunctionCall].(*genai.Part); ok {
				parts = append(parts, original)
				continue
			}
			var args map[string]any
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					slog.Warn("Failed to decode tool arguments for history", "provider", "gemini", "error", err)
				}
			}
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Args: args},
			})
		}
		if text := msg.GetTextContent(); text != "" {
			parts = append(parts, &genai.Part{Text: text})
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}

	return contents
}
