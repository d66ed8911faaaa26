package ollama

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"spendbot/pkg/llm"
	"spendbot/pkg/tools"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OllamaClient Ollama API client
type OllamaClient struct {
	client       *api.Client
	model        string
	options      map[string]any
	debugEnabled bool
}

func (o *OllamaClient) SetDebug(enabled bool) {
	o.debugEnabled = enabled
}

// NewOllamaClient creates an Ollama client against baseURL.
func NewOllamaClient(model string, baseURL string, options map[string]any) (*OllamaClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	// The request context bounds each call, so the transport sets no overall timeout.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	httpClient := &http.Client{Transport: &JSONFixingRoundTripper{Proxied: transport}}

	slog.Info("Ollama client initialized", "model", model, "base_url", baseURL)

	return &OllamaClient{
		client:  api.NewClient(u, httpClient),
		model:   model,
		options: options,
	}, nil
}

func (o *OllamaClient) Provider() string {
	return "ollama"
}

// Generate issues one non-streaming chat request.
func (o *OllamaClient) Generate(ctx context.Context, req llm.Request) (*llm.Step, error) {
	ollamaTools, err := convertTools(req.Tools)
	if err != nil {
		return nil, err
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    o.model,
		Messages: convertMessages(req.Instructions, req.Messages),
		Options:  o.options,
		Tools:    ollamaTools,
		Stream:   &stream,
	}

	debugger := llm.NewDebugger(ctx, o.Provider(), o.debugEnabled)
	defer debugger.Close()

	var final api.ChatResponse
	err = o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		debugger.WriteJSON(resp)
		final.Message.Content += resp.Message.Content
		final.Message.ToolCalls = append(final.Message.ToolCalls, resp.Message.ToolCalls...)
		if resp.Done {
			final.Done = true
			final.DoneReason = resp.DoneReason
			final.Metrics = resp.Metrics
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat (%s): %w", o.model, err)
	}

	step := &llm.Step{}
	for _, tc := range final.Message.ToolCalls {
		argsB, err := json.Marshal(tc.Function.Arguments)
		if err != nil {
			slog.Warn("Failed to marshal tool call arguments", "provider", "ollama", "error", err)
			argsB = []byte("{}")
		}
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		step.Items = append(step.Items, llm.Item{
			Type: llm.ItemFunctionCall,
			Call: llm.ToolCall{
				ID:   id,
				Name: tc.Function.Name,
				Function: llm.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: string(argsB),
				},
			},
		})
	}
	if strings.TrimSpace(final.Message.Content) != "" {
		step.Items = append(step.Items, llm.Item{Type: llm.ItemMessage, Text: final.Message.Content})
	}

	step.Usage = &llm.Usage{
		PromptTokens:     final.PromptEvalCount,
		CompletionTokens: final.EvalCount,
		TotalTokens:      final.PromptEvalCount + final.EvalCount,
		StopReason:       final.DoneReason,
	}
	if final.DoneReason == "length" {
		slog.WarnContext(ctx, "Response truncated due to length", "provider", "ollama")
	}
	llm.LogUsage(ctx, o.model, step.Usage)
	return step, nil
}

// convertTools goes through JSON because api.Tool nests its schema types.
func convertTools(descriptors []tools.Descriptor) ([]api.Tool, error) {
	if len(descriptors) == 0 {
		return nil, nil
	}
	raw := make([]map[string]any, 0, len(descriptors))
	for _, d := range descriptors {
		raw = append(raw, llm.ToolSchema(d))
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal tools: %w", err)
	}
	var out []api.Tool
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("convert tools: %w", err)
	}
	return out, nil
}

// convertMessages converts messages to Ollama API format
func convertMessages(instructions string, messages []llm.Message) []api.Message {
	ollamaMsgs := make([]api.Message, 0, len(messages)+1)
	if instructions != "" {
		ollamaMsgs = append(ollamaMsgs, api.Message{Role: llm.RoleSystem, Content: instructions})
	}

	for _, m := range messages {
		msg := api.Message{
			Role:    m.Role,
			Content: m.GetTextContent(),
		}

		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			var ollamaToolCalls []api.ToolCall
			for _, tc := range m.ToolCalls {
				args := tc.Function.Arguments
				if args == "" {
					args = "{}"
				}
				var apiArgs api.ToolCallFunctionArguments
				if err := json.Unmarshal([]byte(args), &apiArgs); err != nil {
					slog.Warn("Failed to unmarshal tool arguments for history", "provider", "ollama", "error", err)
				}
				ollamaToolCalls = append(ollamaToolCalls, api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Function.Name,
						Arguments: apiArgs,
					},
				})
			}
			msg.ToolCalls = ollamaToolCalls
		}

		if m.Role == llm.RoleTool {
			msg.ToolCallID = m.ToolCallID
			msg.ToolName = m.ToolName
		}

		ollamaMsgs = append(ollamaMsgs, msg)
	}

	return ollamaMsgs
}

//----------------------------------------------------------------
// JSONFixingRoundTripper - Interceptor that fixes illegal JSON escapes
//----------------------------------------------------------------

// JSONFixingRoundTripper intercepts response and fixes illegal escapes (e.g., \$)
type JSONFixingRoundTripper struct {
	Proxied http.RoundTripper
}

func (j *JSONFixingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := j.Proxied.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") ||
		strings.Contains(resp.Header.Get("Content-Type"), "application/x-ndjson") {
		resp.Body = &jsonFixingReadCloser{body: resp.Body}
	}
	return resp, nil
}

type jsonFixingReadCloser struct {
	body io.ReadCloser
}

var illegalEscapeRegex = regexp.MustCompile(`\\([^\/\\bfnrtu"])`)

func (j *jsonFixingReadCloser) Read(p []byte) (n int, err error) {
	n, err = j.body.Read(p)
	if n > 0 {
		content := string(p[:n])
		fixed := illegalEscapeRegex.ReplaceAllString(content, "$1")
		if len(fixed) < len(content) {
			// Only backslashes are removed, so the fixed text fits in p.
			copy(p, []byte(fixed))
			n = len(fixed)
		}
	}
	return n, err
}

func (j *jsonFixingReadCloser) Close() error {
	return j.body.Close()
}
