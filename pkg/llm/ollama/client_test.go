package ollama

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"spendbot/pkg/llm"
	"spendbot/pkg/tools"
)

func TestGenerateToolCall(t *testing.T) {
	var req map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &req)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"model":"qwen3","created_at":"2025-01-01T00:00:00Z",
			"message":{"role":"assistant","content":"",
			"tool_calls":[{"function":{"name":"expenses_post","arguments":{"amount":5}}}]},
			"done":true,"done_reason":"stop","prompt_eval_count":3,"eval_count":2}`)
	}))
	defer srv.Close()

	client, err := NewOllamaClient("qwen3", srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	step, err := client.Generate(context.Background(), llm.Request{
		Instructions: "system prompt",
		Messages: []llm.Message{
			llm.NewUserMessage("кофе 5"),
			llm.NewToolCallMessage(llm.ToolCall{ID: "c1", Name: "wallets_get", Function: llm.FunctionCall{Name: "wallets_get"}}),
			llm.NewToolResultMessage("c1", "wallets_get", `[{"id":1}]`),
		},
		Tools: []tools.Descriptor{{Name: "expenses_post", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	msgs, _ := req["messages"].([]any)
	if len(msgs) != 4 || msgs[0].(map[string]any)["role"] != "system" {
		t.Fatalf("messages = %v", msgs)
	}
	if msgs[3].(map[string]any)["tool_call_id"] != "c1" {
		t.Errorf("tool result not linked: %v", msgs[3])
	}
	if req["stream"] != false {
		t.Errorf("stream = %v", req["stream"])
	}

	if len(step.Items) != 1 || step.Items[0].Type != llm.ItemFunctionCall {
		t.Fatalf("items = %+v", step.Items)
	}
	call := step.Items[0].Call
	if !strings.HasPrefix(call.ID, "call_") {
		t.Errorf("missing id not generated: %q", call.ID)
	}
	if call.Function.Arguments != `{"amount":5}` {
		t.Errorf("arguments = %s", call.Function.Arguments)
	}
}

func TestJSONFixingReadCloser(t *testing.T) {
	r := &jsonFixingReadCloser{body: io.NopCloser(strings.NewReader(`{"content":"cost \$5"}`))}
	b, _ := io.ReadAll(r)
	if string(b) != `{"content":"cost $5"}` {
		t.Errorf("got %s", b)
	}
}
