package openailm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"spendbot/pkg/llm"
	"spendbot/pkg/tools"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const responseBody = `{
  "id": "resp_1",
  "object": "response",
  "created_at": 1,
  "status": "completed",
  "model": "gpt-4.1",
  "output": [
    {"type": "reasoning", "id": "rs_1", "summary": []},
    {"type": "function_call", "id": "fc_1", "call_id": "call_2", "name": "reports_post", "arguments": "{\"period\":\"march\"}", "status": "completed"},
    {"type": "message", "id": "msg_1", "role": "assistant", "status": "completed",
     "content": [{"type": "output_text", "text": "Отчет готов", "annotations": []}]}
  ],
  "usage": {"input_tokens": 10, "output_tokens": 5, "total_tokens": 15,
            "input_tokens_details": {"cached_tokens": 2}, "output_tokens_details": {"reasoning_tokens": 0}}
}`

func TestGenerate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" {
			t.Errorf("path = %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, responseBody)
	}))
	defer srv.Close()

	client := NewClient("openai", "test-key", "gpt-4.1", srv.URL+"/v1/", nil)

	call := llm.ToolCall{ID: "call_1", Name: "expenses_get", Function: llm.FunctionCall{Name: "expenses_get", Arguments: `{}`}}
	step, err := client.Generate(context.Background(), llm.Request{
		Instructions: "You are an expense accounting assistant.",
		Messages: []llm.Message{
			llm.NewUserMessage("Сколько я потратил?"),
			llm.NewToolCallMessage(call),
			llm.NewToolResultMessage("call_1", "expenses_get", `[]`),
		},
		Tools: []tools.Descriptor{{
			Name:       "reports_post",
			Parameters: map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": false},
			Strict:     true,
		}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if body["instructions"] != "You are an expense accounting assistant." {
		t.Errorf("instructions = %v", body["instructions"])
	}
	toolList, _ := body["tools"].([]any)
	if len(toolList) != 1 || toolList[0].(map[string]any)["strict"] != true {
		t.Errorf("tools = %v", body["tools"])
	}
	input, _ := body["input"].([]any)
	if len(input) != 3 {
		t.Fatalf("input items = %d, want 3", len(input))
	}
	if input[1].(map[string]any)["type"] != "function_call" || input[2].(map[string]any)["type"] != "function_call_output" {
		t.Errorf("tool items = %v", input[1:])
	}
	if input[2].(map[string]any)["call_id"] != "call_1" {
		t.Errorf("result call id = %v", input[2])
	}

	if len(step.Items) != 2 {
		t.Fatalf("items = %+v, want call and message", step.Items)
	}
	if step.Items[0].Type != llm.ItemFunctionCall || step.Items[0].Call.ID != "call_2" || step.Items[0].Call.Function.Arguments != `{"period":"march"}` {
		t.Errorf("call item = %+v", step.Items[0])
	}
	if step.Items[1].Type != llm.ItemMessage || step.Items[1].Text != "Отчет готов" {
		t.Errorf("message item = %+v", step.Items[1])
	}
	if step.Usage == nil || step.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", step.Usage)
	}
}

func TestGenerateError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"bad schema","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	client := NewClient("openai", "k", "gpt-4.1", srv.URL+"/v1/", nil)
	if _, err := client.Generate(context.Background(), llm.Request{Messages: []llm.Message{llm.NewUserMessage("hi")}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestConvertToolsStrictOnlyWhenAllRequired(t *testing.T) {
	schema := func(required ...any) map[string]any {
		return tools.NormalizeSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount":      map[string]any{"type": "number"},
				"description": map[string]any{"type": "string"},
			},
			"required": required,
		})
	}
	out := convertTools([]tools.Descriptor{
		{Name: "expenses_post", Parameters: schema("amount"), Strict: true},
		{Name: "expenses_put", Parameters: schema("amount", "description"), Strict: true},
		{Name: "reports_post", Parameters: schema("amount", "description"), Strict: false},
	})

	want := map[string]bool{"expenses_post": false, "expenses_put": true, "reports_post": false}
	for _, tool := range out {
		fn := tool.OfFunction
		if got := fn.Strict.Value; got != want[fn.Name] {
			t.Errorf("%s strict = %v, want %v", fn.Name, got, want[fn.Name])
		}
	}
}
