package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"spendbot/pkg/api"
	"spendbot/pkg/llm"
	"spendbot/pkg/mcp"
)

type call struct {
	name    string
	args    map[string]any
	headers map[string]string
}

type fakeCaller struct {
	mu     sync.Mutex
	calls  []call
	result *mcp.ToolCallResult
	err    error
}

func (f *fakeCaller) CallTool(ctx context.Context, name string, args map[string]any, headers map[string]string) (*mcp.ToolCallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name, args, headers})
	return f.result, f.err
}

func textResult(text string, isError bool) *mcp.ToolCallResult {
	return &mcp.ToolCallResult{Content: []mcp.ToolResultContent{{Type: "text", Text: text}}, IsError: isError}
}

var sess = api.SessionContext{ChannelID: "telegram", UserID: "42", ChatID: "42", Username: "Ann"}

func identity(s api.SessionContext) map[string]string {
	return map[string]string{"X-Telegram-Id": s.UserID}
}

func TestToolStoreLoad(t *testing.T) {
	caller := &fakeCaller{result: textResult(`{"messages":[
		{"role":"user","content":"q1"},{"role":"assistant","content":"a1"},
		{"role":"tool","content":"skip"},{"role":"user","content":"q2"}]}`, false)}
	store := NewToolStore(caller, identity)

	msgs, err := store.Load(context.Background(), sess, 10)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 3 || msgs[2].GetTextContent() != "q2" {
		t.Errorf("msgs = %+v", msgs)
	}

	c := caller.calls[0]
	if c.name != LoadToolName || c.args["limit"] != 10 || c.args["userId"] != int64(42) {
		t.Errorf("call = %+v", c)
	}
	if c.headers["X-Telegram-Id"] != "42" {
		t.Errorf("headers = %v", c.headers)
	}
}

func TestToolStoreLoadParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		result *mcp.ToolCallResult
	}{
		{"not json", textResult("Messages: none", false)},
		{"flagged error", textResult(`{"messages":[]}`, true)},
		{"empty", textResult("", false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewToolStore(&fakeCaller{result: tt.result}, identity)
			_, err := store.Load(context.Background(), sess, 10)
			var perr *api.HistoryParseError
			if !errors.As(err, &perr) || perr.UserID != "42" {
				t.Fatalf("err = %v, want HistoryParseError", err)
			}
		})
	}
}

func TestToolStoreAppend(t *testing.T) {
	caller := &fakeCaller{result: textResult("ok", false)}
	store := NewToolStore(caller, identity)

	err := store.Append(context.Background(), sess, []llm.Message{
		llm.NewUserMessage("кофе 200"),
		llm.NewToolCallMessage(llm.ToolCall{ID: "c1", Name: "expenses_post"}),
		llm.NewAssistantMessage("Записал"),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(caller.calls) != 1 || caller.calls[0].name != AppendToolName {
		t.Fatalf("calls = %+v", caller.calls)
	}
	payload := caller.calls[0].args["messages"].([]any)
	if len(payload) != 2 {
		t.Errorf("only user and assistant text is durable, got %v", payload)
	}

	if err := store.Append(context.Background(), sess, nil); err != nil || len(caller.calls) != 1 {
		t.Error("empty append must not call the provider")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	if msgs, err := store.Load(context.Background(), sess, 10); err != nil || len(msgs) != 0 {
		t.Fatalf("fresh Load = %v, %v", msgs, err)
	}

	store.Append(context.Background(), sess, []llm.Message{llm.NewUserMessage("q1"), llm.NewAssistantMessage("a1")})
	store.Append(context.Background(), sess, []llm.Message{llm.NewUserMessage("q2"), llm.NewAssistantMessage("a2")})

	msgs, err := store.Load(context.Background(), sess, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 || msgs[0].GetTextContent() != "a1" {
		t.Errorf("msgs = %+v", msgs)
	}

	if _, err := os.Stat(filepath.Join(dir, "history_42.json")); err != nil {
		t.Errorf("history file missing: %v", err)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(dir)
	os.WriteFile(filepath.Join(dir, "history_42.json"), []byte("{broken"), 0644)

	_, err := store.Load(context.Background(), sess, 10)
	var perr *api.HistoryParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v", err)
	}
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	var km KeyedMutex
	unlock := km.Lock("a")

	acquired := make(chan struct{})
	go func() {
		release := km.Lock("a")
		close(acquired)
		release()
	}()

	// Another key is independent.
	km.Lock("b")()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock never released")
	}
}
