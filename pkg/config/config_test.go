package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `{
	"llm": [{"type": "openai", "models": ["gpt-4.1"]}],
	"mcp": {"url": "http://localhost:3000/mcp"}
}`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.History.Backend != "mcp" {
		t.Errorf("backend = %q, want mcp", cfg.History.Backend)
	}
	if cfg.Voice.TieBreak != "longest" {
		t.Errorf("tie_break = %q, want longest", cfg.Voice.TieBreak)
	}
	if strings.Join(cfg.Tools.Hidden, ",") != "messages_get,messages_post" {
		t.Errorf("hidden = %v", cfg.Tools.Hidden)
	}
	if cfg.Tools.ArtifactCleanup["report"] != "reports_delete" {
		t.Errorf("artifact cleanup = %v", cfg.Tools.ArtifactCleanup)
	}
	if cfg.Tools.IdentityHeader != "X-Telegram-Id" {
		t.Errorf("identity header = %q", cfg.Tools.IdentityHeader)
	}
}

func TestParseKeepsExplicitEmptyLists(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"llm": [{"type": "openai"}],
		"mcp": {"url": "https://tools.example.com/mcp"},
		"tools": {"hidden": [], "headerless": []}
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Tools.Hidden) != 0 || len(cfg.Tools.Headerless) != 0 {
		t.Errorf("explicit empty lists replaced: %+v", cfg.Tools)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing llm", `{"mcp":{"url":"http://x"}}`, "llm"},
		{"missing mcp", `{"llm":[{}]}`, "mcp"},
		{"bad backend", `{"llm":[{}],"mcp":{"url":"http://x"},"history":{"backend":"redis"}}`, "history backend"},
		{"bad tie break", `{"llm":[{}],"mcp":{"url":"http://x"},"voice":{"tie_break":"random"}}`, "tie_break"},
		{"bad json", `{`, "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadSystemConfig(t *testing.T) {
	dir := t.TempDir()

	cfg := LoadSystemConfig(filepath.Join(dir, "missing.json"))
	if cfg.MaxToolRounds != 16 {
		t.Errorf("default MaxToolRounds = %d", cfg.MaxToolRounds)
	}

	path := filepath.Join(dir, "system.json")
	os.WriteFile(path, []byte(`{"max_tool_rounds": 4, "log_level": "debug"}`), 0644)
	cfg = LoadSystemConfig(path)
	if cfg.MaxToolRounds != 4 || cfg.LogLevel != "debug" {
		t.Errorf("override not applied: %+v", cfg)
	}
	if cfg.HistoryLimit != 10 {
		t.Errorf("unset field lost default: %d", cfg.HistoryLimit)
	}

	os.WriteFile(path, []byte(`not json`), 0644)
	if cfg := LoadSystemConfig(path); cfg.MaxToolRounds != 16 {
		t.Errorf("corrupt file should yield defaults, got %+v", cfg)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := Load(filepath.Join(dir, "config.json"), filepath.Join(dir, "system.json")); err == nil {
		t.Fatal("expected error for missing config")
	}

	appPath := filepath.Join(dir, "config.json")
	os.WriteFile(appPath, []byte(minimalConfig), 0644)
	cfg, sys, err := Load(appPath, filepath.Join(dir, "system.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MCP.URL == "" || sys == nil {
		t.Fatalf("incomplete load: %+v %+v", cfg, sys)
	}
}

func TestResolveInstructions(t *testing.T) {
	cfg := &Config{Instructions: "inline"}
	if got, _ := cfg.ResolveInstructions(); got != "inline" {
		t.Errorf("got %q", got)
	}

	path := filepath.Join(t.TempDir(), "prompt.md")
	os.WriteFile(path, []byte("  from file\n"), 0644)
	cfg.InstructionsFile = path
	if got, err := cfg.ResolveInstructions(); err != nil || got != "from file" {
		t.Errorf("got %q, %v", got, err)
	}

	cfg.InstructionsFile = filepath.Join(t.TempDir(), "gone.md")
	if _, err := cfg.ResolveInstructions(); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWatchInstructions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.md")
	os.WriteFile(path, []byte("v1"), 0644)
	cfg := &Config{InstructionsFile: path}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	go WatchInstructions(ctx, cfg, func(s string) { got <- s })

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	os.WriteFile(path, []byte("v2"), 0644)

	select {
	case s := <-got:
		if s != "v2" {
			t.Errorf("reloaded %q, want v2", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("instructions were not reloaded")
	}
}
