package monitor

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestCustomHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCustomHandler(&buf, slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithTurnID(context.Background(), "t-1")
	logger.With("component", "agent").WithGroup("tool").InfoContext(ctx, "dispatch", "name", "expenses_get", "round", 2)

	line := buf.String()
	for _, want := range []string{"[INFO] [t-1] dispatch", `component="agent"`, `tool.name="expenses_get"`, "tool.round=2"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestCustomHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCustomHandler(&buf, slog.HandlerOptions{Level: ParseLevel("warn")}))
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCLIMonitor(t *testing.T) {
	var buf bytes.Buffer
	m := NewCLIMonitor(&buf)
	m.OnMessage(MonitorMessage{Timestamp: time.Now(), MessageType: KindUser, ChannelID: "telegram", Username: "ann", Content: "coffee 5"})
	m.OnMessage(MonitorMessage{Timestamp: time.Now(), MessageType: KindAssistant, Username: "ann", Content: "saved"})

	out := buf.String()
	if !strings.Contains(out, "[telegram/ann] coffee 5") || !strings.Contains(out, "[AI -> ann] saved") {
		t.Errorf("unexpected output %q", out)
	}
}
