package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"spendbot/pkg/monitor"
)

// Debugger dumps raw provider responses under debug/chunks for inspection.
// A disabled Debugger is a no-op.
type Debugger struct {
	file    *os.File
	enabled bool
}

// NewDebugger opens a dump file for provider when enabled. Files of one turn
// are grouped under the turn id found in ctx.
func NewDebugger(ctx context.Context, provider string, enabled bool) *Debugger {
	if !enabled {
		return &Debugger{}
	}

	debugDir := filepath.Join("debug", "chunks", provider)
	if turn := monitor.TurnID(ctx); turn != "" {
		debugDir = filepath.Join("debug", "chunks", turn, provider)
	}

	if err := os.MkdirAll(debugDir, 0755); err != nil {
		slog.Error("Failed to create debug directory", "dir", debugDir, "error", err)
		return &Debugger{}
	}

	filename := filepath.Join(debugDir, fmt.Sprintf("%s.log", time.Now().Format("20060102_150405.000")))
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("Failed to open debug file", "file", filename, "error", err)
		return &Debugger{}
	}

	slog.DebugContext(ctx, "Debug mode ON", "provider", provider, "file", filename)
	return &Debugger{file: f, enabled: true}
}

// WriteString appends s and a newline.
func (d *Debugger) WriteString(s string) {
	if !d.enabled || d.file == nil {
		return
	}
	if _, err := d.file.WriteString(s + "\n"); err != nil {
		slog.Warn("Failed to write to debug file", "error", err)
	}
}

// WriteJSON appends v encoded as JSON.
func (d *Debugger) WriteJSON(v any) {
	if !d.enabled || d.file == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to encode debug payload", "error", err)
		return
	}
	d.WriteString(string(b))
}

func (d *Debugger) Close() {
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
}
