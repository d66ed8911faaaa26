package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"spendbot/pkg/agent"
	"spendbot/pkg/api"
	"spendbot/pkg/config"
	"spendbot/pkg/delivery"
	"spendbot/pkg/dispatch"
	"spendbot/pkg/history"
	"spendbot/pkg/llm"
	_ "spendbot/pkg/llm/autoload"
	"spendbot/pkg/mcp"
	"spendbot/pkg/metrics"
	"spendbot/pkg/monitor"
	"spendbot/pkg/tools"
)

// app holds the components shared by every command.
type app struct {
	cfg        *config.Config
	sys        *config.SystemConfig
	metrics    *metrics.Metrics
	provider   *mcp.Client
	hub        *tools.Continuations
	normalizer *tools.NormalizeCategoriesTool
	registry   *tools.Registry
	engine     *agent.Engine
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// connect loads the config, opens the MCP session and builds the tool
// registry. A provider that cannot be reached is fatal.
func connect(ctx context.Context) (*app, error) {
	cfg, sys, err := config.Load(configPath, systemPath)
	if err != nil {
		return nil, err
	}
	monitor.SetupSlog(sys.LogLevel)

	a := &app{cfg: cfg, sys: sys, metrics: metrics.New()}

	a.provider = mcp.NewClient(cfg.MCP, slog.Default())
	if err := a.provider.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrConnection, err)
	}

	a.hub = tools.NewContinuations(millis(sys.ContinuationTimeoutMs), a.metrics)
	a.normalizer = tools.NewNormalizeCategoriesTool()
	custom := []tools.Handler{tools.NewRequestUsersTool(a.hub), a.normalizer}

	a.registry, err = tools.Connect(ctx, a.provider, custom, tools.Options{
		NonStrict: cfg.Tools.NonStrict,
		Hidden:    cfg.Tools.Hidden,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// bootstrap connects and builds the engine on top of the registry.
func bootstrap(ctx context.Context) (*app, error) {
	a, err := connect(ctx)
	if err != nil {
		return nil, err
	}
	cfg, sys := a.cfg, a.sys

	disp := dispatch.New(a.registry, a.provider, delivery.NewService(millis(sys.DownloadTimeoutMs), ""), a.metrics, dispatch.Options{
		IdentityHeader:  cfg.Tools.IdentityHeader,
		NameHeader:      cfg.Tools.NameHeader,
		Headerless:      cfg.Tools.Headerless,
		ArtifactCleanup: cfg.Tools.ArtifactCleanup,
		ToolTimeout:     millis(sys.ToolTimeoutMs),
	})

	store, err := newHistoryStore(cfg, a.provider, disp)
	if err != nil {
		a.close()
		return nil, err
	}

	client, err := llm.NewFromConfig(cfg.LLM, sys)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to init LLM client: %w", err)
	}

	instructions, err := cfg.ResolveInstructions()
	if err != nil {
		a.close()
		return nil, err
	}

	a.engine = agent.NewEngine(client, disp, store, a.metrics, instructions, agent.Options{
		MaxRounds:       sys.MaxToolRounds,
		HistoryLimit:    sys.HistoryLimit,
		GenerateTimeout: millis(sys.LLMTimeoutMs),
		IdleTimeout:     millis(sys.ConversationIdleMs),
	})
	a.normalizer.SetRunner(a.engine)

	slog.Info("Engine ready", "provider", client.Provider(), "tools", len(a.registry.Descriptors()))
	return a, nil
}

func newHistoryStore(cfg *config.Config, caller api.ToolCaller, disp *dispatch.Dispatcher) (history.Store, error) {
	switch cfg.History.Backend {
	case "file":
		store, err := history.NewFileStore(cfg.History.Dir)
		if err != nil {
			return nil, fmt.Errorf("open history dir: %w", err)
		}
		return store, nil
	default:
		return history.NewToolStore(caller, disp.Headers), nil
	}
}

// close ends the MCP session.
func (a *app) close() {
	if err := a.provider.Close(); err != nil {
		slog.Warn("Failed to close MCP session", "error", err)
	}
}
