package llm

import (
	"fmt"
	"log/slog"

	"spendbot/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// NewFromConfig builds the model client from the "llm" config list. Groups
// are tried in order and the first client built wins; generations are not
// retried on another provider.
func NewFromConfig(rawLLM jsoniter.RawMessage, system *config.SystemConfig) (ModelClient, error) {
	if rawLLM == nil {
		return nil, fmt.Errorf("missing 'llm' config")
	}

	var groups []ProviderGroupConfig
	if err := json.Unmarshal(rawLLM, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse 'llm' config: %w", err)
	}

	for _, group := range groups {
		slog.Info("Loading LLM group", "type", group.Type, "models", len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("Unknown provider type", "type", group.Type)
			continue
		}

		clients, err := factory.Create(group, system)
		if err != nil {
			slog.Warn("Failed to create clients", "type", group.Type, "error", err)
			continue
		}
		if len(clients) == 0 {
			continue
		}
		if len(clients) > 1 {
			slog.Info("Using first model of group", "type", group.Type, "ignored", len(clients)-1)
		}
		return clients[0], nil
	}

	return nil, fmt.Errorf("no LLM clients could be initialized")
}
