package web

import (
	"fmt"

	"spendbot/pkg/api"
	"spendbot/pkg/channels"
	"spendbot/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// WebFactory builds the HTTP API channel.
type WebFactory struct{}

// Create implements channels.ChannelFactory.
func (f *WebFactory) Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig, deps channels.Deps) (api.Channel, error) {
	pCfg := WebConfig{Port: 8080}

	if err := json.Unmarshal(rawConfig, &pCfg); err != nil {
		return nil, fmt.Errorf("failed to parse web config: %w", err)
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("web channel requires an agent engine")
	}

	return NewWebChannel(pCfg, deps.Engine, deps.Metrics, deps.IdentityHeader, deps.NameHeader), nil
}

func init() {
	channels.RegisterChannel("web", &WebFactory{})
}
