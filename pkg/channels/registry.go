// Package channels holds the registry of transport factories and builds the
// channels named in config.json.
package channels

import (
	"net/http"

	"spendbot/pkg/api"
	"spendbot/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// Deps are the shared components a channel may need.
type Deps struct {
	// Engine answers synchronous request/response queries.
	Engine api.AgentEngine
	// Metrics serves the Prometheus exposition, when enabled.
	Metrics http.Handler
	// IdentityHeader names the HTTP header that carries the caller's user id.
	IdentityHeader string
	// NameHeader names the optional HTTP header with the display name.
	NameHeader string
	// VoiceDir receives downloaded voice notes. Empty disables voice input.
	VoiceDir string
}

// ChannelFactory creates one platform's channel from its raw config.
type ChannelFactory interface {
	Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig, deps Deps) (api.Channel, error)
}

var channelRegistry = make(map[string]ChannelFactory)

// RegisterChannel adds a factory. It is called from the platform package's init.
func RegisterChannel(name string, factory ChannelFactory) {
	channelRegistry[name] = factory
}

// GetChannelFactory looks up a registered factory by platform name.
func GetChannelFactory(name string) (ChannelFactory, bool) {
	f, ok := channelRegistry[name]
	return f, ok
}
