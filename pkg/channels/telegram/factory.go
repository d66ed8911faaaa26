package telegram

import (
	"fmt"
	"time"

	"spendbot/pkg/api"
	"spendbot/pkg/channels"
	"spendbot/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TelegramFactory builds the Telegram channel from config.json.
type TelegramFactory struct{}

// Create implements channels.ChannelFactory.
func (f *TelegramFactory) Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig, deps channels.Deps) (api.Channel, error) {
	var tgCfg TelegramConfig
	if err := json.Unmarshal(rawConfig, &tgCfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram config: %w", err)
	}

	if tgCfg.Token == "" {
		return nil, fmt.Errorf("missing telegram token")
	}

	return NewTelegramChannel(tgCfg, Options{
		MessageLimit:    system.TelegramMessageLimit,
		DownloadTimeout: time.Duration(system.DownloadTimeoutMs) * time.Millisecond,
		VoiceDir:        deps.VoiceDir,
	})
}

func init() {
	channels.RegisterChannel("telegram", &TelegramFactory{})
}
