package channels

import (
	"errors"
	"testing"

	"spendbot/pkg/api"
	"spendbot/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

type namedChannel struct{ id string }

func (c namedChannel) ID() string                                   { return c.id }
func (c namedChannel) Start(ctx api.ChannelContext) error           { return nil }
func (c namedChannel) Stop() error                                  { return nil }
func (c namedChannel) Send(session api.SessionContext, m string) error { return nil }

type stubFactory struct {
	channel api.Channel
	err     error
	gotRaw  string
}

func (f *stubFactory) Create(raw jsoniter.RawMessage, system *config.SystemConfig, deps Deps) (api.Channel, error) {
	f.gotRaw = string(raw)
	return f.channel, f.err
}

func TestLoadFromConfig(t *testing.T) {
	ok := &stubFactory{channel: namedChannel{id: "alpha"}}
	RegisterChannel("test_alpha", ok)
	RegisterChannel("test_broken", &stubFactory{err: errors.New("bad token")})
	RegisterChannel("test_disabled", &stubFactory{})

	got := LoadFromConfig(map[string]jsoniter.RawMessage{
		"test_alpha":    jsoniter.RawMessage(`{"k":1}`),
		"test_broken":   jsoniter.RawMessage(`{}`),
		"test_disabled": jsoniter.RawMessage(`{}`),
		"test_unknown":  jsoniter.RawMessage(`{}`),
	}, config.DefaultSystemConfig(), Deps{})

	if len(got) != 1 || got[0].ID() != "alpha" {
		t.Fatalf("channels = %v", got)
	}
	if ok.gotRaw != `{"k":1}` {
		t.Errorf("raw config = %s", ok.gotRaw)
	}
}
