package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"

	"spendbot/pkg/api"
	"spendbot/pkg/monitor"
)

type plainChannel struct {
	id      string
	mu      sync.Mutex
	sent    []string
	started bool
	stopped bool
}

func (c *plainChannel) ID() string { return c.id }
func (c *plainChannel) Start(ctx api.ChannelContext) error {
	c.started = true
	return nil
}
func (c *plainChannel) Stop() error {
	c.stopped = true
	return nil
}
func (c *plainChannel) Send(session api.SessionContext, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, message)
	return nil
}

type richChannel struct {
	plainChannel
	docs    []string
	prompts []api.UserRequest
	signals []string
}

func (c *richChannel) SendSignal(session api.SessionContext, signal string) error {
	c.signals = append(c.signals, signal)
	return nil
}
func (c *richChannel) SendDocument(ctx context.Context, session api.SessionContext, path, filename string) error {
	c.docs = append(c.docs, filename)
	return nil
}
func (c *richChannel) RequestUsers(session api.SessionContext, req api.UserRequest) error {
	c.prompts = append(c.prompts, req)
	return nil
}

type recordingMonitor struct {
	mu    sync.Mutex
	kinds []string
}

func (m *recordingMonitor) Start() error { return nil }
func (m *recordingMonitor) Stop() error  { return nil }
func (m *recordingMonitor) OnMessage(msg monitor.MonitorMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds = append(m.kinds, msg.MessageType)
}

type awareHandler struct {
	responder api.MessageResponder
	got       []*api.UnifiedMessage
}

func (h *awareHandler) SetResponder(r api.MessageResponder) { h.responder = r }
func (h *awareHandler) OnMessage(msg *api.UnifiedMessage)  { h.got = append(h.got, msg) }

func TestRouting(t *testing.T) {
	web := &plainChannel{id: "web"}
	tg := &richChannel{plainChannel: plainChannel{id: "telegram"}}
	mon := &recordingMonitor{}

	gw, err := NewGatewayBuilder().WithMonitor(mon).WithChannel(web, tg).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !web.started || !tg.started {
		t.Fatal("channels not started")
	}

	tgSess := api.SessionContext{ChannelID: "telegram", ChatID: "1"}
	webSess := api.SessionContext{ChannelID: "web", ChatID: "2"}

	if err := gw.SendReply(tgSess, "hi"); err != nil || len(tg.sent) != 1 {
		t.Fatalf("reply: %v %v", err, tg.sent)
	}
	if err := gw.SendDocument(context.Background(), tgSess, "/tmp/x/report.pdf", ""); err != nil || tg.docs[0] != "report.pdf" {
		t.Fatalf("document: %v %v", err, tg.docs)
	}
	if err := gw.RequestUsers(tgSess, api.UserRequest{RequestID: 5}); err != nil || len(tg.prompts) != 1 {
		t.Fatalf("picker: %v", err)
	}
	if err := gw.SendSignal(tgSess, "typing"); err != nil || len(tg.signals) != 1 {
		t.Fatalf("signal: %v", err)
	}

	if err := gw.SendDocument(context.Background(), webSess, "/tmp/a", "a"); !errors.Is(err, api.ErrUnsupported) {
		t.Errorf("web document err = %v", err)
	}
	if err := gw.RequestUsers(webSess, api.UserRequest{}); !errors.Is(err, api.ErrUnsupported) {
		t.Errorf("web picker err = %v", err)
	}
	if err := gw.SendSignal(webSess, "typing"); err != nil {
		t.Errorf("signal on plain channel should be ignored: %v", err)
	}
	if err := gw.SendReply(api.SessionContext{ChannelID: "fax"}, "x"); err == nil {
		t.Error("expected error for unknown channel")
	}

	mon.mu.Lock()
	want := []string{monitor.KindAssistant, monitor.KindFile, monitor.KindTool}
	if len(mon.kinds) < 3 || mon.kinds[0] != want[0] || mon.kinds[1] != want[1] || mon.kinds[2] != want[2] {
		t.Errorf("monitor kinds = %v", mon.kinds)
	}
	mon.mu.Unlock()

	gw.StopAll()
	if !web.stopped || !tg.stopped {
		t.Error("channels not stopped")
	}
}

func TestHandlerReceivesMessages(t *testing.T) {
	h := &awareHandler{}
	gw, err := NewGatewayBuilder().WithHandler(h).Build()
	if err != nil {
		t.Fatal(err)
	}
	if h.responder != gw {
		t.Error("handler did not receive the manager as responder")
	}

	gw.OnMessage("telegram", &api.UnifiedMessage{Content: "hello"})
	gw.OnMessage("telegram", &api.UnifiedMessage{SharedUsers: &api.SharedUsers{UserIDs: []int64{1}}})
	if len(h.got) != 2 {
		t.Fatalf("handler got %d messages", len(h.got))
	}
}

func TestOnMessageWithoutHandler(t *testing.T) {
	NewGatewayManager().OnMessage("web", &api.UnifiedMessage{Content: "dropped"})
}
