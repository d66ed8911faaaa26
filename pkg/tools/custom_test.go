package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"spendbot/pkg/api"
)

type fakeResponder struct{}

func (fakeResponder) SendReply(api.SessionContext, string) error  { return nil }
func (fakeResponder) SendSignal(api.SessionContext, string) error { return nil }

type fakePicker struct {
	fakeResponder
	got []api.UserRequest
	err error
}

func (f *fakePicker) RequestUsers(sess api.SessionContext, req api.UserRequest) error {
	f.got = append(f.got, req)
	return f.err
}

func testSession(transport api.MessageResponder) Session {
	return Session{
		SessionContext: api.SessionContext{ChannelID: "telegram", UserID: "42", ChatID: "42", Username: "Ann"},
		Transport:      transport,
	}
}

func TestRequestUsersParksAndResolves(t *testing.T) {
	hub := NewContinuations(time.Second, nil)
	tool := NewRequestUsersTool(hub)
	picker := &fakePicker{}

	out, err := tool.Handle(context.Background(), testSession(picker), nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Pending == nil || out.Result != nil {
		t.Fatalf("expected pending outcome, got %+v", out)
	}
	if len(picker.got) != 1 || picker.got[0].RequestID != RequestUsersID || picker.got[0].MaxQuantity != 10 {
		t.Fatalf("picker request = %+v", picker.got)
	}

	hub.Resolve("42", SharedUsersPayload([]int64{100, 200}))
	got, err := out.Pending.Wait(context.Background())
	if err != nil || got != `{"user_ids":[100,200]}` {
		t.Errorf("Wait = %q, %v", got, err)
	}
}

func TestRequestUsersUnsupportedTransport(t *testing.T) {
	tool := NewRequestUsersTool(NewContinuations(time.Second, nil))
	_, err := tool.Handle(context.Background(), testSession(fakeResponder{}), nil)
	if !errors.Is(err, api.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestRequestUsersPromptFailureCancels(t *testing.T) {
	hub := NewContinuations(time.Second, nil)
	tool := NewRequestUsersTool(hub)

	_, err := tool.Handle(context.Background(), testSession(&fakePicker{err: errors.New("blocked")}), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if hub.Has("42") {
		t.Error("failed prompt left a parked continuation")
	}
}

type fakeRunner struct {
	allowed []string
	text    string
	err     error
}

func (f *fakeRunner) RunSubAgent(ctx context.Context, sess Session, instructions string, allowed []string, prompt string) (string, error) {
	f.allowed = allowed
	return f.text, f.err
}

func TestNormalizeCategories(t *testing.T) {
	tool := NewNormalizeCategoriesTool()
	if _, err := tool.Handle(context.Background(), testSession(fakeResponder{}), nil); err == nil {
		t.Error("expected error without runner")
	}

	runner := &fakeRunner{text: `{"3":"транспорт"}`}
	tool.SetRunner(runner)
	out, err := tool.Handle(context.Background(), testSession(fakeResponder{}), nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Result == nil || out.Result.Text != `{"result":"{\"3\":\"транспорт\"}"}` {
		t.Errorf("result = %+v", out.Result)
	}
	if len(runner.allowed) != len(NormalizerTools()) {
		t.Errorf("allowed = %v", runner.allowed)
	}
	if tool.Descriptor().Strict {
		t.Error("normalize_categories must be non-strict")
	}
}
