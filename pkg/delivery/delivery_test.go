package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"spendbot/pkg/api"
	"spendbot/pkg/tools"
)

type docSender struct {
	path, name string
	content    []byte
	err        error
}

func (d *docSender) SendReply(api.SessionContext, string) error  { return nil }
func (d *docSender) SendSignal(api.SessionContext, string) error { return nil }

func (d *docSender) SendDocument(ctx context.Context, sess api.SessionContext, path, filename string) error {
	d.path, d.name = path, filename
	d.content, _ = os.ReadFile(path)
	return d.err
}

func session(transport api.MessageResponder) tools.Session {
	return tools.Session{SessionContext: api.SessionContext{ChannelID: "telegram", UserID: "1", ChatID: "1"}, Transport: transport}
}

func TestDeliverSendsAndRemovesTempFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	svc := NewService(5*time.Second, dir)
	sender := &docSender{}

	name, err := svc.Deliver(context.Background(), session(sender), tools.Artifact{Type: "report", URL: srv.URL + "/r/7"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if name != "document.pdf" || sender.name != name {
		t.Errorf("name = %q, sent as %q", name, sender.name)
	}
	if string(sender.content) != "%PDF-1.4" {
		t.Errorf("content = %q", sender.content)
	}
	if _, err := os.Stat(sender.path); !os.IsNotExist(err) {
		t.Error("temp file not removed")
	}
}

func TestDeliverRemovesTempFileOnSendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	svc := NewService(5*time.Second, t.TempDir())
	sender := &docSender{err: errors.New("forbidden")}

	if _, err := svc.Deliver(context.Background(), session(sender), tools.Artifact{URL: srv.URL, Name: "a.xlsx"}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(sender.path); !os.IsNotExist(err) {
		t.Error("temp file not removed after failure")
	}
}

func TestDeliverErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	svc := NewService(5*time.Second, t.TempDir())
	if _, err := svc.Deliver(context.Background(), session(&docSender{}), tools.Artifact{URL: srv.URL}); err == nil {
		t.Error("404 should fail")
	}

	if _, err := svc.Deliver(context.Background(), session(replyOnly{}), tools.Artifact{URL: srv.URL}); !errors.Is(err, api.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

type replyOnly struct{}

func (replyOnly) SendReply(api.SessionContext, string) error  { return nil }
func (replyOnly) SendSignal(api.SessionContext, string) error { return nil }
