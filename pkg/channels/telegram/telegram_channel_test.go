package telegram

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"spendbot/pkg/api"
)

const testToken = "123:abc"

// fakeBotAPI serves the Bot API methods the channel uses and records every
// request as method plus form values.
type fakeBotAPI struct {
	t       *testing.T
	mu      sync.Mutex
	calls   []botCall
	updates []string // getUpdates batches, served once each
	reject  bool     // rejects MarkdownV2 messages
}

type botCall struct {
	method string
	form   map[string]string
	file   string
}

func (f *fakeBotAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/bot"+testToken+"/", func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/")
		call := botCall{method: method, form: map[string]string{}}

		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				f.t.Errorf("parse multipart: %v", err)
			}
			if _, hdr, err := r.FormFile("document"); err == nil {
				call.file = hdr.Filename
			}
		} else if err := r.ParseForm(); err != nil {
			f.t.Errorf("parse form: %v", err)
		}
		for k := range r.Form {
			call.form[k] = r.Form.Get(k)
		}

		f.mu.Lock()
		f.calls = append(f.calls, call)
		var batch string
		if method == "getUpdates" && len(f.updates) > 0 {
			batch, f.updates = f.updates[0], f.updates[1:]
		}
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "getMe":
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Spend","username":"spendbot"}}`)
		case "getUpdates":
			if batch == "" {
				time.Sleep(20 * time.Millisecond)
				batch = "[]"
			}
			io.WriteString(w, `{"ok":true,"result":`+batch+`}`)
		case "getFile":
			io.WriteString(w, `{"ok":true,"result":{"file_id":"v1","file_unique_id":"u1","file_path":"voice/file_7.oga"}}`)
		case "sendMessage":
			if f.reject && call.form["parse_mode"] == "MarkdownV2" {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`)
				return
			}
			io.WriteString(w, `{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			io.WriteString(w, `{"ok":true,"result":{"message_id":6,"date":0,"chat":{"id":42,"type":"private"}}}`)
		}
	})
	mux.HandleFunc("/file/bot"+testToken+"/voice/file_7.oga", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "OggS-voice-bytes")
	})
	return mux
}

func (f *fakeBotAPI) byMethod(method string) []botCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []botCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestChannel(t *testing.T, fake *fakeBotAPI, opts Options) *TelegramChannel {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	ch, err := NewTelegramChannel(TelegramConfig{
		Token:        testToken,
		APIEndpoint:  srv.URL + "/bot%s/%s",
		FileEndpoint: srv.URL + "/file/bot%s/%s",
	}, opts)
	if err != nil {
		t.Fatalf("NewTelegramChannel: %v", err)
	}
	t.Cleanup(func() { ch.Stop() })
	return ch
}

type collectingContext struct {
	msgs chan *api.UnifiedMessage
}

func (c *collectingContext) SendReply(api.SessionContext, string) error  { return nil }
func (c *collectingContext) SendSignal(api.SessionContext, string) error { return nil }
func (c *collectingContext) OnMessage(channelID string, msg *api.UnifiedMessage) {
	c.msgs <- msg
}

func (c *collectingContext) next(t *testing.T) *api.UnifiedMessage {
	t.Helper()
	select {
	case m := <-c.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestParseSharedUsers(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []int64
	}{
		{
			name: "users list",
			raw:  `{"update_id":1,"message":{"users_shared":{"request_id":123,"users":[{"user_id":7},{"user_id":9}]}}}`,
			want: []int64{7, 9},
		},
		{
			name: "legacy ids",
			raw:  `{"update_id":1,"message":{"users_shared":{"request_id":123,"user_ids":[11]}}}`,
			want: []int64{11},
		},
		{
			name: "plain text",
			raw:  `{"update_id":1,"message":{"text":"hi"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseSharedUsers([]byte(tt.raw))
			if tt.want == nil {
				if got != nil {
					t.Fatalf("got %+v, want nil", got)
				}
				return
			}
			if got == nil || got.RequestID != 123 {
				t.Fatalf("got %+v", got)
			}
			if len(got.UserIDs) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", got.UserIDs, tt.want)
			}
			for i := range tt.want {
				if got.UserIDs[i] != tt.want[i] {
					t.Fatalf("ids = %v, want %v", got.UserIDs, tt.want)
				}
			}
		})
	}
}

func TestPollingDispatchesUpdates(t *testing.T) {
	voiceDir := t.TempDir()
	fake := &fakeBotAPI{t: t, updates: []string{
		`[{"update_id":10,"message":{"message_id":1,"date":0,"from":{"id":7,"is_bot":false,"first_name":"Анна","last_name":"Ли"},"chat":{"id":42,"type":"private"},"text":"кофе 200"}},
		  {"update_id":11,"message":{"message_id":2,"date":0,"from":{"id":7,"is_bot":false,"first_name":"Анна"},"chat":{"id":42,"type":"private"},"users_shared":{"request_id":123,"users":[{"user_id":99}]}}}]`,
		`[{"update_id":12,"message":{"message_id":3,"date":0,"from":{"id":7,"is_bot":false,"username":"anna"},"chat":{"id":42,"type":"private"},"voice":{"file_id":"v1","file_unique_id":"u1","duration":2,"mime_type":"audio/ogg"}}}]`,
	}}
	ch := newTestChannel(t, fake, Options{MessageLimit: 100, DownloadTimeout: time.Second, VoiceDir: voiceDir})

	sink := &collectingContext{msgs: make(chan *api.UnifiedMessage, 4)}
	if err := ch.Start(sink); err != nil {
		t.Fatalf("Start: %v", err)
	}

	text := sink.next(t)
	if text.Content != "кофе 200" || text.Session.UserID != "7" || text.Session.ChatID != "42" || text.Session.Username != "Анна Ли" {
		t.Fatalf("text message = %+v", text)
	}

	shared := sink.next(t)
	if shared.SharedUsers == nil || len(shared.SharedUsers.UserIDs) != 1 || shared.SharedUsers.UserIDs[0] != 99 {
		t.Fatalf("shared message = %+v", shared)
	}

	voice := sink.next(t)
	if voice.Voice == nil || voice.Session.Username != "anna" {
		t.Fatalf("voice message = %+v", voice)
	}
	if filepath.Dir(voice.Voice.Path) != voiceDir {
		t.Errorf("voice saved to %s", voice.Voice.Path)
	}
	data, err := os.ReadFile(voice.Voice.Path)
	if err != nil || string(data) != "OggS-voice-bytes" {
		t.Errorf("voice file = %q, %v", data, err)
	}

	// Later polls acknowledge the processed updates.
	deadline := time.Now().Add(2 * time.Second)
	for {
		polls := fake.byMethod("getUpdates")
		if polls[len(polls)-1].form["offset"] == "13" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("last offset = %q, want 13", polls[len(polls)-1].form["offset"])
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSendChunksAndFallsBackToPlainText(t *testing.T) {
	fake := &fakeBotAPI{t: t, reject: true}
	ch := newTestChannel(t, fake, Options{MessageLimit: 5})

	if err := ch.Send(api.SessionContext{ChatID: "42"}, "абвгдежзий_"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	calls := fake.byMethod("sendMessage")
	// Three chunks, each tried as MarkdownV2 and then as plain text.
	if len(calls) != 6 {
		t.Fatalf("sendMessage calls = %d, want 6", len(calls))
	}
	var plain []string
	for _, c := range calls {
		if c.form["parse_mode"] == "" {
			plain = append(plain, c.form["text"])
		}
	}
	if strings.Join(plain, "|") != "абвгд|ежзий|_" {
		t.Errorf("chunks = %v", plain)
	}
}

func TestSendInvalidChatID(t *testing.T) {
	ch := newTestChannel(t, &fakeBotAPI{t: t}, Options{})
	if err := ch.Send(api.SessionContext{ChatID: "web-user"}, "hi"); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}

func TestRequestUsersKeyboard(t *testing.T) {
	fake := &fakeBotAPI{t: t}
	ch := newTestChannel(t, fake, Options{})

	err := ch.RequestUsers(api.SessionContext{ChatID: "42"}, api.UserRequest{
		RequestID:   123,
		Prompt:      "Выберите пользователей",
		ButtonText:  "Выбрать пользователей",
		MaxQuantity: 10,
	})
	if err != nil {
		t.Fatalf("RequestUsers: %v", err)
	}

	calls := fake.byMethod("sendMessage")
	if len(calls) != 1 {
		t.Fatalf("sendMessage calls = %d", len(calls))
	}
	form := calls[0].form
	if form["chat_id"] != "42" || form["text"] != "Выберите пользователей" {
		t.Errorf("form = %v", form)
	}

	var markup struct {
		Keyboard [][]struct {
			Text         string `json:"text"`
			RequestUsers *struct {
				RequestID   int   `json:"request_id"`
				UserIsBot   *bool `json:"user_is_bot"`
				MaxQuantity int   `json:"max_quantity"`
			} `json:"request_users"`
		} `json:"keyboard"`
		Resize  bool `json:"resize_keyboard"`
		OneTime bool `json:"one_time_keyboard"`
	}
	if err := json.Unmarshal([]byte(form["reply_markup"]), &markup); err != nil {
		t.Fatalf("reply_markup: %v", err)
	}
	btn := markup.Keyboard[0][0]
	if btn.Text != "Выбрать пользователей" || btn.RequestUsers == nil {
		t.Fatalf("button = %+v", btn)
	}
	if btn.RequestUsers.RequestID != 123 || btn.RequestUsers.MaxQuantity != 10 {
		t.Errorf("request_users = %+v", btn.RequestUsers)
	}
	if btn.RequestUsers.UserIsBot == nil || *btn.RequestUsers.UserIsBot {
		t.Error("user_is_bot must be present and false")
	}
	if !markup.Resize || !markup.OneTime {
		t.Errorf("keyboard flags = %+v", markup)
	}
}

func TestSendDocumentAndSignal(t *testing.T) {
	fake := &fakeBotAPI{t: t}
	ch := newTestChannel(t, fake, Options{})

	path := filepath.Join(t.TempDir(), "tmp-123")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}

	sess := api.SessionContext{ChatID: "42"}
	if err := ch.SendDocument(t.Context(), sess, path, "report.pdf"); err != nil {
		t.Fatalf("SendDocument: %v", err)
	}
	docs := fake.byMethod("sendDocument")
	if len(docs) != 1 || docs[0].file != "report.pdf" || docs[0].form["chat_id"] != "42" {
		t.Fatalf("sendDocument = %+v", docs)
	}

	if err := ch.SendSignal(sess, api.SignalTyping); err != nil {
		t.Fatalf("SendSignal: %v", err)
	}
	if err := ch.SendSignal(sess, "unknown"); err != nil {
		t.Fatalf("SendSignal unknown: %v", err)
	}
	actions := fake.byMethod("sendChatAction")
	if len(actions) != 1 || actions[0].form["action"] != "typing" {
		t.Errorf("sendChatAction = %+v", actions)
	}
}
