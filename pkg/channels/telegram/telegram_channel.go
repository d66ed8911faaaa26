package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"spendbot/pkg/api"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	jsoniter "github.com/json-iterator/go"
)

// pollTimeout is the long-polling window in seconds.
const pollTimeout = 60

// TelegramConfig encapsulates the credentials required to authenticate with
// the Telegram Bot API.
type TelegramConfig struct {
	Token string `json:"token"` // The secret BOT API string provided by @BotFather
	// APIEndpoint and FileEndpoint point at a self-hosted Bot API server.
	// Both are fmt patterns taking the token and the method or file path.
	APIEndpoint  string `json:"api_endpoint,omitempty"`
	FileEndpoint string `json:"file_endpoint,omitempty"`
}

// Options are the engine-level knobs of the channel.
type Options struct {
	MessageLimit    int           // Maximum rune count per message bubble
	DownloadTimeout time.Duration // Bound on a single voice download
	VoiceDir        string        // Where voice notes are saved; empty ignores voice
}

// TelegramChannel is the gateway channel for the Telegram Bot API. It
// receives text, voice notes and users_shared selections, and replies with
// text, chat actions, documents and the contact-picker keyboard.
type TelegramChannel struct {
	config       TelegramConfig
	bot          *tgbotapi.BotAPI
	messageLimit int
	voiceDir     string
	httpClient   *http.Client       // Client for downloading voice notes
	stopCtx      context.Context    // Aborts the in-flight long-poll request
	stopCancel   context.CancelFunc // Triggers the abort
	started      atomic.Bool
	done         chan struct{}
}

// NewTelegramChannel authorizes the bot (getMe) and returns the channel.
func NewTelegramChannel(cfg TelegramConfig, opts Options) (*TelegramChannel, error) {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = tgbotapi.FileEndpoint
	}
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = 4000
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Tying DialContext to stopCtx aborts an active long poll on Stop, so a
	// restarted bot does not hit 409 Conflict.
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	botHTTPClient := &http.Client{
		Timeout: (pollTimeout + 10) * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				mergedCtx, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-mergedCtx.Done():
					}
				}()
				return dialer.DialContext(mergedCtx, network, addr)
			},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, botHTTPClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	return &TelegramChannel{
		config:       cfg,
		bot:          bot,
		messageLimit: opts.MessageLimit,
		voiceDir:     opts.VoiceDir,
		httpClient:   &http.Client{Timeout: opts.DownloadTimeout},
		stopCtx:      ctx,
		stopCancel:   cancel,
		done:         make(chan struct{}),
	}, nil
}

// ID returns the unique platform identifier "telegram".
func (t *TelegramChannel) ID() string {
	return "telegram"
}

// Start runs the long-polling loop in the background.
//
// getUpdates is issued through MakeRequest instead of GetUpdates because the
// SDK's Message type has no users_shared field; each update is decoded once
// into tgbotapi.Update and once into the picker extension.
func (t *TelegramChannel) Start(ctx api.ChannelContext) error {
	if !t.started.CompareAndSwap(false, true) {
		return fmt.Errorf("telegram channel already started")
	}
	go func() {
		defer close(t.done)
		offset := 0
		for {
			select {
			case <-t.stopCtx.Done():
				return
			default:
			}

			raws, err := t.fetchUpdates(offset)
			if err != nil {
				select {
				case <-t.stopCtx.Done():
					return
				case <-time.After(3 * time.Second):
				}
				slog.Debug("Failed to get telegram updates", "error", err)
				continue
			}

			for _, raw := range raws {
				var update tgbotapi.Update
				if err := json.Unmarshal(raw, &update); err != nil {
					slog.Warn("Undecodable telegram update skipped", "error", err)
					continue
				}
				if update.UpdateID >= offset {
					offset = update.UpdateID + 1
				}
				t.dispatch(ctx, update, raw)
			}
		}
	}()

	return nil
}

func (t *TelegramChannel) fetchUpdates(offset int) ([]jsoniter.RawMessage, error) {
	params := tgbotapi.Params{}
	params.AddNonZero("offset", offset)
	params.AddNonZero("timeout", pollTimeout)

	resp, err := t.bot.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, err
	}

	var raws []jsoniter.RawMessage
	if err := json.Unmarshal(resp.Result, &raws); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return raws, nil
}

func (t *TelegramChannel) dispatch(ctx api.ChannelContext, update tgbotapi.Update, raw []byte) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}

	session := api.SessionContext{
		ChannelID: t.ID(),
		UserID:    strconv.FormatInt(m.From.ID, 10),
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		Username:  displayName(m.From),
	}

	if shared := parseSharedUsers(raw); shared != nil {
		ctx.OnMessage(t.ID(), &api.UnifiedMessage{Session: session, SharedUsers: shared, Raw: update})
		return
	}

	if m.Voice != nil {
		if t.voiceDir == "" {
			slog.Debug("Voice note ignored, voice input disabled", "user", session.UserID)
			return
		}
		// Downloads run off the polling loop.
		go func(voice tgbotapi.Voice) {
			file, err := t.downloadVoice(voice)
			if err != nil {
				slog.Error("Voice download failed", "user", session.UserID, "error", err)
				return
			}
			ctx.OnMessage(t.ID(), &api.UnifiedMessage{Session: session, Voice: file, Raw: update})
		}(*m.Voice)
		return
	}

	if m.Text == "" {
		return
	}
	ctx.OnMessage(t.ID(), &api.UnifiedMessage{Session: session, Content: m.Text, Raw: update})
}

// displayName prefers the user's full name over the @username.
func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.UserName
	}
	return name
}

// sharedUsersUpdate reads the parts of an update the SDK does not model.
type sharedUsersUpdate struct {
	Message *struct {
		UsersShared *struct {
			RequestID int `json:"request_id"`
			Users     []struct {
				UserID int64 `json:"user_id"`
			} `json:"users"`
			UserIDs []int64 `json:"user_ids"` // Bot API before 7.0
		} `json:"users_shared"`
	} `json:"message"`
}

// parseSharedUsers extracts a contact-picker selection, or nil when the
// update carries none.
func parseSharedUsers(raw []byte) *api.SharedUsers {
	var ext sharedUsersUpdate
	if err := json.Unmarshal(raw, &ext); err != nil {
		return nil
	}
	if ext.Message == nil || ext.Message.UsersShared == nil {
		return nil
	}
	us := ext.Message.UsersShared
	out := &api.SharedUsers{RequestID: us.RequestID, UserIDs: []int64{}}
	for _, u := range us.Users {
		out.UserIDs = append(out.UserIDs, u.UserID)
	}
	if len(out.UserIDs) == 0 {
		out.UserIDs = append(out.UserIDs, us.UserIDs...)
	}
	return out
}

// downloadVoice streams a voice note to voiceDir.
func (t *TelegramChannel) downloadVoice(voice tgbotapi.Voice) (*api.FileAttachment, error) {
	info, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: voice.FileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get voice file info: %w", err)
	}

	resp, err := t.httpClient.Get(fmt.Sprintf(t.config.FileEndpoint, t.config.Token, info.FilePath))
	if err != nil {
		return nil, fmt.Errorf("failed to download voice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download voice: status code %d", resp.StatusCode)
	}

	if err := os.MkdirAll(t.voiceDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create voice directory: %w", err)
	}

	ext := filepath.Ext(info.FilePath)
	if ext == "" {
		ext = ".oga"
	}
	id := voice.FileUniqueID
	if id == "" {
		id = voice.FileID
	}
	localPath := filepath.Join(t.voiceDir, "tg_"+id+ext)

	out, err := os.Create(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create local file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(localPath)
		return nil, fmt.Errorf("failed to save voice data to disk: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(localPath)
		return nil, err
	}

	mimeType := voice.MimeType
	if mimeType == "" {
		mimeType = "audio/ogg"
	}
	return &api.FileAttachment{
		Filename: filepath.Base(info.FilePath),
		MimeType: mimeType,
		Path:     localPath,
	}, nil
}

// Stop aborts the long poll and waits for the loop to exit when it was started.
func (t *TelegramChannel) Stop() error {
	t.stopCancel()

	if httpClient, ok := t.bot.Client.(*http.Client); ok && httpClient != nil {
		if transport, ok := httpClient.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}

	if !t.started.Load() {
		return nil
	}
	select {
	case <-t.done:
	case <-time.After(5 * time.Second):
	}
	return nil
}

func parseChatID(session api.SessionContext) (int64, error) {
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}
	return chatID, nil
}

// Send delivers message in rune chunks of at most messageLimit. Each chunk
// is tried as MarkdownV2 first and resent as plain text when Telegram
// rejects the markup.
func (t *TelegramChannel) Send(session api.SessionContext, message string) error {
	chatID, err := parseChatID(session)
	if err != nil {
		return err
	}

	msgRunes := []rune(message)
	totalLen := len(msgRunes)

	for i := 0; i < totalLen; i += t.messageLimit {
		end := i + t.messageLimit
		if end > totalLen {
			end = totalLen
		}
		if err := t.sendText(chatID, string(msgRunes[i:end])); err != nil {
			return fmt.Errorf("telegram send chunk failed at index %d: %w", i, err)
		}
	}
	return nil
}

func (t *TelegramChannel) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	_, err := t.bot.Send(msg)
	if err == nil {
		return nil
	}

	slog.Debug("MarkdownV2 rejected, resending as plain text", "error", err)
	msg.ParseMode = ""
	_, err = t.bot.Send(msg)
	return err
}

// SendSignal shows the typing indicator. Other signals are ignored.
func (t *TelegramChannel) SendSignal(session api.SessionContext, signal string) error {
	if signal != api.SignalTyping {
		return nil
	}
	chatID, err := parseChatID(session)
	if err != nil {
		return err
	}
	_, err = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

// SendDocument uploads the file at path as a document named filename.
func (t *TelegramChannel) SendDocument(ctx context.Context, session api.SessionContext, path, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := parseChatID(session)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: filename, Reader: f})
	if _, err := t.bot.Send(doc); err != nil {
		return fmt.Errorf("telegram send document failed: %w", err)
	}
	return nil
}

// pickerKeyboard is a reply keyboard with one request_users button. The SDK
// has no type for it, so the message goes out through MakeRequest.
type pickerKeyboard struct {
	Keyboard        [][]pickerButton `json:"keyboard"`
	ResizeKeyboard  bool             `json:"resize_keyboard"`
	OneTimeKeyboard bool             `json:"one_time_keyboard"`
}

type pickerButton struct {
	Text         string              `json:"text"`
	RequestUsers pickerButtonRequest `json:"request_users"`
}

type pickerButtonRequest struct {
	RequestID   int  `json:"request_id"`
	UserIsBot   bool `json:"user_is_bot"`
	MaxQuantity int  `json:"max_quantity,omitempty"`
}

// RequestUsers sends req.Prompt with the native contact-picker keyboard.
func (t *TelegramChannel) RequestUsers(session api.SessionContext, req api.UserRequest) error {
	chatID, err := parseChatID(session)
	if err != nil {
		return err
	}

	markup := pickerKeyboard{
		Keyboard: [][]pickerButton{{{
			Text: req.ButtonText,
			RequestUsers: pickerButtonRequest{
				RequestID:   req.RequestID,
				UserIsBot:   false,
				MaxQuantity: req.MaxQuantity,
			},
		}}},
		ResizeKeyboard:  true,
		OneTimeKeyboard: true,
	}

	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonEmpty("text", req.Prompt)
	if err := params.AddInterface("reply_markup", markup); err != nil {
		return err
	}

	if _, err := t.bot.MakeRequest("sendMessage", params); err != nil {
		return fmt.Errorf("telegram request users failed: %w", err)
	}
	return nil
}
