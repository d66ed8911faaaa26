// Package handler turns incoming gateway messages into agent turns and
// routes picker selections back to suspended tool calls.
package handler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"spendbot/pkg/agent"
	"spendbot/pkg/api"
	"spendbot/pkg/monitor"
	"spendbot/pkg/tools"
	"spendbot/pkg/utils"
)

// User-facing replies stay in Russian, like the assistant itself.
const (
	failureText      = "Не удалось обработать запрос. Попробуйте ещё раз позже."
	voiceFailedText  = "Не удалось распознать голосовое сообщение. Попробуйте ещё раз или напишите текстом."
	voiceOffText     = "Голосовые сообщения сейчас не поддерживаются, напишите текстом."
	picksExpiredText = "Выбор пользователей уже не ожидается. Повторите запрос."
)

// Agent is the part of the engine the handler drives.
type Agent interface {
	HandleQuery(ctx context.Context, sess tools.Session, query string) (*agent.Reply, error)
}

// Transcriber converts a voice note into text. A nil *voice.Service is a
// valid, disabled Transcriber.
type Transcriber interface {
	Enabled() bool
	Transcribe(ctx context.Context, src io.Reader) (string, error)
}

// Options tune the handler.
type Options struct {
	// TurnTimeout bounds a whole turn, including a suspended tool call.
	// Zero leaves turns bounded by the engine's own timeouts only.
	TurnTimeout time.Duration
}

// ChatHandler is the gateway's message handler.
//
// Text and voice turns run on their own goroutine. A turn suspended on the
// contact picker holds its conversation until the selection arrives, and
// that selection is delivered through this same handler, so the delivery
// path never waits on a turn.
type ChatHandler struct {
	agent     Agent
	hub       *tools.Continuations
	voice     Transcriber
	responder api.MessageResponder
	opts      Options
	wg        sync.WaitGroup
}

// NewMessageHandler wires the handler. The responder is injected later by
// the gateway builder.
func NewMessageHandler(a Agent, hub *tools.Continuations, voice Transcriber, opts Options) *ChatHandler {
	return &ChatHandler{agent: a, hub: hub, voice: voice, opts: opts}
}

// SetResponder implements api.ResponderAware.
func (h *ChatHandler) SetResponder(responder api.MessageResponder) {
	h.responder = responder
}

// OnMessage implements api.MessageProcessor.
func (h *ChatHandler) OnMessage(msg *api.UnifiedMessage) {
	if msg.TurnID == "" {
		msg.TurnID = utils.NewTurnID()
	}
	ctx := monitor.WithTurnID(context.Background(), msg.TurnID)

	slog.InfoContext(ctx, "Message received",
		"channel", msg.Session.ChannelID,
		"user", msg.Session.UserID,
		"content", msg.Content,
		"voice", msg.Voice != nil,
		"shared_users", msg.SharedUsers != nil)

	if msg.SharedUsers != nil {
		h.resolveSharedUsers(ctx, msg)
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.process(ctx, msg)
	}()
}

// Wait blocks until every running turn has finished.
func (h *ChatHandler) Wait() {
	h.wg.Wait()
}

func (h *ChatHandler) resolveSharedUsers(ctx context.Context, msg *api.UnifiedMessage) {
	if h.hub == nil || !h.hub.Resolve(msg.Session.UserID, tools.SharedUsersPayload(msg.SharedUsers.UserIDs)) {
		slog.WarnContext(ctx, "Shared users arrived with no pending request", "user", msg.Session.UserID, "request_id", msg.SharedUsers.RequestID)
		h.reply(ctx, msg.Session, picksExpiredText)
		return
	}
	slog.InfoContext(ctx, "Shared users delivered", "user", msg.Session.UserID, "count", len(msg.SharedUsers.UserIDs))
}

func (h *ChatHandler) process(ctx context.Context, msg *api.UnifiedMessage) {
	start := time.Now()

	query := msg.Content
	if msg.Voice != nil {
		text, ok := h.transcribe(ctx, msg)
		if !ok {
			return
		}
		query = text
	}
	if strings.TrimSpace(query) == "" {
		return
	}

	if err := h.responder.SendSignal(msg.Session, api.SignalTyping); err != nil {
		slog.DebugContext(ctx, "Typing signal failed", "error", err)
	}

	if h.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.TurnTimeout)
		defer cancel()
	}

	sess := tools.Session{SessionContext: msg.Session, Transport: h.responder}
	reply, err := h.agent.HandleQuery(ctx, sess, query)
	if err != nil {
		slog.ErrorContext(ctx, "Turn failed", "user", msg.Session.UserID, "error", err)
		h.reply(ctx, msg.Session, failureText)
		return
	}

	answer := reply.Text
	if reply.Pending() {
		slog.InfoContext(ctx, "Turn suspended, waiting for user response", "user", msg.Session.UserID)
		answer, err = reply.Await(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "Suspended turn failed", "user", msg.Session.UserID, "error", err)
			h.reply(ctx, msg.Session, failureText)
			return
		}
	}

	h.reply(ctx, msg.Session, answer)
	slog.InfoContext(ctx, "Turn finished", "user", msg.Session.UserID, "duration", time.Since(start).String())
}

// transcribe turns the downloaded voice note into text and removes it.
func (h *ChatHandler) transcribe(ctx context.Context, msg *api.UnifiedMessage) (string, bool) {
	path := msg.Voice.Path
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.WarnContext(ctx, "Failed to remove voice note", "path", path, "error", err)
		}
	}()

	if h.voice == nil || !h.voice.Enabled() {
		h.reply(ctx, msg.Session, voiceOffText)
		return "", false
	}

	f, err := os.Open(path)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to open voice note", "path", path, "error", err)
		h.reply(ctx, msg.Session, voiceFailedText)
		return "", false
	}
	defer f.Close()

	text, err := h.voice.Transcribe(ctx, f)
	if err != nil {
		slog.ErrorContext(ctx, "Voice transcription failed", "user", msg.Session.UserID, "error", err)
		h.reply(ctx, msg.Session, voiceFailedText)
		return "", false
	}
	slog.InfoContext(ctx, "Voice transcribed", "user", msg.Session.UserID, "text", text)
	return text, true
}

func (h *ChatHandler) reply(ctx context.Context, session api.SessionContext, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := h.responder.SendReply(session, text); err != nil {
		slog.ErrorContext(ctx, "Failed to send reply", "channel", session.ChannelID, "user", session.UserID, "error", err)
	}
}
