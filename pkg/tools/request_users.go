package tools

import (
	"context"
	"fmt"

	"spendbot/pkg/api"
)

const (
	RequestUsersToolName = "request_telegram_users"

	// RequestUsersID is echoed back by Telegram in the users_shared update.
	RequestUsersID = 123

	requestUsersMax    = 10
	requestUsersPrompt = "Выберите пользователей для добавления в общий кошелек"
	requestUsersButton = "Выбрать пользователей"
)

// RequestUsersTool shows the native contact picker and suspends the turn
// until the selection arrives as a users_shared update.
type RequestUsersTool struct {
	hub *Continuations
}

// NewRequestUsersTool creates the tool on top of the continuation hub that
// the message handler resolves.
func NewRequestUsersTool(hub *Continuations) *RequestUsersTool {
	return &RequestUsersTool{hub: hub}
}

func (t *RequestUsersTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        RequestUsersToolName,
		Description: "Позволяет пользователю выбрать пользователей из своих контактов. Необходимо вызывать для создания общего кошелька или добавления в него новых пользователей.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Strict:      false,
	}
}

func (t *RequestUsersTool) Handle(ctx context.Context, sess Session, args map[string]any) (Outcome, error) {
	picker, ok := sess.Transport.(api.UserPicker)
	if !ok {
		return Outcome{}, fmt.Errorf("channel %q cannot pick users: %w", sess.ChannelID, api.ErrUnsupported)
	}

	// Park first so a fast selection cannot arrive before the key exists.
	pending := t.hub.Park(sess.UserID)
	err := picker.RequestUsers(sess.SessionContext, api.UserRequest{
		RequestID:   RequestUsersID,
		Prompt:      requestUsersPrompt,
		ButtonText:  requestUsersButton,
		MaxQuantity: requestUsersMax,
	})
	if err != nil {
		pending.Cancel()
		return Outcome{}, fmt.Errorf("send user picker: %w", err)
	}
	return Outcome{Pending: pending}, nil
}

// SharedUsersPayload renders a picker selection as the tool result text.
func SharedUsersPayload(ids []int64) string {
	if ids == nil {
		ids = []int64{}
	}
	b, err := json.Marshal(map[string]any{"user_ids": ids})
	if err != nil {
		return `{"user_ids":[]}`
	}
	return string(b)
}
