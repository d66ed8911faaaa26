package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"spendbot/pkg/api"
	"spendbot/pkg/llm"
)

const (
	LoadToolName   = "messages_get"
	AppendToolName = "messages_post"
)

// HeaderFunc builds the identity headers of a call made on behalf of sess.
type HeaderFunc func(sess api.SessionContext) map[string]string

// ToolStore keeps history in the tool-provider through messages_get and
// messages_post.
type ToolStore struct {
	caller  api.ToolCaller
	headers HeaderFunc
	writes  KeyedMutex
}

func NewToolStore(caller api.ToolCaller, headers HeaderFunc) *ToolStore {
	return &ToolStore{caller: caller, headers: headers}
}

type messagesEnvelope struct {
	Messages []record `json:"messages"`
}

// Load fetches the last limit messages. A payload that is flagged as an
// error or cannot be decoded yields *api.HistoryParseError.
func (s *ToolStore) Load(ctx context.Context, sess api.SessionContext, limit int) ([]llm.Message, error) {
	args := map[string]any{"limit": limit, "userId": userIDArg(sess.UserID)}
	res, err := s.caller.CallTool(ctx, LoadToolName, args, s.headers(sess))
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	text := res.Text()
	if res != nil && res.IsError {
		return nil, &api.HistoryParseError{UserID: sess.UserID, Cause: fmt.Errorf("provider error: %s", text)}
	}
	recs, err := decodeMessages(text)
	if err != nil {
		return nil, &api.HistoryParseError{UserID: sess.UserID, Cause: err}
	}
	msgs := fromRecords(lastN(recs, limit))
	slog.DebugContext(ctx, "History loaded", "user", sess.UserID, "messages", len(msgs))
	return msgs, nil
}

// Append stores msgs in one messages_post call.
func (s *ToolStore) Append(ctx context.Context, sess api.SessionContext, msgs []llm.Message) error {
	recs := toRecords(msgs)
	if len(recs) == 0 {
		return nil
	}

	unlock := s.writes.Lock(sess.UserID)
	defer unlock()

	payload := make([]any, 0, len(recs))
	for _, r := range recs {
		payload = append(payload, map[string]any{"role": r.Role, "content": r.Content})
	}
	res, err := s.caller.CallTool(ctx, AppendToolName, map[string]any{"messages": payload}, s.headers(sess))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if res != nil && res.IsError {
		return fmt.Errorf("append history: provider error: %s", res.Text())
	}
	return nil
}

// decodeMessages accepts {"messages":[...]} or a bare array.
func decodeMessages(text string) ([]record, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty history payload")
	}
	if strings.HasPrefix(trimmed, "[") {
		var recs []record
		if err := json.Unmarshal([]byte(trimmed), &recs); err != nil {
			return nil, fmt.Errorf("decode history array: %w", err)
		}
		return recs, nil
	}
	var env messagesEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return nil, fmt.Errorf("decode history envelope: %w", err)
	}
	return env.Messages, nil
}

// userIDArg passes numeric platform ids as numbers.
func userIDArg(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
