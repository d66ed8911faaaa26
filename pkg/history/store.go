// Package history persists the durable part of conversations: the user
// queries and the final assistant answers.
package history

import (
	"context"
	"regexp"
	"sync"

	"spendbot/pkg/api"
	"spendbot/pkg/llm"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store loads and appends durable messages of one conversation.
type Store interface {
	Load(ctx context.Context, sess api.SessionContext, limit int) ([]llm.Message, error)
	Append(ctx context.Context, sess api.SessionContext, msgs []llm.Message) error
}

// record is the plain {role, content} shape kept in durable history.
type record struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toRecords(msgs []llm.Message) []record {
	out := make([]record, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		out = append(out, record{Role: m.Role, Content: m.GetTextContent()})
	}
	return out
}

func fromRecords(recs []record) []llm.Message {
	out := make([]llm.Message, 0, len(recs))
	for _, r := range recs {
		if r.Role != llm.RoleUser && r.Role != llm.RoleAssistant {
			continue
		}
		out = append(out, llm.NewTextMessage(r.Role, r.Content))
	}
	return out
}

func lastN(recs []record, limit int) []record {
	if limit > 0 && len(recs) > limit {
		return recs[len(recs)-limit:]
	}
	return recs
}

var filenameSafeRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

// KeyedMutex serializes work per key.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock of key and returns its release function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
