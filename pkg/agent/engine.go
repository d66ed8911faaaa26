// Package agent runs conversation turns: it drives the model gateway
// through rounds of tool dispatch until a final answer arrives, suspending
// the turn when a tool waits on the user.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"spendbot/pkg/api"
	"spendbot/pkg/dispatch"
	"spendbot/pkg/history"
	"spendbot/pkg/llm"
	"spendbot/pkg/metrics"
	"spendbot/pkg/tools"
)

// Options are the engine knobs taken from system.json.
type Options struct {
	// MaxRounds caps model generations per turn. Zero means 16.
	MaxRounds int
	// HistoryLimit is the number of durable messages seeded into a new conversation.
	HistoryLimit int
	// GenerateTimeout bounds a single model call. Zero disables the bound.
	GenerateTimeout time.Duration
	// IdleTimeout drops conversations untouched for longer. Zero keeps them
	// for the life of the process.
	IdleTimeout time.Duration
}

// Engine owns one gateway per conversation and serializes turns per user.
// It implements api.AgentEngine and tools.SubAgentRunner.
type Engine struct {
	client     llm.ModelClient
	dispatcher *dispatch.Dispatcher
	store      history.Store
	metrics    *metrics.Metrics
	opts       Options

	mu           sync.Mutex
	instructions string
	gateways     map[string]*llm.Gateway
	slots        map[string]chan struct{}
	lastUsed     map[string]time.Time
	now          func() time.Time
}

// NewEngine wires the engine. store may be nil, in which case nothing is
// loaded or persisted.
func NewEngine(client llm.ModelClient, dispatcher *dispatch.Dispatcher, store history.Store, m *metrics.Metrics, instructions string, opts Options) *Engine {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 16
	}
	if strings.TrimSpace(instructions) == "" {
		instructions = DefaultInstructions
	}
	return &Engine{
		client:       client,
		dispatcher:   dispatcher,
		store:        store,
		metrics:      m,
		opts:         opts,
		instructions: instructions,
		gateways:     make(map[string]*llm.Gateway),
		slots:        make(map[string]chan struct{}),
		lastUsed:     make(map[string]time.Time),
		now:          time.Now,
	}
}

// SetInstructions replaces the system prompt of conversations started afterwards.
func (e *Engine) SetInstructions(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.instructions = text
}

// Instructions returns the current system prompt.
func (e *Engine) Instructions() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instructions
}

// Registry exposes the tool registry the engine dispatches against.
func (e *Engine) Registry() *tools.Registry {
	return e.dispatcher.Registry()
}

// Ask runs one turn and waits for it, including any suspension.
func (e *Engine) Ask(ctx context.Context, session api.SessionContext, query string) (string, error) {
	reply, err := e.HandleQuery(ctx, tools.Session{SessionContext: session}, query)
	if err != nil {
		return "", err
	}
	return reply.Await(ctx)
}

// HandleQuery starts a turn for sess. It returns as soon as the turn is done
// or suspended; a suspended turn keeps the conversation slot until its
// Reply is awaited.
func (e *Engine) HandleQuery(ctx context.Context, sess tools.Session, query string) (*Reply, error) {
	release, err := e.acquire(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	gw := e.gateway(sess.UserID)
	if !gw.Seeded() {
		gw.AddPreviousMessages(e.loadHistory(ctx, sess))
	}

	user := llm.NewUserMessage(query)
	gw.AddMessage(user)

	t := &turn{
		engine:  e,
		gw:      gw,
		disp:    e.dispatcher,
		sess:    sess,
		user:    user,
		release: release,
	}
	return t.run(ctx)
}

// RunSubAgent runs an isolated loop over a throwaway gateway that only sees
// the allowed remote tools. Nothing is persisted.
func (e *Engine) RunSubAgent(ctx context.Context, sess tools.Session, instructions string, allowed []string, prompt string) (string, error) {
	sub, err := e.dispatcher.Registry().Subset(allowed)
	if err != nil {
		return "", fmt.Errorf("sub-agent tools: %w", err)
	}
	gw := llm.NewGateway(e.client, instructions, sub.Descriptors())
	gw.AddPreviousMessages(nil)
	gw.AddMessage(llm.NewUserMessage(prompt))

	slog.InfoContext(ctx, "Starting sub-agent", "tools", len(allowed))
	t := &turn{
		engine:  e,
		gw:      gw,
		disp:    e.dispatcher.WithRegistry(sub),
		sess:    sess,
		sub:     true,
		release: func() {},
	}
	reply, err := t.run(ctx)
	if err != nil {
		return "", err
	}
	return reply.Await(ctx)
}

func (e *Engine) gateway(userID string) *llm.Gateway {
	e.mu.Lock()
	defer e.mu.Unlock()
	gw, ok := e.gateways[userID]
	if !ok {
		gw = llm.NewGateway(e.client, e.instructions, e.dispatcher.Registry().Descriptors())
		e.gateways[userID] = gw
	}
	return gw
}

// acquire takes the conversation slot of userID.
func (e *Engine) acquire(ctx context.Context, userID string) (func(), error) {
	e.mu.Lock()
	now := e.now()
	e.evictIdle(now)
	e.lastUsed[userID] = now
	slot, ok := e.slots[userID]
	if !ok {
		slot = make(chan struct{}, 1)
		e.slots[userID] = slot
	}
	e.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-slot }) }, nil
}

// evictIdle drops conversations idle past the timeout. A conversation whose
// slot is held, by a running or suspended turn, is never dropped.
// Callers hold e.mu.
func (e *Engine) evictIdle(now time.Time) {
	if e.opts.IdleTimeout <= 0 {
		return
	}
	for userID, last := range e.lastUsed {
		if now.Sub(last) <= e.opts.IdleTimeout {
			continue
		}
		if slot := e.slots[userID]; slot != nil && len(slot) > 0 {
			continue
		}
		delete(e.lastUsed, userID)
		delete(e.slots, userID)
		delete(e.gateways, userID)
		slog.Debug("Dropped idle conversation", "user", userID)
	}
}

func (e *Engine) loadHistory(ctx context.Context, sess tools.Session) []llm.Message {
	if e.store == nil {
		return nil
	}
	msgs, err := e.store.Load(ctx, sess.SessionContext, e.opts.HistoryLimit)
	if err != nil {
		var perr *api.HistoryParseError
		if errors.As(err, &perr) {
			slog.WarnContext(ctx, "Durable history is malformed, starting empty", "user", sess.UserID, "error", err)
		} else {
			slog.ErrorContext(ctx, "Failed to load durable history, starting empty", "user", sess.UserID, "error", err)
		}
		return nil
	}
	slog.DebugContext(ctx, "Seeded conversation", "user", sess.UserID, "messages", len(msgs))
	return msgs
}
