package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"spendbot/pkg/tools"
)

// Gateway owns the message buffer of one conversation and issues
// generations against a ModelClient.
type Gateway struct {
	mu           sync.Mutex
	client       ModelClient
	instructions string
	tools        []tools.Descriptor
	buffer       []Message
	seeded       bool
}

// NewGateway creates a gateway with an empty buffer.
func NewGateway(client ModelClient, instructions string, descriptors []tools.Descriptor) *Gateway {
	return &Gateway{
		client:       client,
		instructions: instructions,
		tools:        descriptors,
	}
}

// Provider names the model provider behind the gateway.
func (g *Gateway) Provider() string {
	return g.client.Provider()
}

// AddMessage appends to the buffer.
func (g *Gateway) AddMessage(msg Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buffer = append(g.buffer, msg)
}

// AddPreviousMessages seeds the buffer with durable history. Only the first
// call has an effect; it reports whether this call seeded.
func (g *Gateway) AddPreviousMessages(msgs []Message) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seeded {
		return false
	}
	g.seeded = true
	seed := make([]Message, 0, len(msgs)+len(g.buffer))
	seed = append(seed, msgs...)
	g.buffer = append(seed, g.buffer...)
	return true
}

// Seeded reports whether history has been loaded.
func (g *Gateway) Seeded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seeded
}

// Messages returns a copy of the buffer.
func (g *Gateway) Messages() []Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Message, len(g.buffer))
	copy(out, g.buffer)
	return out
}

// Generate sends instructions, buffer and tools to the model. It does not
// modify the buffer.
func (g *Gateway) Generate(ctx context.Context) (*Step, error) {
	msgs := g.Messages()
	if err := checkOrdering(msgs); err != nil {
		return nil, fmt.Errorf("conversation buffer out of order: %w", err)
	}

	slog.DebugContext(ctx, "Requesting generation", "provider", g.client.Provider(), "messages", len(msgs), "tools", len(g.tools))
	step, err := g.client.Generate(ctx, Request{
		Instructions: g.instructions,
		Messages:     msgs,
		Tools:        g.tools,
	})
	if err != nil {
		return nil, err
	}
	if step == nil {
		step = &Step{}
	}
	return step, nil
}
