package tools

import (
	"context"
	"errors"
	"sync"
	"time"

	"spendbot/pkg/api"
	"spendbot/pkg/metrics"
)

// ErrContinuationTimeout is returned by Wait when no response arrived in time.
var ErrContinuationTimeout = errors.New("timed out waiting for user response")

// Continuations is the hub of suspended tool calls, keyed by user id.
// Each Pending resolves exactly once.
type Continuations struct {
	mu      sync.Mutex
	pending map[string]*Pending
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewContinuations creates a hub. A zero timeout waits until ctx ends.
func NewContinuations(timeout time.Duration, m *metrics.Metrics) *Continuations {
	return &Continuations{
		pending: make(map[string]*Pending),
		timeout: timeout,
		metrics: m,
	}
}

// Pending is a tool call waiting for an out-of-band response.
type Pending struct {
	key     string
	ch      chan string
	owner   *Continuations
	timeout time.Duration
	done    bool // guarded by owner.mu
}

// Key returns the user id the continuation is parked under.
func (p *Pending) Key() string {
	return p.key
}

// Park registers a new continuation for key. An older continuation under the
// same key is resolved with an error payload.
func (c *Continuations) Park(key string) *Pending {
	p := &Pending{
		key:     key,
		ch:      make(chan string, 1),
		owner:   c,
		timeout: c.timeout,
	}

	c.mu.Lock()
	old := c.pending[key]
	c.pending[key] = p
	if old != nil {
		superseded := &api.ToolExecutionError{Type: api.ToolErrorExecution, Message: "request superseded by a newer one"}
		old.deliverLocked(superseded.Payload())
	} else {
		c.metrics.PendingAdd(1)
	}
	c.mu.Unlock()
	return p
}

// Resolve completes the continuation parked under key. It reports false, and
// does nothing, when key is unknown or already resolved.
func (c *Continuations) Resolve(key, payload string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[key]
	if !ok {
		return false
	}
	delete(c.pending, key)
	c.metrics.PendingAdd(-1)
	return p.deliverLocked(payload)
}

// Has reports whether a continuation is parked under key.
func (c *Continuations) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

// Len returns the number of parked continuations.
func (c *Continuations) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Continuations) drop(p *Pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.pending[p.key]; ok && cur == p {
		delete(c.pending, p.key)
		c.metrics.PendingAdd(-1)
	}
	p.done = true
}

func (p *Pending) deliverLocked(payload string) bool {
	if p.done {
		return false
	}
	p.done = true
	p.ch <- payload
	return true
}

// Cancel withdraws the continuation without resolving it.
func (p *Pending) Cancel() {
	p.owner.drop(p)
}

// Wait blocks until the continuation resolves, the hub timeout elapses or
// ctx ends. After a timeout or cancellation a late Resolve is a no-op.
func (p *Pending) Wait(ctx context.Context) (string, error) {
	var timeout <-chan time.Time
	if p.timeout > 0 {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case payload := <-p.ch:
		return payload, nil
	case <-timeout:
		p.owner.drop(p)
		// A Resolve may have raced the timer.
		select {
		case payload := <-p.ch:
			return payload, nil
		default:
		}
		return "", ErrContinuationTimeout
	case <-ctx.Done():
		p.owner.drop(p)
		return "", ctx.Err()
	}
}
