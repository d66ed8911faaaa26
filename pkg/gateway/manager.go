// Package gateway registers the transport channels and routes traffic
// between them and the message handler.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"spendbot/pkg/api"
	"spendbot/pkg/monitor"
)

// GatewayManager owns the registered channels. It implements
// api.ChannelContext for the channels and api.MessageResponder,
// api.DocumentSender and api.UserPicker for the rest of the system, routing
// each call to the channel named in the session.
type GatewayManager struct {
	channels   map[string]Channel
	msgHandler MessageHandler
	monitor    monitor.Monitor
	mu         sync.RWMutex
}

func NewGatewayManager() *GatewayManager {
	return &GatewayManager{
		channels: make(map[string]Channel),
	}
}

// SetMessageHandler sets the callback receiving every inbound message.
func (g *GatewayManager) SetMessageHandler(handler MessageHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.msgHandler = handler
}

// SetMonitor mirrors traffic to m.
func (g *GatewayManager) SetMonitor(m monitor.Monitor) {
	g.monitor = m
}

// Register adds a channel, replacing any channel with the same ID.
func (g *GatewayManager) Register(c Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

// GetChannel returns the channel registered under id.
func (g *GatewayManager) GetChannel(id string) (Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// StartAll starts every registered channel with the manager as its context.
func (g *GatewayManager) StartAll() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Starting channel", "channel", id)
		if err := c.Start(g); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", id, err)
		}
	}
	return nil
}

// StopAll stops every channel. Errors are logged.
func (g *GatewayManager) StopAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Stopping channel", "channel", id)
		if err := c.Stop(); err != nil {
			slog.Error("Error stopping channel", "channel", id, "error", err)
		}
	}
	if g.monitor != nil {
		g.monitor.Stop()
	}
}

func (g *GatewayManager) observe(kind string, session SessionContext, content string) {
	if g.monitor == nil {
		return
	}
	g.monitor.OnMessage(monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: kind,
		ChannelID:   session.ChannelID,
		Username:    session.Username,
		Content:     content,
	})
}

// SendReply sends content through the session's channel.
func (g *GatewayManager) SendReply(session SessionContext, content string) error {
	slog.Debug("Reply", "channel", session.ChannelID, "user", session.UserID, "chars", len(content))
	g.observe(monitor.KindAssistant, session, content)

	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.Send(session, content)
}

// SendSignal forwards a control signal. Channels without signal support
// ignore it.
func (g *GatewayManager) SendSignal(session SessionContext, signal string) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	if sc, ok := c.(SignalingChannel); ok {
		return sc.SendSignal(session, signal)
	}
	return nil
}

// SendDocument delivers a local file through the session's channel.
func (g *GatewayManager) SendDocument(ctx context.Context, session SessionContext, path, filename string) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	dc, ok := c.(DocumentChannel)
	if !ok {
		return fmt.Errorf("channel %s cannot send documents: %w", session.ChannelID, api.ErrUnsupported)
	}
	if filename == "" {
		filename = filepath.Base(path)
	}
	g.observe(monitor.KindFile, session, filename)
	return dc.SendDocument(ctx, session, path, filename)
}

// RequestUsers shows the contact picker of the session's channel.
func (g *GatewayManager) RequestUsers(session SessionContext, req api.UserRequest) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	pc, ok := c.(PickerChannel)
	if !ok {
		return fmt.Errorf("channel %s cannot pick users: %w", session.ChannelID, api.ErrUnsupported)
	}
	g.observe(monitor.KindTool, session, req.Prompt)
	return pc.RequestUsers(session, req)
}

// OnMessage implements api.ChannelContext.
func (g *GatewayManager) OnMessage(channelID string, msg *UnifiedMessage) {
	slog.Debug("Inbound message", "channel", channelID, "user", msg.Session.UserID, "voice", msg.Voice != nil, "shared_users", msg.SharedUsers != nil)

	content := msg.Content
	switch {
	case msg.Voice != nil:
		content = "[voice note]"
	case msg.SharedUsers != nil:
		content = fmt.Sprintf("[shared %d users]", len(msg.SharedUsers.UserIDs))
	}
	g.observe(monitor.KindUser, msg.Session, content)

	g.mu.RLock()
	handler := g.msgHandler
	g.mu.RUnlock()
	if handler == nil {
		slog.Warn("No message handler set, dropping message", "channel", channelID)
		return
	}
	handler(msg)
}
