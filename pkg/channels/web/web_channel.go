package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"spendbot/pkg/api"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

type WebConfig struct {
	Port int `json:"port"` // Default: 8080
	// QueryTimeoutMs bounds a POST /query turn, suspended tool calls included.
	QueryTimeoutMs int `json:"query_timeout_ms,omitempty"`
}

// IncomingMessage is a websocket frame from the chat UI.
type IncomingMessage struct {
	Text string `json:"text"`
}

// OutgoingMessage is a websocket frame to the chat UI.
type OutgoingMessage struct {
	Type  string `json:"type"` // "text" or "signal"
	Text  string `json:"text,omitempty"`
	Value string `json:"value,omitempty"`
}

type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteJSON(v any) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteJSON(v)
}

// WebChannel serves the HTTP API: the synchronous POST /query endpoint, the
// /ws chat and optionally /metrics.
type WebChannel struct {
	config         WebConfig
	server         *http.Server
	engine         api.AgentEngine
	metrics        http.Handler
	identityHeader string
	nameHeader     string
	connections    map[string]*SafeConn // Map UserID -> WS Connection
	mu             sync.RWMutex
}

func NewWebChannel(cfg WebConfig, engine api.AgentEngine, metrics http.Handler, identityHeader, nameHeader string) *WebChannel {
	return &WebChannel{
		config:         cfg,
		engine:         engine,
		metrics:        metrics,
		identityHeader: identityHeader,
		nameHeader:     nameHeader,
		connections:    make(map[string]*SafeConn),
	}
}

func (c *WebChannel) ID() string {
	return "web"
}

func (c *WebChannel) routes(ctx api.ChannelContext) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", c.handleQuery)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})
	if c.metrics != nil {
		mux.Handle("GET /metrics", c.metrics)
	}
	return mux
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	addr := fmt.Sprintf(":%d", c.config.Port)
	c.server = &http.Server{
		Addr:              addr,
		Handler:           c.routes(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Web API listening", "port", c.config.Port)

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Web API server error", "error", err)
		}
	}()

	return nil
}

func (c *WebChannel) Stop() error {
	if c.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.server.Shutdown(ctx); err != nil {
		return c.server.Close()
	}
	return nil
}

func (c *WebChannel) conn(session api.SessionContext) (*SafeConn, error) {
	c.mu.RLock()
	conn, ok := c.connections[session.UserID]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("web user %s not connected", session.UserID)
	}
	return conn, nil
}

func (c *WebChannel) Send(session api.SessionContext, message string) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}
	return conn.WriteJSON(OutgoingMessage{Type: "text", Text: message})
}

// SendSignal implements the gateway.SignalingChannel interface
func (c *WebChannel) SendSignal(session api.SessionContext, signal string) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}
	return conn.WriteJSON(OutgoingMessage{Type: "signal", Value: signal})
}

// identity reads the caller's id from the identity header. With fromQuery
// set it falls back to the "user" query parameter, since browsers cannot set
// headers on a websocket handshake.
func (c *WebChannel) identity(r *http.Request, fromQuery bool) (api.SessionContext, bool) {
	userID := r.Header.Get(c.identityHeader)
	if userID == "" && fromQuery {
		userID = r.URL.Query().Get("user")
	}
	name := r.Header.Get(c.nameHeader)
	if unescaped, err := url.QueryUnescape(name); err == nil {
		name = unescaped
	}
	return api.SessionContext{
		ChannelID: c.ID(),
		UserID:    userID,
		ChatID:    userID,
		Username:  name,
	}, userID != ""
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	session, ok := c.identity(r, true)
	if !ok {
		writeError(w, missingHeader(c.identityHeader))
		return
	}

	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS Upgrade failed", "error", err)
		return
	}
	conn := &SafeConn{Conn: rawConn}

	c.mu.Lock()
	if old, exists := c.connections[session.UserID]; exists {
		old.Close()
	}
	c.connections[session.UserID] = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.connections[session.UserID] == conn {
			delete(c.connections, session.UserID)
		}
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}

		// Plain-text frames are accepted as well.
		content := string(msgBytes)
		var incoming IncomingMessage
		if err := json.Unmarshal(msgBytes, &incoming); err == nil {
			content = incoming.Text
		}
		if content == "" {
			continue
		}

		ctx.OnMessage(c.ID(), &api.UnifiedMessage{
			Session: session,
			Content: content,
		})
	}
}
