package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatsync/internal/domain"
)

const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePing        = "ping"
	framePong        = "pong"
	frameSnapshot    = "snapshot"
	frameError       = "error"
)

type ServerConfig struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	return c
}

type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
}

type outboundFrame struct {
	Type     string           `json:"type"`
	Snapshot *domain.Snapshot `json:"snapshot,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Server exposes the hub over WebSocket. Each connection holds at most one
// active subscription.
type Server struct {
	hub      *Hub
	cfg      ServerConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewServer(hub *Hub, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if hub == nil {
		return nil, errors.New("live: hub must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub: hub,
		cfg: cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}, nil
}

// Routes returns the HTTP handler serving /ws and /healthz.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &wsClient{
		id:     uuid.NewString(),
		server: s,
		conn:   conn,
		send:   make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	s.logger.Debug("client connected", "client_id", c.id)

	go c.writePump()
	go c.readPump()
}

type wsClient struct {
	id     string
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}

	mu  sync.Mutex
	sub *Subscription
}

func (c *wsClient) readPump() {
	cfg := c.server.cfg
	defer func() {
		c.unsubscribe()
		close(c.done)
		_ = c.conn.Close()
		c.server.logger.Debug("client disconnected", "client_id", c.id)
	}()

	c.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Warn("websocket read failed", "client_id", c.id, "err", err)
			}
			return
		}
		c.handle(raw)
	}
}

func (c *wsClient) writePump() {
	cfg := c.server.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *wsClient) handle(raw []byte) {
	var in inboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		c.enqueue(outboundFrame{Type: frameError, Error: "invalid frame"})
		return
	}

	switch in.Type {
	case frameSubscribe:
		if in.ConversationID == "" {
			c.enqueue(outboundFrame{Type: frameError, Error: "conversationId is required"})
			return
		}
		c.subscribe(in.ConversationID)
	case frameUnsubscribe:
		c.unsubscribe()
	case framePing:
		c.enqueue(outboundFrame{Type: framePong})
	default:
		c.enqueue(outboundFrame{Type: frameError, Error: "unknown frame type"})
	}
}

// subscribe replaces any current subscription.
func (c *wsClient) subscribe(conversationID string) {
	c.unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), c.server.cfg.WriteWait)
	defer cancel()
	sub, err := c.server.hub.Subscribe(ctx, conversationID)
	if err != nil {
		c.server.logger.Error("subscribe failed", "client_id", c.id, "conversation_id", conversationID, "err", err)
		c.enqueue(outboundFrame{Type: frameError, Error: "subscribe failed"})
		return
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	go c.forward(sub)
}

func (c *wsClient) unsubscribe() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (c *wsClient) forward(sub *Subscription) {
	for snap := range sub.C() {
		snap := snap
		c.enqueue(outboundFrame{Type: frameSnapshot, Snapshot: &snap})
	}
}

func (c *wsClient) enqueue(f outboundFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.server.logger.Error("marshal frame failed", "client_id", c.id, "err", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}
