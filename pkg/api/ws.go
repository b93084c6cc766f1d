package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pagegen/pagegen/pkg/models"
	"github.com/pagegen/pagegen/pkg/subscribe"
)

// ClientMessage is the WebSocket client protocol. A subscriber attaches
// to a session with the last offset it has already seen (-1 or absent
// means from the beginning).
type ClientMessage struct {
	Action     string `json:"action"` // "subscribe" | "unsubscribe"
	SessionID  string `json:"session_id"`
	FromOffset *int64 `json:"from_offset,omitempty"`
}

// serverMessage is everything the backend pushes to a client.
type serverMessage struct {
	Type         string              `json:"type"`
	ConnectionID string              `json:"connection_id,omitempty"`
	SessionID    string              `json:"session_id,omitempty"`
	Offset       *int64              `json:"offset,omitempty"`
	Event        *models.StreamEvent `json:"event,omitempty"`
	Message      string              `json:"message,omitempty"`
}

// ConnectionManager owns all WebSocket connections of this process.
type ConnectionManager struct {
	composer     *subscribe.Composer
	writeTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*wsConn
}

// wsConn is one client connection. The read loop is the sole mutator of
// subs; writeMu serializes frames from the per-session forwarders.
type wsConn struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex

	subsMu sync.Mutex
	subs   map[string]*subscribe.Subscription
}

func NewConnectionManager(composer *subscribe.Composer, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		composer:     composer,
		writeTimeout: writeTimeout,
		conns:        make(map[string]*wsConn),
	}
}

// HandleWS upgrades the request and serves the connection until it closes.
func (s *Server) HandleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin checks are the fronting proxy's job
	})
	if err != nil {
		return
	}
	s.connManager.HandleConnection(c.Request.Context(), conn)
}

// HandleConnection blocks until the WebSocket closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	c := &wsConn{
		id:   uuid.NewString(),
		conn: conn,
		subs: make(map[string]*subscribe.Subscription),
	}
	m.register(c)
	defer m.unregister(c)
	defer conn.Close(websocket.StatusNormalClosure, "")

	m.send(ctx, c, serverMessage{Type: "connection.established", ConnectionID: c.id})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", c.id, "error", err)
			m.send(ctx, c, serverMessage{Type: "error", Message: "invalid message"})
			continue
		}
		m.handleClientMessage(ctx, c, msg)
	}
}

func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *wsConn, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.SessionID == "" {
			m.send(ctx, c, serverMessage{Type: "error", Message: "session_id is required"})
			return
		}
		m.subscribeSession(ctx, c, msg)
	case "unsubscribe":
		c.subsMu.Lock()
		sub, ok := c.subs[msg.SessionID]
		delete(c.subs, msg.SessionID)
		c.subsMu.Unlock()
		if ok {
			sub.Close()
		}
	default:
		m.send(ctx, c, serverMessage{Type: "error", Message: "unknown action"})
	}
}

func (m *ConnectionManager) subscribeSession(ctx context.Context, c *wsConn, msg ClientMessage) {
	c.subsMu.Lock()
	_, dup := c.subs[msg.SessionID]
	c.subsMu.Unlock()
	if dup {
		m.send(ctx, c, serverMessage{
			Type: "error", SessionID: msg.SessionID, Message: "already subscribed",
		})
		return
	}

	fromOffset := int64(-1)
	if msg.FromOffset != nil {
		fromOffset = *msg.FromOffset
	}

	sub, err := m.composer.Stream(ctx, msg.SessionID, fromOffset)
	if err != nil {
		slog.Error("WebSocket subscribe failed",
			"connection_id", c.id, "session_id", msg.SessionID, "error", err)
		m.send(ctx, c, serverMessage{
			Type: "error", SessionID: msg.SessionID, Message: "failed to subscribe",
		})
		return
	}

	c.subsMu.Lock()
	c.subs[msg.SessionID] = sub
	c.subsMu.Unlock()

	m.send(ctx, c, serverMessage{Type: "subscription.established", SessionID: msg.SessionID})

	go m.forward(ctx, c, msg.SessionID, sub)
}

// forward streams one session's events to the client and reports
// end-of-stream, after which the client may resubscribe with its last
// offset.
func (m *ConnectionManager) forward(ctx context.Context, c *wsConn, sessionID string, sub *subscribe.Subscription) {
	for event := range sub.Events() {
		offset := event.Offset
		if !m.send(ctx, c, serverMessage{
			Type:      "event",
			SessionID: sessionID,
			Offset:    &offset,
			Event:     &event.Event,
		}) {
			sub.Close()
			break
		}
	}

	c.subsMu.Lock()
	delete(c.subs, sessionID)
	c.subsMu.Unlock()

	m.send(ctx, c, serverMessage{Type: "stream.end", SessionID: sessionID})
}

// send writes one frame, bounded by the write timeout. Returns false
// when the connection is gone.
func (m *ConnectionManager) send(ctx context.Context, c *wsConn, msg serverMessage) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, c.conn, msg); err != nil {
		slog.Warn("Failed to send to WebSocket client", "connection_id", c.id, "error", err)
		return false
	}
	return true
}

// ActiveConnections reports the number of open connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

func (m *ConnectionManager) register(c *wsConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c.id] = c
}

func (m *ConnectionManager) unregister(c *wsConn) {
	m.mu.Lock()
	delete(m.conns, c.id)
	m.mu.Unlock()

	c.subsMu.Lock()
	subs := make([]*subscribe.Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[string]*subscribe.Subscription)
	c.subsMu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}
