package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"soul-teller/server/internal/models"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// hubMessage is pushed to every client
type hubMessage struct {
	Type string `json:"type"` // "connected", "session" or "reset"
	ID   string `json:"id,omitempty"`
	Data any    `json:"data,omitempty"`
	Time int64  `json:"time"`
}

// Client is one websocket subscriber
type Client struct {
	ID     string
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *SessionHub
	mu     sync.Mutex
	closed bool
}

// SessionHub pushes session snapshots to websocket clients
type SessionHub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	mu         sync.RWMutex
	logger     *slog.Logger
}

func NewSessionHub(logger *slog.Logger) *SessionHub {
	return &SessionHub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 100),
		unregister: make(chan *Client, 100),
		broadcast:  make(chan []byte, 256),
		logger:     logger.With("component", "hub"),
	}
}

// Run is the hub's event loop. It returns when ctx is done, closing every
// client.
func (h *SessionHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				delete(h.clients, id)
				close(c.Send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case data := <-h.broadcast:
			h.send(data)
		}
	}
}

func (h *SessionHub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	h.logger.Debug("client connected", "client_id", client.ID, "total", len(h.clients))

	go client.writePump(h.logger)
}

func (h *SessionHub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
		h.logger.Debug("client disconnected", "client_id", client.ID, "total", len(h.clients))
	}
}

func (h *SessionHub) send(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("client send buffer full", "client_id", client.ID)
		}
	}
}

// Publish queues a session snapshot for every client. A nil session is
// sent as a reset. It is safe to use as an engine listener.
func (h *SessionHub) Publish(session *models.InteractionSession) {
	msg := hubMessage{Type: "session", Data: session, Time: time.Now().Unix()}
	if session == nil {
		msg.Type = "reset"
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal session", "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast channel full, dropping session update")
	}
}

func (h *SessionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the connection. current, when
// non-nil, is sent first so a new client does not wait for the next change.
func (h *SessionHub) ServeWS(w http.ResponseWriter, r *http.Request, current *models.InteractionSession) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		ID:   generateClientID(),
		Conn: conn,
		Send: make(chan []byte, 256),
		Hub:  h,
	}

	hello, _ := json.Marshal(hubMessage{Type: "connected", ID: client.ID, Time: time.Now().Unix()})
	client.Send <- hello
	if current != nil {
		snap, _ := json.Marshal(hubMessage{Type: "session", Data: current, Time: time.Now().Unix()})
		client.Send <- snap
	}

	h.register <- client
	go client.readPump(h.logger)
}

func (c *Client) writePump(logger *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.mu.Lock()
			if !ok {
				c.closed = true
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.mu.Unlock()
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("write failed", "client_id", c.ID, "error", err)
				c.closed = true
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closed = true
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.Conn.Close()
}

// readPump only drains control frames; clients do not send commands here
func (c *Client) readPump(logger *slog.Logger) {
	defer func() {
		c.Hub.unregister <- c
		c.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("unexpected close", "client_id", c.ID, "error", err)
			}
			return
		}
	}
}

func generateClientID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))[:16]
	}
	return hex.EncodeToString(b)
}
