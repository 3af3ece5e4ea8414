package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Sized for base64 audio
	// chunks plus envelope overhead.
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub tracks the set of active clients so shutdown can account for
// them. Sessions never talk to each other; the hub is bookkeeping
// only.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	logger *zap.Logger
}

// NewHub creates a client tracker.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.session.ID] = client
			h.mu.Unlock()
			h.logger.Info("client registered", zap.String("session_id", client.session.ID))

		case client := <-h.unregister:
			// The send channel is never closed: the session's event
			// pump may still be draining buffered driver events into
			// it. The done channel stops the writer loop instead.
			h.mu.Lock()
			delete(h.clients, client.session.ID)
			h.mu.Unlock()
			h.logger.Info("client unregistered", zap.String("session_id", client.session.ID))
		}
	}
}

// ClientCount reports how many connections are currently tracked.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WriteData is one queued outbound websocket frame.
type WriteData struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage.
	Type    int
	Payload []byte
}

// Client is the middleman between one websocket connection and its
// Session: a single writer loop drains the send queue so envelopes
// produced from different goroutines never interleave on the socket.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Closed when the connection is going away; stops the writer loop
	// and makes late sendEnvelope calls no-ops.
	done     chan struct{}
	doneOnce sync.Once

	session *Session
	logger  *zap.Logger

	closeOnce sync.Once
}

// ServeWS upgrades the request and runs the connection's pumps. The
// session parameters come from the route and, optionally, the caller's
// token.
func ServeWS(hub *Hub, c echo.Context, modelID, userID, apiKeyOverride string, deps SessionDeps) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		deps.Logger.Error("websocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan WriteData, 256),
		done:   make(chan struct{}),
		logger: deps.Logger,
	}
	deps.Send = client.sendEnvelope
	deps.Close = client.close
	client.session = NewSession(modelID, userID, apiKeyOverride, deps)

	hub.register <- client

	go client.writePump()
	go client.readPump()

	return nil
}

// sendEnvelope queues one envelope for the writer loop. A client that
// cannot keep up loses frames rather than blocking a driver pump, and
// a client that already went away drops them silently: the session's
// event pump keeps producing until the driver's stream drains, which
// can outlive the connection.
func (c *Client) sendEnvelope(env Envelope) {
	select {
	case <-c.done:
		return
	default:
	}

	payload, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("failed to marshal envelope", zap.Error(err))
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	default:
		c.logger.Warn("client send buffer full, dropping frame",
			zap.String("type", env.Type))
	}
}

// shutdown signals the writer loop and future sends that the
// connection is gone. Safe to call more than once.
func (c *Client) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// close sends a close frame and tears the socket down. Safe to call
// more than once and from any goroutine.
func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(writeWait)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			c.logger.Debug("close frame write failed", zap.Error(err))
		}
		c.conn.Close()
	})
}

// readPump pumps messages from the websocket connection to the session.
func (c *Client) readPump() {
	defer func() {
		c.session.Teardown()
		c.shutdown()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("websocket error", zap.Error(err))
			}
			break
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn("non-text frame ignored", zap.Int("type", messageType))
			continue
		}
		c.session.HandleMessage(message)
	}
}

// writePump pumps queued frames to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
