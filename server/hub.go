package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tokenvelocity/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	// sendBuffer is how many messages a client may lag behind before it is
	// dropped.
	sendBuffer = 256
)

// wsClient is a connected WebSocket client. Only its write pump writes to
// conn; everyone else enqueues on send.
type wsClient struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue queues data without blocking. It reports false when the client is
// gone or its buffer is full.
func (c *wsClient) enqueue(data []byte) bool {
	if c.stopped() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *wsClient) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// Hub fans benchmark events out to every connected WebSocket client
type Hub struct {
	upgrader websocket.Upgrader
	clients  map[string]*wsClient
	mu       sync.RWMutex
	logger   *logging.Logger
}

// NewHub creates a hub accepting origins allowed by the CORS configuration
func NewHub(cors CORSConfig, logger *logging.Logger) *Hub {
	h := &Hub{
		clients: make(map[string]*wsClient),
		logger:  logging.OrDefault(logger),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || cors.AllowsOrigin(origin)
		},
	}
	return h
}

// ServeWS upgrades the request and keeps the connection until the client leaves
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade error: %v", err)
		return
	}

	client := newWSClient(conn)
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
	h.logger.InfoWithFields("WebSocket client connected", map[string]interface{}{
		"clientId": client.id,
		"clients":  h.ClientCount(),
	})

	defer h.remove(client)

	go h.writePump(client)

	// Read until the client goes away; pings from the client get a pong.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Error("WebSocket read error: %v", err)
			}
			return
		}
		msg, err := FromJSON(data)
		if err != nil || msg.Type != MessageTypePing {
			continue
		}
		h.send(client, newMessage(MessageTypePong, "", nil))
	}
}

// writePump drains the client's queue and pings it until the client stops
// or a write fails.
func (h *Hub) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(client)
	}()
	for {
		select {
		case <-client.done:
			return
		case data := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("WebSocket write to %s failed: %v", client.id, err)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[client.id]
	delete(h.clients, client.id)
	h.mu.Unlock()
	if ok {
		client.stop()
		client.conn.Close()
		h.logger.Debug("WebSocket client %s disconnected", client.id)
	}
}

func (h *Hub) send(client *wsClient, msg *WebSocketMessage) {
	data, err := msg.ToJSON()
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message: %v", err)
		return
	}
	if !client.enqueue(data) {
		go h.remove(client)
	}
}

// Broadcast queues msg for every connected client and never waits on the
// network. A client whose queue is full is dropped.
func (h *Hub) Broadcast(msg *WebSocketMessage) {
	if h == nil {
		return
	}
	data, err := msg.ToJSON()
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message: %v", err)
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.enqueue(data) {
			if client.stopped() {
				continue
			}
			h.logger.Warn("Dropping WebSocket client %s: send buffer full", client.id)
			go h.remove(client)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*wsClient)
	h.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, client := range clients {
		client.stop()
		client.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		client.conn.Close()
	}
}
