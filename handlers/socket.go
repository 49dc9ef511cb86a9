// handlers/socket.go
package handlers

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"match-coordinator/apperrors"
	"match-coordinator/models"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 32
)

// EventRouter receives decoded inbound events and connection teardown.
type EventRouter interface {
	Dispatch(connectionID, event string, raw json.RawMessage)
	Disconnect(connectionID string)
}

// Hub tracks live sockets and the match rooms they joined.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]struct{}
}

// Client is one websocket connection.
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]struct{}),
	}
}

func newClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

// SetupSocketRoutes mounts the websocket endpoint at /ws.
func SetupSocketRoutes(app *fiber.App, hub *Hub, router EventRouter) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		hub.Serve(conn, router)
	}))
}

// Serve runs one connection until it closes. It blocks, as the websocket
// handler must.
func (h *Hub) Serve(conn *websocket.Conn, router EventRouter) {
	c := newClient(uuid.NewString(), conn)
	h.register(c)
	log.Printf("[WS] 🔌 connection %s opened from %s", c.id, conn.RemoteAddr())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readPump(router)
	c.close()
	<-writerDone

	h.unregister(c)
	router.Disconnect(c.id)
	log.Printf("[WS] connection %s closed", c.id)
}

// Subscribe adds a connection to a match room. Unknown connections are ignored.
func (h *Hub) Subscribe(room, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[connectionID]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[connectionID] = struct{}{}
}

// Broadcast sends an event to every connection in the room.
func (h *Hub) Broadcast(room, event string, payload any) {
	msg, ok := encode(event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

// Send delivers an event to a single connection.
func (h *Hub) Send(connectionID, event string, payload any) {
	msg, ok := encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	c, found := h.clients[connectionID]
	h.mu.RUnlock()
	if found {
		c.enqueue(msg)
	}
}

// Len is the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
	for room, members := range h.rooms {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func encode(event string, payload any) ([]byte, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[WS] ❌ failed to marshal payload for %s: %v", event, err)
		return nil, false
	}
	msg, err := json.Marshal(models.Envelope{Event: event, Data: data})
	if err != nil {
		log.Printf("[WS] ❌ failed to marshal envelope for %s: %v", event, err)
		return nil, false
	}
	return msg, true
}

// enqueue never blocks. A client that cannot keep up is disconnected.
func (c *Client) enqueue(msg []byte) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		log.Printf("[WS] ⚠️ send buffer full for %s, closing", c.id)
		c.close()
	}
}

func (c *Client) readPump(router EventRouter) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] unexpected close for %s: %v", c.id, err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(payload, &env); err != nil || env.Event == "" {
			c.enqueueError("invalid message format")
			continue
		}
		router.Dispatch(c.id, env.Event, env.Data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.closed:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) enqueueError(message string) {
	if msg, ok := encode(models.EventError, models.Rejection{Code: string(apperrors.CodeInvalidInput), Message: message}); ok {
		c.enqueue(msg)
	}
}

// close unblocks both pumps. The connection itself is released by fiber
// once Serve returns.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			_ = c.conn.SetReadDeadline(time.Now())
		}
	})
}
