package web

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ai-gamer/server/internal/interfaces"
)

// Command is an inbound client message. The shape mirrors outbound events.
type Command struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// CommandHandler processes one inbound client command.
type CommandHandler func(client *Client, cmd Command)

// SnapshotFunc builds the state event pushed to a client right after it
// connects.
type SnapshotFunc func() interfaces.Event

// Client represents a WebSocket client connection
type Client struct {
	ID     string
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *EventHub
	mu     sync.Mutex
	closed bool
}

// EventHub manages WebSocket connections and fans events out to them. It is
// the EventPublisher the rest of the server broadcasts through.
type EventHub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	onCommand  CommandHandler
	snapshot   SnapshotFunc
	mu         sync.RWMutex
}

// NewEventHub creates a new event hub
func NewEventHub() *EventHub {
	return &EventHub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 100),
		unregister: make(chan *Client, 100),
		broadcast:  make(chan []byte, 1000),
	}
}

// SetCommandHandler installs the inbound command dispatcher. Must be called
// before Run.
func (h *EventHub) SetCommandHandler(handler CommandHandler) {
	h.onCommand = handler
}

// SetSnapshotFunc installs the state snapshot pushed on connect. Must be
// called before Run.
func (h *EventHub) SetSnapshotFunc(fn SnapshotFunc) {
	h.snapshot = fn
}

// Run starts the hub's event loop
func (h *EventHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case data := <-h.broadcast:
			h.broadcastData(data)
		}
	}
}

// Publish broadcasts an event to every connected client.
func (h *EventHub) Publish(event interfaces.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Hub] Failed to marshal event %s: %v", event.Kind, err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Printf("[Hub] Broadcast channel full, dropping %s", event.Kind)
	}
}

// registerClient adds a new client and pushes the current state to it
func (h *EventHub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	log.Printf("[Hub] Client connected: %s (total: %d)", client.ID, len(h.clients))

	go client.writePump()

	if h.snapshot == nil {
		return
	}
	data, err := json.Marshal(h.snapshot())
	if err != nil {
		log.Printf("[Hub] Failed to marshal state snapshot: %v", err)
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

// unregisterClient removes a client from the hub
func (h *EventHub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
		log.Printf("[Hub] Client disconnected: %s (total: %d)", client.ID, len(h.clients))
	}
}

// broadcastData sends a serialized event to all connected clients
func (h *EventHub) broadcastData(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.Send <- data:
		default:
			// Client send buffer full, skip
			log.Printf("[Hub] Client send buffer full: %s", client.ID)
		}
	}
}

// GetClientCount returns the number of connected clients
func (h *EventHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Reply sends an event to this client only.
func (c *Client) Reply(event interfaces.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Client] Failed to marshal reply for %s: %v", c.ID, err)
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.mu.Lock()
			if !ok {
				// Hub closed the channel
				c.closed = true
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.mu.Unlock()
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[Client] Error writing to %s: %v", c.ID, err)
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
				log.Printf("[Client] Error sending ping to %s: %v", c.ID, err)
				c.closed = true
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	c.Conn.Close()
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Close()
	}()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Client] Unexpected close from %s: %v", c.ID, err)
			}
			break
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			log.Printf("[Client] Bad command from %s: %v", c.ID, err)
			continue
		}
		// Dispatch off the read goroutine: a slow command (generation can
		// take well over the read deadline) must not stall pong handling.
		if c.Hub.onCommand != nil {
			go c.Hub.onCommand(c, cmd)
		}
	}
}
