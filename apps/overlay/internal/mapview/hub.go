package mapview

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write one snapshot to a client
	writeWait = 10 * time.Second

	// Snapshots queued per client before it is considered stalled
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClientMessage is what browsers send back over the socket
type ClientMessage struct {
	Type  string `json:"type"`
	Layer string `json:"layer"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes scene snapshots to every connected client and routes marker
// clicks back into the scene. Each client has its own writer goroutine; a
// client whose queue fills up is dropped so broadcasts never block.
type Hub struct {
	scene *Scene

	writeWait  time.Duration
	sendBuffer int

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub and subscribes it to scene
func NewHub(scene *Scene) *Hub {
	h := &Hub{
		scene:      scene,
		writeWait:  writeWait,
		sendBuffer: sendBuffer,
		clients:    make(map[*client]struct{}),
	}
	scene.Subscribe(h.broadcast)
	return h
}

// ServeHTTP upgrades the request and queues the current scene straight away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Mapview: ws upgrade error: %v", err)
		return
	}

	// Snapshot under the hub lock so no broadcast slips in between
	h.mu.Lock()
	data, _ := json.Marshal(h.scene.Snapshot())
	c := &client{conn: conn, send: make(chan []byte, h.sendBuffer)}
	c.send <- data
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) broadcast(snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("Mapview: failed to encode scene: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("Mapview: dropping stalled client %s", c.conn.RemoteAddr())
			h.removeLocked(c)
		}
	}
}

// removeLocked forgets c, stops its writer and closes the socket. Safe to
// call more than once.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) writePump(c *client) {
	defer h.remove(c)

	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Mapview: ignoring malformed client message: %v", err)
			continue
		}
		switch msg.Type {
		case "activate":
			if !h.scene.Activate(msg.Layer) {
				log.Printf("Mapview: activate for unknown layer %s", msg.Layer)
			}
		default:
			log.Printf("Mapview: ignoring client message type %q", msg.Type)
		}
	}
}
