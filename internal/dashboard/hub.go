package dashboard

import (
	"sync"

	"github.com/coder/websocket"
)

// sendBuffer is how many frames may wait for a client before it is dropped.
const sendBuffer = 16

type client struct {
	conn *websocket.Conn
	send chan []byte

	// closeCode is set before send is closed by the hub.
	closeCode   websocket.StatusCode
	closeReason string
}

// hub tracks connected clients and the latest frame of each message type.
// Frames are queued per client so one stalled socket never blocks the rest.
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	latest  map[MessageType][]byte
	closed  bool

	// active counts clients whose writer has not returned yet.
	active sync.WaitGroup
}

func newHub() *hub {
	return &hub{
		clients: make(map[*client]struct{}),
		latest:  make(map[MessageType][]byte),
	}
}

// add registers conn and queues the snapshot for it. It returns nil once the
// hub is closed.
func (h *hub) add(conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	for _, t := range snapshotOrder {
		if frame, ok := h.latest[t]; ok {
			c.send <- frame
		}
	}
	h.clients[c] = struct{}{}
	h.active.Add(1)
	return c
}

// publish remembers frame as the latest of its type and queues it for every
// client. Clients with a full queue are dropped.
func (h *hub) publish(t MessageType, frame []byte) (dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest[t] = frame
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.evictLocked(c, websocket.StatusPolicyViolation, "client too slow")
			dropped++
		}
	}
	return dropped
}

// remove forgets c. It is safe to call after the hub evicted c.
func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) evictLocked(c *client, code websocket.StatusCode, reason string) {
	c.closeCode = code
	c.closeReason = reason
	delete(h.clients, c)
	close(c.send)
}

// shutdown evicts every client and refuses new ones.
func (h *hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		h.evictLocked(c, websocket.StatusGoingAway, "server shutting down")
	}
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
