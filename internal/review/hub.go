package review

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ryanoboyle/wharf/pkg/logging"
)

// ErrClientAlreadyConnected is returned when a second client attempts to
// connect while one is already registered — spec.md §6: "Only one client
// connection is accepted."
var ErrClientAlreadyConnected = errors.New("review: a client is already connected")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub is the single-client review-session WebSocket endpoint, adapted
// from the teacher's broadcast WebSocketHub into a request/response hub
// bound to exactly one connection at a time.
type Hub struct {
	mu     sync.Mutex
	client *hubClient

	Inbound chan ClientMessage
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// NewHub builds an unconnected Hub.
func NewHub() *Hub {
	return &Hub{Inbound: make(chan ClientMessage, 32)}
}

// Upgrade promotes an HTTP request to a WebSocket connection and
// registers it as the hub's sole client, rejecting a second connection
// attempt while one is active.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request) error {
	h.mu.Lock()
	if h.client != nil {
		h.mu.Unlock()
		http.Error(w, ErrClientAlreadyConnected.Error(), http.StatusConflict)
		return ErrClientAlreadyConnected
	}
	h.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &hubClient{conn: conn, send: make(chan []byte, 64), done: make(chan struct{})}

	h.mu.Lock()
	h.client = c
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)

	return nil
}

// Send marshals msg to JSON and queues it for the connected client.
// A no-op (never blocks) when no client is connected.
func (h *Hub) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	c := h.client
	h.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case c.send <- data:
	case <-c.done:
	}
	return nil
}

// Connected reports whether a client is currently registered.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client != nil
}

// Close disconnects the current client, if any.
func (h *Hub) Close() {
	h.mu.Lock()
	c := h.client
	h.client = nil
	h.mu.Unlock()

	if c != nil {
		close(c.done)
		c.conn.Close()
	}
}

func (h *Hub) readPump(c *hubClient) {
	defer func() {
		h.mu.Lock()
		owned := h.client == c
		if owned {
			h.client = nil
		}
		h.mu.Unlock()
		// When Close took the client first, it has already closed done.
		if owned {
			close(c.done)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Logger().Warn("review websocket read error", logging.Err(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Logger().Warn("malformed review protocol message", logging.Err(err))
			continue
		}
		h.Inbound <- msg
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
