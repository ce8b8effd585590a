package ws

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/scribble/internal/canvas"
	"github.com/manpreetbhatti/scribble/internal/metrics"
	"github.com/manpreetbhatti/scribble/internal/protocol"
	"github.com/manpreetbhatti/scribble/internal/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024

	maxRateLimitWarnings = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// One websocket connection. It is the session.Sender the coordinator fans
// out to.
type Client struct {
	hub         *Hub
	canvas      *canvas.Coordinator
	conn        *websocket.Conn
	send        chan []byte
	roomID      string
	clientID    string
	rateLimiter *ratelimit.Limiter

	closed bool
	mu     sync.Mutex
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = DefaultRoom
	}

	coord, err := hub.Canvas(roomID)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, ErrInvalidRoom) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	queueSize := hub.opts.SendQueueSize
	if queueSize <= 0 {
		queueSize = 512
	}

	client := &Client{
		hub:         hub,
		canvas:      coord,
		conn:        conn,
		send:        make(chan []byte, queueSize),
		roomID:      roomID,
		clientID:    uuid.NewString(),
		rateLimiter: ratelimit.NewLimiter(hub.opts.MessagesPerSecond, hub.opts.MessageBurst),
	}

	go client.writePump()

	if err := coord.Join(hub.ctx, client); err != nil {
		log.Printf("Client %s could not join room %s: %v", client.clientID, roomID, err)
		client.Close()
		return
	}

	go client.readPump()
}

func (c *Client) ID() string {
	return c.clientID
}

// Queues message without blocking. Returns false when the queue is full or
// the client is closed.
func (c *Client) Send(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Closes the send queue; the write pump then closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.canvas.Leave(c.hub.ctx, c.clientID)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			metrics.RecordRateLimited()
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("⚠️ Rate limit exceeded for client %s in room %s (warning #%d)",
					c.clientID, c.roomID, rateLimitWarnings)
				if msg, err := protocol.EncodeError(protocol.CodeRateLimited, "too many messages"); err == nil {
					c.Send(msg)
				}
			}
			if rateLimitWarnings > maxRateLimitWarnings {
				log.Printf("🚫 Disconnecting client %s for excessive rate limit violations", c.clientID)
				return
			}
			continue
		}

		if err := c.canvas.Submit(c.hub.ctx, c.clientID, message); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
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
