package ws

import (
	"context"
	"errors"
	"log"
	"regexp"
	"sort"
	"sync"

	"github.com/manpreetbhatti/scribble/internal/canvas"
	"github.com/manpreetbhatti/scribble/internal/history"
)

var (
	ErrHubClosed    = errors.New("hub is shut down")
	ErrRoomNotFound = errors.New("room not found")
	ErrInvalidRoom  = errors.New("invalid room id")
	ErrHubFull      = errors.New("room limit reached")
)

const DefaultRoom = "default"

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Reports whether id can name a room
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

type Options struct {
	Canvas canvas.Options

	// Per-connection inbound frame rate
	MessagesPerSecond float64
	MessageBurst      int

	// Outbound queue per connection. A connection whose queue is full is
	// evicted.
	SendQueueSize int

	// Rooms kept open at once; 0 means no limit. Each open room holds a
	// goroutine and its history until shutdown.
	MaxRooms int
}

func DefaultOptions() Options {
	return Options{
		Canvas:            canvas.Options{Limits: history.DefaultLimits()},
		MessagesPerSecond: 100,
		MessageBurst:      200,
		SendQueueSize:     512,
		MaxRooms:          1000,
	}
}

// Owns one coordinator per room. Rooms are created on first use and live
// until Shutdown, so a canvas survives its last client disconnecting.
type Hub struct {
	rooms map[string]*canvas.Coordinator
	opts  Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
	mu     sync.RWMutex
}

func NewHub(opts Options) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:  make(map[string]*canvas.Coordinator),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Returns the coordinator for roomID, starting it if needed.
func (h *Hub) Canvas(roomID string) (*canvas.Coordinator, error) {
	if !ValidRoomID(roomID) {
		return nil, ErrInvalidRoom
	}

	h.mu.RLock()
	c, ok := h.rooms[roomID]
	closed := h.closed
	h.mu.RUnlock()
	if ok {
		return c, nil
	}
	if closed {
		return nil, ErrHubClosed
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if c, ok := h.rooms[roomID]; ok {
		return c, nil
	}
	if h.opts.MaxRooms > 0 && len(h.rooms) >= h.opts.MaxRooms {
		return nil, ErrHubFull
	}

	c = canvas.New(roomID, h.opts.Canvas)
	h.rooms[roomID] = c
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		c.Run(h.ctx)
	}()

	log.Printf("🎨 Canvas %s opened (rooms: %d)", roomID, len(h.rooms))
	return c, nil
}

// Returns the coordinator for roomID, or nil if the room was never opened.
func (h *Hub) Lookup(roomID string) *canvas.Coordinator {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

// Serialized snapshot of a live room
func (h *Hub) Snapshot(ctx context.Context, roomID string) ([]history.Stroke, error) {
	c := h.Lookup(roomID)
	if c == nil {
		return nil, ErrRoomNotFound
	}
	return c.Snapshot(ctx)
}

func (h *Hub) RoomIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, c := range h.rooms {
		total += c.ClientCount()
	}
	return total
}

// Connected clients per room
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make(map[string]int, len(h.rooms))
	for id, c := range h.rooms {
		result[id] = c.ClientCount()
	}
	return result
}

// Stops every coordinator and closes all connections.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
	log.Println("Hub shut down")
}
