package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/scribble/internal/history"
	"github.com/manpreetbhatti/scribble/internal/protocol"
)

type serverMessage struct {
	Type    protocol.MessageType   `json:"type"`
	Stroke  *history.Stroke        `json:"stroke"`
	Strokes []history.Stroke       `json:"strokes"`
	Error   *protocol.ErrorPayload `json:"error"`
}

func setupServer(t *testing.T, opts Options) (*Hub, string, func()) {
	t.Helper()
	hub := NewHub(opts)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return hub, url, func() {
		hub.Shutdown()
		srv.Close()
	}
}

func dial(t *testing.T, url, room string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?room="+room, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) serverMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("Expected text frame, got %d", kind)
	}
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Invalid message %s: %v", data, err)
	}
	return msg
}

func write(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

const strokeFrame = `{"type":"DRAW_STROKE","stroke":{"id":"s1","points":[{"x":1,"y":2},{"x":3,"y":4}],"color":"#ff0000","width":3}}`

func TestHubCreation(t *testing.T) {
	hub := NewHub(DefaultOptions())
	defer hub.Shutdown()

	if hub.rooms == nil {
		t.Error("Hub rooms map should be initialized")
	}
	if hub.GetRoomCount() != 0 {
		t.Errorf("Expected 0 rooms, got %d", hub.GetRoomCount())
	}
	if hub.GetClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", hub.GetClientCount())
	}
	if len(hub.GetActiveRooms()) != 0 {
		t.Errorf("Expected no active rooms, got %v", hub.GetActiveRooms())
	}
}

func TestHubCanvasIsReused(t *testing.T) {
	hub := NewHub(DefaultOptions())
	defer hub.Shutdown()

	c1, err := hub.Canvas("room-b")
	if err != nil {
		t.Fatalf("Canvas failed: %v", err)
	}
	c2, _ := hub.Canvas("room-b")
	if c1 != c2 {
		t.Error("Should return same coordinator for the same room")
	}
	c3, _ := hub.Canvas("room-a")
	if c1 == c3 {
		t.Error("Different rooms should have different coordinators")
	}

	ids := hub.RoomIDs()
	if len(ids) != 2 || ids[0] != "room-a" || ids[1] != "room-b" {
		t.Errorf("Expected sorted [room-a room-b], got %v", ids)
	}
	if hub.Lookup("room-a") != c3 {
		t.Error("Lookup should return the open coordinator")
	}
	if hub.Lookup("missing") != nil {
		t.Error("Lookup should not open rooms")
	}
}

func TestHubRejectsInvalidRooms(t *testing.T) {
	hub := NewHub(DefaultOptions())
	defer hub.Shutdown()

	for _, id := range []string{"", "has space", "../etc", strings.Repeat("x", 65)} {
		if _, err := hub.Canvas(id); !errors.Is(err, ErrInvalidRoom) {
			t.Errorf("Expected ErrInvalidRoom for %q, got %v", id, err)
		}
	}
	if !ValidRoomID(strings.Repeat("x", 64)) {
		t.Error("64-character room ids should be valid")
	}
}

func TestHubRoomLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRooms = 2
	hub := NewHub(opts)
	defer hub.Shutdown()

	for _, id := range []string{"one", "two"} {
		if _, err := hub.Canvas(id); err != nil {
			t.Fatalf("Canvas(%s) failed: %v", id, err)
		}
	}

	if _, err := hub.Canvas("three"); !errors.Is(err, ErrHubFull) {
		t.Errorf("Expected ErrHubFull, got %v", err)
	}
	if _, err := hub.Canvas("one"); err != nil {
		t.Errorf("Existing rooms should stay reachable, got %v", err)
	}
	if hub.GetRoomCount() != 2 {
		t.Errorf("Expected 2 rooms, got %d", hub.GetRoomCount())
	}
}

func TestHubSnapshot(t *testing.T) {
	hub := NewHub(DefaultOptions())
	defer hub.Shutdown()

	if _, err := hub.Snapshot(context.Background(), "nope"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}

	hub.Canvas("empty")
	strokes, err := hub.Snapshot(context.Background(), "empty")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(strokes) != 0 {
		t.Errorf("Expected empty canvas, got %d strokes", len(strokes))
	}
}

func TestHubShutdown(t *testing.T) {
	hub := NewHub(DefaultOptions())
	c, _ := hub.Canvas("room")

	hub.Shutdown()
	hub.Shutdown()

	if _, err := hub.Canvas("other"); !errors.Is(err, ErrHubClosed) {
		t.Errorf("Expected ErrHubClosed, got %v", err)
	}
	if _, err := c.Snapshot(context.Background()); err == nil {
		t.Error("Expected closed coordinator after shutdown")
	}
}

func TestWebSocketSession(t *testing.T) {
	hub, url, cleanup := setupServer(t, DefaultOptions())
	defer cleanup()

	a := dial(t, url, "board")
	defer a.Close()
	if msg := readMessage(t, a); msg.Type != protocol.MessageLoadHistory || len(msg.Strokes) != 0 {
		t.Fatalf("Expected empty LOAD_HISTORY, got %+v", msg)
	}

	b := dial(t, url, "board")
	defer b.Close()
	readMessage(t, b)

	write(t, a, strokeFrame)
	msg := readMessage(t, b)
	if msg.Type != protocol.MessageDrawStroke {
		t.Fatalf("Expected DRAW_STROKE, got %s", msg.Type)
	}
	if msg.Stroke.ID != "s1" || msg.Stroke.Sequence != 1 || msg.Stroke.AuthorID == "" {
		t.Errorf("Unexpected relayed stroke: %+v", msg.Stroke)
	}

	write(t, b, `{"type":"UNDO"}`)
	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		if msg.Type != protocol.MessageLoadHistory || len(msg.Strokes) != 0 {
			t.Errorf("Expected empty LOAD_HISTORY after undo, got %+v", msg)
		}
	}

	write(t, a, `{"type":"REDO"}`)
	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		if len(msg.Strokes) != 1 || msg.Strokes[0].Sequence != 1 {
			t.Errorf("Expected s1 restored with sequence 1, got %+v", msg.Strokes)
		}
	}

	late := dial(t, url, "board")
	defer late.Close()
	msg = readMessage(t, late)
	if len(msg.Strokes) != 1 || msg.Strokes[0].ID != "s1" {
		t.Errorf("Late joiner should converge to [s1], got %+v", msg.Strokes)
	}

	if hub.GetActiveRooms()["board"] != 3 {
		t.Errorf("Expected 3 clients in board, got %d", hub.GetActiveRooms()["board"])
	}
}

func TestWebSocketRoomsAreIsolated(t *testing.T) {
	_, url, cleanup := setupServer(t, DefaultOptions())
	defer cleanup()

	a := dial(t, url, "one")
	defer a.Close()
	readMessage(t, a)

	write(t, a, strokeFrame)

	b := dial(t, url, "two")
	defer b.Close()
	if msg := readMessage(t, b); len(msg.Strokes) != 0 {
		t.Errorf("Room two should be empty, got %+v", msg.Strokes)
	}
}

func TestWebSocketMalformedFrame(t *testing.T) {
	_, url, cleanup := setupServer(t, DefaultOptions())
	defer cleanup()

	a := dial(t, url, "board")
	defer a.Close()
	readMessage(t, a)

	write(t, a, `not json`)
	msg := readMessage(t, a)
	if msg.Type != protocol.MessageError || msg.Error.Code != protocol.CodeMalformed {
		t.Errorf("Expected malformed ERROR, got %+v", msg)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MessagesPerSecond = 0.001
	opts.MessageBurst = 1
	_, url, cleanup := setupServer(t, opts)
	defer cleanup()

	a := dial(t, url, "board")
	defer a.Close()
	readMessage(t, a)

	// The first frame spends the only token; the empty undo is silent.
	write(t, a, `{"type":"UNDO"}`)
	write(t, a, strokeFrame)

	msg := readMessage(t, a)
	if msg.Type != protocol.MessageError || msg.Error.Code != protocol.CodeRateLimited {
		t.Errorf("Expected rate_limited ERROR, got %+v", msg)
	}
}

func TestWebSocketInvalidRoom(t *testing.T) {
	_, url, cleanup := setupServer(t, DefaultOptions())
	defer cleanup()

	_, resp, err := websocket.DefaultDialer.Dial(url+"?room=bad%20room", nil)
	if err == nil {
		t.Fatal("Expected dial to fail for an invalid room")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %v", resp)
	}
}

func TestWebSocketRoomLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRooms = 1
	_, url, cleanup := setupServer(t, opts)
	defer cleanup()

	conn := dial(t, url, "first")
	defer conn.Close()
	readMessage(t, conn)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?room=second", nil)
	if err == nil {
		t.Fatal("Expected dial to fail once the room limit is reached")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %v", resp)
	}

	again := dial(t, url, "first")
	defer again.Close()
	if msg := readMessage(t, again); msg.Type != protocol.MessageLoadHistory {
		t.Errorf("Expected LOAD_HISTORY in the open room, got %s", msg.Type)
	}
}
