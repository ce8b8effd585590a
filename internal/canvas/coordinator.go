package canvas

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/manpreetbhatti/scribble/internal/history"
	"github.com/manpreetbhatti/scribble/internal/metrics"
	"github.com/manpreetbhatti/scribble/internal/protocol"
	"github.com/manpreetbhatti/scribble/internal/session"
	"github.com/manpreetbhatti/scribble/internal/telemetry"
)

var ErrClosed = errors.New("canvas closed")

type Options struct {
	Limits history.Limits

	// Optional sink for applied operations. Record must not block.
	Journal Journal

	// Capacity of the inbound event queue
	QueueSize int
}

type eventKind int

const (
	eventJoin eventKind = iota
	eventLeave
	eventMessage
	eventSnapshot
)

type event struct {
	kind   eventKind
	sender session.Sender
	connID string
	data   []byte
	reply  chan []history.Stroke
}

// Coordinator is the only writer of a canvas's history. Every connect,
// disconnect, operation and snapshot read is queued and handled one at a
// time by Run, so a mutation and the broadcast it causes are never
// interleaved with another event.
type Coordinator struct {
	roomID   string
	history  *history.Log
	sessions *session.Registry
	journal  Journal

	events chan event
	done   chan struct{}
}

func New(roomID string, opts Options) *Coordinator {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Coordinator{
		roomID:   roomID,
		history:  history.NewLog(opts.Limits),
		sessions: session.NewRegistry(),
		journal:  opts.Journal,
		events:   make(chan event, opts.QueueSize),
		done:     make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled, then closes every
// connection of the canvas.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	defer c.sessions.CloseAll()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

// Join registers a connection. It will receive the current snapshot before
// any other canvas message.
func (c *Coordinator) Join(ctx context.Context, s session.Sender) error {
	return c.enqueue(ctx, event{kind: eventJoin, sender: s, connID: s.ID()})
}

// Leave unregisters a connection. History is not affected.
func (c *Coordinator) Leave(ctx context.Context, connID string) error {
	return c.enqueue(ctx, event{kind: eventLeave, connID: connID})
}

// Submit queues a raw client frame. Frames from one connection are handled
// in the order they are submitted.
func (c *Coordinator) Submit(ctx context.Context, connID string, data []byte) error {
	return c.enqueue(ctx, event{kind: eventMessage, connID: connID, data: data})
}

// Snapshot returns the active strokes as of the moment the request is
// processed.
func (c *Coordinator) Snapshot(ctx context.Context) ([]history.Stroke, error) {
	reply := make(chan []history.Stroke, 1)
	if err := c.enqueue(ctx, event{kind: eventSnapshot, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case strokes := <-reply:
		return strokes, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Number of connected clients
func (c *Coordinator) ClientCount() int {
	return c.sessions.Count()
}

// Number of strokes on the canvas
func (c *Coordinator) StrokeCount() int {
	return c.history.Len()
}

// Number of strokes that can be redone
func (c *Coordinator) UndoneCount() int {
	return c.history.UndoneLen()
}

func (c *Coordinator) enqueue(ctx context.Context, ev event) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case eventJoin:
		c.join(ev.sender)
	case eventLeave:
		if c.sessions.Unregister(ev.connID) {
			metrics.RecordDisconnect()
			log.Printf("Client %s left room %s (remaining: %d)", ev.connID, c.roomID, c.sessions.Count())
		}
	case eventMessage:
		c.handleMessage(ctx, ev.connID, ev.data)
	case eventSnapshot:
		ev.reply <- c.history.Snapshot()
	}
}

func (c *Coordinator) join(s session.Sender) {
	c.sessions.Register(s.ID(), s)
	metrics.RecordConnect()
	log.Printf("Client %s joined room %s (total: %d)", s.ID(), c.roomID, c.sessions.Count())

	msg, err := protocol.EncodeHistory(c.history.Snapshot())
	if err != nil {
		log.Printf("Failed to encode history for room %s: %v", c.roomID, err)
		return
	}
	c.sendTo(s.ID(), protocol.MessageLoadHistory, msg)
}

func (c *Coordinator) handleMessage(ctx context.Context, from string, data []byte) {
	start := time.Now()

	req, err := protocol.Decode(data)
	if err != nil {
		metrics.RecordOperation("unknown", metrics.ResultRejected, time.Since(start))
		c.reject(from, protocol.CodeMalformed, err)
		return
	}

	ctx, span := telemetry.StartSpan(ctx, "Canvas."+string(req.Type),
		attribute.String("room.id", c.roomID),
		attribute.String("connection.id", from),
	)
	defer span.End()

	switch req.Type {
	case protocol.MessageDrawStroke:
		c.draw(ctx, from, req.Stroke, start)
	case protocol.MessageUndo:
		c.undoOrRedo(OpUndo, from, c.history.Undo, start)
	case protocol.MessageRedo:
		c.undoOrRedo(OpRedo, from, c.history.Redo, start)
	}
}

func (c *Coordinator) draw(ctx context.Context, from string, stroke history.Stroke, start time.Time) {
	stroke.AuthorID = from

	seq, err := c.history.Append(stroke)
	if err != nil {
		telemetry.AddSpanError(ctx, err)
		code := protocol.CodeMalformed
		if errors.Is(err, history.ErrDuplicateStroke) {
			code = protocol.CodeDuplicateStroke
		}
		metrics.RecordOperation(string(OpDraw), metrics.ResultRejected, time.Since(start))
		c.reject(from, code, err)
		return
	}
	stroke.Sequence = seq

	msg, err := protocol.EncodeStroke(stroke)
	if err != nil {
		telemetry.AddSpanError(ctx, err)
		log.Printf("Failed to encode stroke %s in room %s: %v", stroke.ID, c.roomID, err)
	} else {
		c.broadcast(protocol.MessageDrawStroke, msg, from)
	}

	c.record(OpDraw, from, stroke)
	metrics.SetActiveStrokes(c.roomID, c.history.Len())
	metrics.RecordOperation(string(OpDraw), metrics.ResultApplied, time.Since(start))
}

// Undo and redo share a shape: apply, and on success resend the whole
// canvas to everyone, the requester included.
func (c *Coordinator) undoOrRedo(op Operation, from string, apply func() (history.Stroke, bool), start time.Time) {
	stroke, ok := apply()
	if !ok {
		metrics.RecordOperation(string(op), metrics.ResultNoop, time.Since(start))
		return
	}

	msg, err := protocol.EncodeHistory(c.history.Snapshot())
	if err != nil {
		log.Printf("Failed to encode history for room %s: %v", c.roomID, err)
	} else {
		c.broadcast(protocol.MessageLoadHistory, msg, "")
	}

	c.record(op, from, stroke)
	metrics.SetActiveStrokes(c.roomID, c.history.Len())
	metrics.RecordOperation(string(op), metrics.ResultApplied, time.Since(start))
}

func (c *Coordinator) broadcast(kind protocol.MessageType, msg []byte, exclude string) {
	delivered, failed := c.sessions.Broadcast(msg, exclude)
	metrics.RecordQueued(string(kind), delivered)
	for _, id := range failed {
		c.evict(id)
	}
}

func (c *Coordinator) sendTo(id string, kind protocol.MessageType, msg []byte) {
	if c.sessions.SendTo(id, msg) {
		metrics.RecordQueued(string(kind), 1)
		return
	}
	c.evict(id)
}

// Drops a connection whose queue is full. Closing its queue makes the
// write pump close the socket.
func (c *Coordinator) evict(id string) {
	if !c.sessions.Unregister(id) {
		return
	}
	metrics.RecordDroppedSends(1)
	metrics.RecordDisconnect()
	log.Printf("⚠️ Client %s in room %s is not keeping up, disconnecting", id, c.roomID)
}

func (c *Coordinator) reject(from, code string, err error) {
	log.Printf("⚠️ Rejected message from client %s in room %s: %v", from, c.roomID, err)

	msg, encErr := protocol.EncodeError(code, err.Error())
	if encErr != nil {
		return
	}
	c.sendTo(from, protocol.MessageError, msg)
}

func (c *Coordinator) record(op Operation, actor string, stroke history.Stroke) {
	if c.journal == nil {
		return
	}
	c.journal.Record(Entry{
		RoomID:  c.roomID,
		Op:      op,
		ActorID: actor,
		Stroke:  stroke,
		At:      time.Now().UTC(),
	})
}
