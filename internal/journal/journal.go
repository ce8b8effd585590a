package journal

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"github.com/manpreetbhatti/scribble/internal/canvas"
	"github.com/manpreetbhatti/scribble/internal/db"
)

type Store interface {
	AppendEvent(e db.StrokeEvent) (int64, error)
}

// Writer persists canvas operations in the background. Record never
// blocks: when the queue is full the entry is dropped and counted.
type Writer struct {
	store   Store
	queue   chan canvas.Entry
	done    chan struct{}
	dropped atomic.Int64
	closed  bool
	mu      sync.RWMutex
}

func NewWriter(store Store, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = 1024
	}
	w := &Writer{
		store: store,
		queue: make(chan canvas.Entry, queueSize),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) Record(e canvas.Entry) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}

	select {
	case w.queue <- e:
	default:
		if n := w.dropped.Add(1); n%100 == 1 {
			log.Printf("⚠️ Journal queue full, dropped %d entries so far", n)
		}
	}
}

// Number of entries lost to a full queue
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Writes out everything already queued, then stops.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	for e := range w.queue {
		if err := w.write(e); err != nil {
			log.Printf("Journal: failed to record %s of %s in room %s: %v", e.Op, e.Stroke.ID, e.RoomID, err)
		}
	}
}

func (w *Writer) write(e canvas.Entry) error {
	payload, err := json.Marshal(e.Stroke)
	if err != nil {
		return err
	}
	_, err = w.store.AppendEvent(db.StrokeEvent{
		RoomID:    e.RoomID,
		Op:        string(e.Op),
		StrokeID:  e.Stroke.ID,
		Sequence:  int64(e.Stroke.Sequence),
		AuthorID:  e.ActorID,
		Payload:   string(payload),
		CreatedAt: e.At,
	})
	return err
}
