package canvas

import (
	"time"

	"github.com/manpreetbhatti/scribble/internal/history"
)

// Kind of an applied history operation
type Operation string

const (
	OpDraw Operation = "draw"
	OpUndo Operation = "undo"
	OpRedo Operation = "redo"
)

// One applied operation. For undo and redo, Stroke is the stroke that was
// moved.
type Entry struct {
	RoomID  string
	Op      Operation
	ActorID string
	Stroke  history.Stroke
	At      time.Time
}

// Receives every applied operation, in order. Implementations are called
// from the coordinator loop and must return immediately.
type Journal interface {
	Record(entry Entry)
}
