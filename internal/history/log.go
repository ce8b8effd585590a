package history

import (
	"fmt"
	"sync"
)

// The authoritative drawing state of one canvas: the strokes currently on
// it, ordered by sequence, and the redo stack of undone strokes.
//
// A Log is owned by exactly one coordinator, which serializes every
// mutation. The mutex only keeps reads from other goroutines (stats,
// tests) consistent.
type Log struct {
	limits Limits

	active []Stroke
	undone []Stroke

	// every id ever accepted, so ids stay unique after redo invalidation
	seen map[string]struct{}
	next uint64

	mu sync.RWMutex
}

// Creates an empty log
func NewLog(limits Limits) *Log {
	return &Log{
		limits: limits,
		active: make([]Stroke, 0),
		undone: make([]Stroke, 0),
		seen:   make(map[string]struct{}),
	}
}

// Validates the stroke, assigns it the next sequence number and puts it on
// the canvas. Any pending redo history is discarded.
func (l *Log) Append(s Stroke) (uint64, error) {
	if err := l.limits.Validate(s); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.seen[s.ID]; dup {
		return 0, fmt.Errorf("%w: %q", ErrDuplicateStroke, s.ID)
	}

	l.next++
	s.Sequence = l.next
	s.Points = append([]Point(nil), s.Points...)

	l.seen[s.ID] = struct{}{}
	l.active = append(l.active, s)
	l.undone = l.undone[:0]

	return s.Sequence, nil
}

// Moves the newest stroke to the redo stack. Returns false when the canvas
// is empty.
func (l *Log) Undo() (Stroke, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.active) == 0 {
		return Stroke{}, false
	}

	last := l.active[len(l.active)-1]
	l.active = l.active[:len(l.active)-1]
	l.undone = append(l.undone, last)
	return last, true
}

// Puts the most recently undone stroke back with its original sequence.
// Returns false when there is nothing to redo.
func (l *Log) Redo() (Stroke, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.undone) == 0 {
		return Stroke{}, false
	}

	last := l.undone[len(l.undone)-1]
	l.undone = l.undone[:len(l.undone)-1]
	// Anything appended after an undo clears the redo stack, so last is
	// always newer than every active stroke.
	l.active = append(l.active, last)
	return last, true
}

// Returns a copy of the active strokes in sequence order
func (l *Log) Snapshot() []Stroke {
	l.mu.RLock()
	defer l.mu.RUnlock()
	strokes := make([]Stroke, len(l.active))
	copy(strokes, l.active)
	return strokes
}

// Number of strokes on the canvas
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.active)
}

// Number of strokes available to redo
func (l *Log) UndoneLen() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.undone)
}
