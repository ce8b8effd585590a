package history

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidStroke   = errors.New("invalid stroke")
	ErrDuplicateStroke = errors.New("duplicate stroke id")
)

// A single 2D canvas coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// One completed pen gesture. Strokes are never modified after they are
// accepted into a Log.
type Stroke struct {
	ID       string  `json:"id"`
	AuthorID string  `json:"authorId"`
	Points   []Point `json:"points"`
	Color    string  `json:"color"`
	Width    float64 `json:"width"`
	Sequence uint64  `json:"sequence"`
}

// Bounds applied to incoming strokes
type Limits struct {
	MaxPoints      int
	MaxWidth       float64
	MaxIDLength    int
	MaxColorLength int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPoints:      10000,
		MaxWidth:       200,
		MaxIDLength:    128,
		MaxColorLength: 32,
	}
}

// Checks the stroke shape and attribute ranges. It does not know about
// other strokes, so id uniqueness is checked by the Log.
func (l Limits) Validate(s Stroke) error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return fmt.Errorf("%w: missing id", ErrInvalidStroke)
	case l.MaxIDLength > 0 && len(s.ID) > l.MaxIDLength:
		return fmt.Errorf("%w: id longer than %d bytes", ErrInvalidStroke, l.MaxIDLength)
	case len(s.Points) < 2:
		return fmt.Errorf("%w: need at least 2 points, got %d", ErrInvalidStroke, len(s.Points))
	case l.MaxPoints > 0 && len(s.Points) > l.MaxPoints:
		return fmt.Errorf("%w: %d points exceeds limit of %d", ErrInvalidStroke, len(s.Points), l.MaxPoints)
	case s.Color == "":
		return fmt.Errorf("%w: missing color", ErrInvalidStroke)
	case l.MaxColorLength > 0 && len(s.Color) > l.MaxColorLength:
		return fmt.Errorf("%w: color longer than %d bytes", ErrInvalidStroke, l.MaxColorLength)
	case !(s.Width > 0):
		return fmt.Errorf("%w: width must be positive", ErrInvalidStroke)
	case l.MaxWidth > 0 && s.Width > l.MaxWidth:
		return fmt.Errorf("%w: width %.1f exceeds %.1f", ErrInvalidStroke, s.Width, l.MaxWidth)
	}
	return nil
}
