package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manpreetbhatti/scribble/internal/history"
)

// Represents the type of a canvas message
type MessageType string

const (
	// Propose a stroke (client) or relay an accepted one (server)
	MessageDrawStroke MessageType = "DRAW_STROKE"

	// Request a global undo
	MessageUndo MessageType = "UNDO"

	// Request a global redo
	MessageRedo MessageType = "REDO"

	// Full authoritative snapshot of the canvas
	MessageLoadHistory MessageType = "LOAD_HISTORY"

	// Rejection sent only to the connection that caused it
	MessageError MessageType = "ERROR"
)

// Error codes carried by MessageError
const (
	CodeMalformed       = "malformed"
	CodeDuplicateStroke = "duplicate_stroke"
	CodeRateLimited     = "rate_limited"
)

var ErrMalformed = errors.New("malformed message")

// A decoded client operation
type Request struct {
	Type   MessageType
	Stroke history.Stroke
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type inbound struct {
	Type   MessageType     `json:"type"`
	Stroke json.RawMessage `json:"stroke,omitempty"`
}

// Client stroke payload. Sequence and author are assigned by the server.
type strokePayload struct {
	ID     string          `json:"id"`
	Points []*pointPayload `json:"points"`
	Color  string          `json:"color"`
	Width  float64         `json:"width"`
}

// Both coordinates are required; a null point or missing axis is malformed.
type pointPayload struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

func toPoints(in []*pointPayload) ([]history.Point, error) {
	if in == nil {
		return nil, nil
	}
	points := make([]history.Point, len(in))
	for i, p := range in {
		if p == nil || p.X == nil || p.Y == nil {
			return nil, fmt.Errorf("point %d needs numeric x and y", i)
		}
		points[i] = history.Point{X: *p.X, Y: *p.Y}
	}
	return points, nil
}

type strokeMessage struct {
	Type   MessageType    `json:"type"`
	Stroke history.Stroke `json:"stroke"`
}

type historyMessage struct {
	Type    MessageType      `json:"type"`
	Strokes []history.Stroke `json:"strokes"`
}

type errorMessage struct {
	Type  MessageType  `json:"type"`
	Error ErrorPayload `json:"error"`
}

// Parses a client frame. Only DRAW_STROKE, UNDO and REDO are accepted from
// clients; anything else is ErrMalformed.
func Decode(data []byte) (Request, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Request{}, fmt.Errorf("%w: empty message", ErrMalformed)
	}

	var msg inbound
	if err := strictUnmarshal(data, &msg); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch msg.Type {
	case MessageDrawStroke:
		if len(msg.Stroke) == 0 || bytes.Equal(msg.Stroke, []byte("null")) {
			return Request{}, fmt.Errorf("%w: missing stroke", ErrMalformed)
		}
		var p strokePayload
		if err := strictUnmarshal(msg.Stroke, &p); err != nil {
			return Request{}, fmt.Errorf("%w: stroke: %v", ErrMalformed, err)
		}
		points, err := toPoints(p.Points)
		if err != nil {
			return Request{}, fmt.Errorf("%w: stroke: %v", ErrMalformed, err)
		}
		return Request{
			Type: MessageDrawStroke,
			Stroke: history.Stroke{
				ID:     p.ID,
				Points: points,
				Color:  p.Color,
				Width:  p.Width,
			},
		}, nil

	case MessageUndo, MessageRedo:
		if len(msg.Stroke) != 0 {
			return Request{}, fmt.Errorf("%w: %s takes no payload", ErrMalformed, msg.Type)
		}
		return Request{Type: msg.Type}, nil

	case "":
		return Request{}, fmt.Errorf("%w: missing type", ErrMalformed)

	default:
		return Request{}, fmt.Errorf("%w: unknown message type %q", ErrMalformed, msg.Type)
	}
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after message")
	}
	return nil
}

// Relay of an accepted stroke
func EncodeStroke(s history.Stroke) ([]byte, error) {
	return json.Marshal(strokeMessage{Type: MessageDrawStroke, Stroke: s})
}

// Full snapshot. An empty canvas is encoded as an empty array, never null.
func EncodeHistory(strokes []history.Stroke) ([]byte, error) {
	if strokes == nil {
		strokes = []history.Stroke{}
	}
	return json.Marshal(historyMessage{Type: MessageLoadHistory, Strokes: strokes})
}

func EncodeError(code, message string) ([]byte, error) {
	return json.Marshal(errorMessage{
		Type:  MessageError,
		Error: ErrorPayload{Code: code, Message: message},
	})
}
