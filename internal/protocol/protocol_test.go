package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/manpreetbhatti/scribble/internal/history"
)

func TestDecodeDrawStroke(t *testing.T) {
	data := []byte(`{"type":"DRAW_STROKE","stroke":{"id":"s1","points":[{"x":1,"y":2},{"x":3.5,"y":4}],"color":"#ff0000","width":4}}`)

	req, err := Decode(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if req.Type != MessageDrawStroke {
		t.Errorf("Expected DRAW_STROKE, got %s", req.Type)
	}
	if req.Stroke.ID != "s1" || req.Stroke.Color != "#ff0000" || req.Stroke.Width != 4 {
		t.Errorf("Stroke fields mismatch: %+v", req.Stroke)
	}
	if len(req.Stroke.Points) != 2 || req.Stroke.Points[1].X != 3.5 {
		t.Errorf("Points mismatch: %+v", req.Stroke.Points)
	}
	if req.Stroke.Sequence != 0 || req.Stroke.AuthorID != "" {
		t.Error("Server-assigned fields should be empty after decode")
	}
}

func TestDecodeUndoRedo(t *testing.T) {
	for _, typ := range []MessageType{MessageUndo, MessageRedo} {
		req, err := Decode([]byte(`{"type":"` + string(typ) + `"}`))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		if req.Type != typ {
			t.Errorf("Expected %s, got %s", typ, req.Type)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ``},
		{"whitespace", `   `},
		{"not json", `hello`},
		{"array", `[1,2]`},
		{"missing type", `{"stroke":{}}`},
		{"unknown type", `{"type":"CLEAR"}`},
		{"server only type", `{"type":"LOAD_HISTORY"}`},
		{"draw without stroke", `{"type":"DRAW_STROKE"}`},
		{"draw with null stroke", `{"type":"DRAW_STROKE","stroke":null}`},
		{"non-numeric coordinate", `{"type":"DRAW_STROKE","stroke":{"id":"a","points":[{"x":"1","y":2},{"x":1,"y":2}],"color":"#000","width":1}}`},
		{"empty points", `{"type":"DRAW_STROKE","stroke":{"id":"a","points":[{},{}],"color":"#000","width":1}}`},
		{"null points", `{"type":"DRAW_STROKE","stroke":{"id":"a","points":[null,null],"color":"#000","width":1}}`},
		{"missing axis", `{"type":"DRAW_STROKE","stroke":{"id":"a","points":[{"x":1},{"y":2}],"color":"#000","width":1}}`},
		{"null coordinate", `{"type":"DRAW_STROKE","stroke":{"id":"a","points":[{"x":null,"y":2},{"x":1,"y":2}],"color":"#000","width":1}}`},
		{"unknown point field", `{"type":"DRAW_STROKE","stroke":{"id":"a","points":[{"x":1,"y":2,"z":3},{"x":1,"y":2}],"color":"#000","width":1}}`},
		{"points not array", `{"type":"DRAW_STROKE","stroke":{"id":"a","points":"nope","color":"#000","width":1}}`},
		{"client sets sequence", `{"type":"DRAW_STROKE","stroke":{"id":"a","points":[],"color":"#000","width":1,"sequence":4}}`},
		{"unknown envelope field", `{"type":"UNDO","target":"a"}`},
		{"undo with payload", `{"type":"UNDO","stroke":{"id":"a"}}`},
		{"trailing data", `{"type":"UNDO"}{"type":"REDO"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestEncodeStroke(t *testing.T) {
	data, err := EncodeStroke(history.Stroke{
		ID:       "s1",
		AuthorID: "conn-1",
		Points:   []history.Point{{X: 1, Y: 1}, {X: 2, Y: 2}},
		Color:    "#000",
		Width:    2,
		Sequence: 7,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var msg struct {
		Type   string         `json:"type"`
		Stroke map[string]any `json:"stroke"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if msg.Type != "DRAW_STROKE" {
		t.Errorf("Expected DRAW_STROKE, got %s", msg.Type)
	}
	if msg.Stroke["sequence"] != float64(7) {
		t.Errorf("Expected sequence 7, got %v", msg.Stroke["sequence"])
	}
	if msg.Stroke["authorId"] != "conn-1" {
		t.Errorf("Expected authorId conn-1, got %v", msg.Stroke["authorId"])
	}
}

func TestEncodeEmptyHistory(t *testing.T) {
	data, err := EncodeHistory(nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(string(data), `"strokes":[]`) {
		t.Errorf("Empty history should encode as an array, got %s", data)
	}
}

func TestEncodeError(t *testing.T) {
	data, err := EncodeError(CodeMalformed, "bad")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := `{"type":"ERROR","error":{"code":"malformed","message":"bad"}}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}
}
