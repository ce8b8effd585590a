package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/manpreetbhatti/scribble/internal/canvas"
	"github.com/manpreetbhatti/scribble/internal/checkpoint"
	"github.com/manpreetbhatti/scribble/internal/db"
	"github.com/manpreetbhatti/scribble/internal/export"
	"github.com/manpreetbhatti/scribble/internal/history"
	"github.com/manpreetbhatti/scribble/internal/telemetry"
	"github.com/manpreetbhatti/scribble/internal/ws"
)

// API serves the REST surface. database and checkpoints are nil when
// storage is disabled; the routes that need them answer 503.
type API struct {
	hub         *ws.Hub
	database    *db.Database
	checkpoints *checkpoint.Service
}

func New(hub *ws.Hub, database *db.Database, checkpoints *checkpoint.Service) *API {
	return &API{
		hub:         hub,
		database:    database,
		checkpoints: checkpoints,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) requireStorage(w http.ResponseWriter) bool {
	if a.database == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Storage is disabled")
		return false
	}
	return true
}

func pagination(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"storage":   a.database != nil,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"clients":        a.hub.GetActiveRooms(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["total_rooms"] = dbStats["room_count"]
			stats["total_events"] = dbStats["event_count"]
			stats["total_checkpoints"] = dbStats["checkpoint_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
	Live            bool       `json:"live"`
	ActiveUsers     int        `json:"active_users"`
	StrokeCount     int        `json:"stroke_count"`
	UndoneCount     int        `json:"undone_count"`
	EventCount      int        `json:"event_count,omitempty"`
	CheckpointCount int        `json:"checkpoint_count,omitempty"`
}

func (a *API) roomResponse(id string, stored *db.Room) RoomResponse {
	resp := RoomResponse{ID: id}
	if stored != nil {
		resp.Name = stored.Name
		resp.CreatedAt = &stored.CreatedAt
		resp.UpdatedAt = &stored.UpdatedAt
	}
	if c := a.hub.Lookup(id); c != nil {
		resp.Live = true
		resp.ActiveUsers = c.ClientCount()
		resp.StrokeCount = c.StrokeCount()
		resp.UndoneCount = c.UndoneCount()
	}
	return resp
}

// Lists stored rooms and, on the first page, live rooms that have nothing
// stored yet.
func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 20, 100)

	var response []RoomResponse
	seen := make(map[string]bool)

	if a.database != nil {
		rooms, err := a.database.ListRooms(limit, offset)
		if err != nil {
			errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
			return
		}
		for i := range rooms {
			response = append(response, a.roomResponse(rooms[i].ID, &rooms[i]))
			seen[rooms[i].ID] = true
		}
	}

	if offset == 0 {
		for _, id := range a.hub.RoomIDs() {
			if seen[id] {
				continue
			}
			if a.database != nil {
				if stored, err := a.database.GetRoom(id); err == nil && stored != nil {
					continue
				}
			}
			response = append(response, a.roomResponse(id, nil))
		}
	}

	if response == nil {
		response = []RoomResponse{}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	var stored *db.Room
	if a.database != nil {
		var err error
		stored, err = a.database.GetRoom(roomID)
		if err != nil {
			errorResponse(w, http.StatusInternalServerError, "Failed to get room")
			return
		}
	}

	if stored == nil && a.hub.Lookup(roomID) == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	resp := a.roomResponse(roomID, stored)
	if a.database != nil {
		resp.EventCount, _ = a.database.GetEventCount(roomID)
		resp.CheckpointCount, _ = a.database.GetCheckpointCount(roomID)
	}

	jsonResponse(w, http.StatusOK, resp)
}

// Deletes stored data only. A live canvas keeps its history.
func (a *API) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	if !a.requireStorage(w) {
		return
	}
	roomID := mux.Vars(r)["id"]

	if err := a.database.DeleteRoom(roomID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete room")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Room deleted"})
}

func (a *API) snapshot(w http.ResponseWriter, r *http.Request) (string, []history.Stroke, bool) {
	roomID := mux.Vars(r)["id"]

	strokes, err := a.hub.Snapshot(r.Context(), roomID)
	switch {
	case errors.Is(err, ws.ErrRoomNotFound):
		errorResponse(w, http.StatusNotFound, "Room is not open")
		return "", nil, false
	case errors.Is(err, canvas.ErrClosed):
		errorResponse(w, http.StatusServiceUnavailable, "Server is shutting down")
		return "", nil, false
	case err != nil:
		telemetry.AddSpanError(r.Context(), err)
		errorResponse(w, http.StatusInternalServerError, "Failed to read canvas")
		return "", nil, false
	}
	if strokes == nil {
		strokes = []history.Stroke{}
	}
	return roomID, strokes, true
}

func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	roomID, strokes, ok := a.snapshot(w, r)
	if !ok {
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"room_id": roomID,
		"strokes": strokes,
		"count":   len(strokes),
	})
}

func (a *API) ExportPDFHandler(w http.ResponseWriter, r *http.Request) {
	roomID, strokes, ok := a.snapshot(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := export.WritePDF(&buf, roomID, strokes); err != nil {
		telemetry.AddSpanError(r.Context(), err)
		errorResponse(w, http.StatusInternalServerError, "Failed to render PDF")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pdf"`, roomID))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Journal

type EventResponse struct {
	ID        int64           `json:"id"`
	Op        string          `json:"op"`
	StrokeID  string          `json:"stroke_id"`
	Sequence  int64           `json:"sequence"`
	AuthorID  string          `json:"author_id"`
	Stroke    json.RawMessage `json:"stroke"`
	CreatedAt time.Time       `json:"created_at"`
}

func (a *API) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if !a.requireStorage(w) {
		return
	}
	roomID := mux.Vars(r)["id"]

	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			errorResponse(w, http.StatusBadRequest, "Invalid 'after' event ID")
			return
		}
		after = n
	}
	limit, _ := pagination(r, 100, 1000)

	events, err := a.database.ListEvents(roomID, after, limit)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list events")
		return
	}

	response := make([]EventResponse, len(events))
	next := after
	for i, e := range events {
		response[i] = EventResponse{
			ID:        e.ID,
			Op:        e.Op,
			StrokeID:  e.StrokeID,
			Sequence:  e.Sequence,
			AuthorID:  e.AuthorID,
			Stroke:    json.RawMessage(e.Payload),
			CreatedAt: e.CreatedAt,
		}
		next = e.ID
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"room_id":    roomID,
		"events":     response,
		"next_after": next,
	})
}

// Checkpoint handlers

type CreateCheckpointRequest struct {
	RoomID      string `json:"room_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
	IsAuto      bool   `json:"is_auto"`
}

type CheckpointResponse struct {
	ID          int             `json:"id"`
	RoomID      string          `json:"room_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Strokes     json.RawMessage `json:"strokes,omitempty"` // Omit in list view
	ContentHash string          `json:"content_hash"`
	StrokeCount int             `json:"stroke_count"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	IsAuto      bool            `json:"is_auto"`
}

func checkpointResponse(cp *db.Checkpoint, withContent bool) CheckpointResponse {
	resp := CheckpointResponse{
		ID:          cp.ID,
		RoomID:      cp.RoomID,
		Name:        cp.Name,
		Description: cp.Description,
		ContentHash: cp.ContentHash,
		StrokeCount: cp.StrokeCount,
		CreatedBy:   cp.CreatedBy,
		CreatedAt:   cp.CreatedAt,
		IsAuto:      cp.IsAuto,
	}
	if withContent {
		resp.Strokes = json.RawMessage(cp.Content)
	}
	return resp
}

func (a *API) ListCheckpointsHandler(w http.ResponseWriter, r *http.Request) {
	if !a.requireStorage(w) {
		return
	}

	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}
	limit, offset := pagination(r, 50, 100)

	checkpoints, err := a.database.ListCheckpoints(roomID, limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list checkpoints")
		return
	}

	response := make([]CheckpointResponse, len(checkpoints))
	for i := range checkpoints {
		response[i] = checkpointResponse(&checkpoints[i], false)
	}

	total, _ := a.database.GetCheckpointCount(roomID)

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"checkpoints": response,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

func (a *API) CreateCheckpointHandler(w http.ResponseWriter, r *http.Request) {
	if !a.requireStorage(w) {
		return
	}

	var req CreateCheckpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RoomID == "" {
		errorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}
	if a.hub.Lookup(req.RoomID) == nil {
		errorResponse(w, http.StatusNotFound, "Room is not open")
		return
	}

	cp, created, err := a.checkpoints.Create(r.Context(), checkpoint.Request{
		RoomID:      req.RoomID,
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
		IsAuto:      req.IsAuto,
	})
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create checkpoint")
		return
	}

	switch {
	case cp == nil:
		jsonResponse(w, http.StatusOK, map[string]string{"message": "Nothing to checkpoint"})
	case !created:
		// Unchanged since the latest auto checkpoint
		jsonResponse(w, http.StatusOK, checkpointResponse(cp, false))
	default:
		jsonResponse(w, http.StatusCreated, checkpointResponse(cp, false))
	}
}

func checkpointID(r *http.Request) (int, error) {
	return strconv.Atoi(mux.Vars(r)["id"])
}

func (a *API) GetCheckpointHandler(w http.ResponseWriter, r *http.Request) {
	if !a.requireStorage(w) {
		return
	}

	id, err := checkpointID(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid checkpoint ID")
		return
	}

	cp, err := a.database.GetCheckpoint(id)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get checkpoint")
		return
	}
	if cp == nil {
		errorResponse(w, http.StatusNotFound, "Checkpoint not found")
		return
	}

	jsonResponse(w, http.StatusOK, checkpointResponse(cp, true))
}

func (a *API) DeleteCheckpointHandler(w http.ResponseWriter, r *http.Request) {
	if !a.requireStorage(w) {
		return
	}

	id, err := checkpointID(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid checkpoint ID")
		return
	}

	if err := a.database.DeleteCheckpoint(id); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete checkpoint")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Checkpoint deleted"})
}

func (a *API) DiffCheckpointsHandler(w http.ResponseWriter, r *http.Request) {
	if !a.requireStorage(w) {
		return
	}

	fromID, err := strconv.Atoi(r.URL.Query().Get("from"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid 'from' checkpoint ID")
		return
	}

	toID, err := strconv.Atoi(r.URL.Query().Get("to"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid 'to' checkpoint ID")
		return
	}

	from, err := a.database.GetCheckpoint(fromID)
	if err != nil || from == nil {
		errorResponse(w, http.StatusNotFound, "From checkpoint not found")
		return
	}

	to, err := a.database.GetCheckpoint(toID)
	if err != nil || to == nil {
		errorResponse(w, http.StatusNotFound, "To checkpoint not found")
		return
	}

	diff, err := checkpoint.Diff(from, to)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to compare checkpoints")
		return
	}
	if diff == nil {
		diff = []checkpoint.DiffEntry{}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"from": checkpointResponse(from, false),
		"to":   checkpointResponse(to, false),
		"diff": diff,
	})
}
