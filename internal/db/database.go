package db

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Database struct {
	db *sql.DB
}

type Room struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// One applied canvas operation. Payload is the stroke as JSON.
type StrokeEvent struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"room_id"`
	Op        string    `json:"op"`
	StrokeID  string    `json:"stroke_id"`
	Sequence  int64     `json:"sequence"`
	AuthorID  string    `json:"author_id"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// A stored copy of a canvas's active strokes. Content is the JSON array
// of strokes in sequence order.
type Checkpoint struct {
	ID          int       `json:"id"`
	RoomID      string    `json:"room_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	StrokeCount int       `json:"stroke_count"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	IsAuto      bool      `json:"is_auto"`
}

func New(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// The journal writer and the checkpoint service write concurrently;
	// one connection keeps sqlite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS stroke_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		op TEXT NOT NULL,
		stroke_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		author_id TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_stroke_events_room_id ON stroke_events(room_id, id);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		stroke_count INTEGER NOT NULL DEFAULT 0,
		created_by TEXT DEFAULT '',
		is_auto BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_room_id ON checkpoints(room_id);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_created_at ON checkpoints(room_id, created_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Room operations

// Satisfied by *sql.DB and *sql.Tx
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func createRoom(ex execer, id, name string) error {
	_, err := ex.Exec(
		"INSERT OR IGNORE INTO rooms (id, name) VALUES (?, ?)",
		id, name,
	)
	return err
}

func touchRoom(ex execer, id string) error {
	_, err := ex.Exec(
		"UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		id,
	)
	return err
}

func (d *Database) CreateRoom(id, name string) error {
	return createRoom(d.db, id, name)
}

func (d *Database) GetRoom(id string) (*Room, error) {
	row := d.db.QueryRow(
		"SELECT id, name, created_at, updated_at FROM rooms WHERE id = ?",
		id,
	)

	var room Room
	err := row.Scan(&room.ID, &room.Name, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (d *Database) ListRooms(limit, offset int) ([]Room, error) {
	rows, err := d.db.Query(
		"SELECT id, name, created_at, updated_at FROM rooms ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Name, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// Removes the room with its journal and checkpoints.
func (d *Database) DeleteRoom(id string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM stroke_events WHERE room_id = ?",
		"DELETE FROM checkpoints WHERE room_id = ?",
		"DELETE FROM rooms WHERE id = ?",
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Journal operations

func (d *Database) AppendEvent(e StrokeEvent) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := createRoom(tx, e.RoomID, ""); err != nil {
		return 0, err
	}

	result, err := tx.Exec(`
		INSERT INTO stroke_events (room_id, op, stroke_id, sequence, author_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.RoomID, e.Op, e.StrokeID, e.Sequence, e.AuthorID, e.Payload, e.CreatedAt)
	if err != nil {
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	if err := touchRoom(tx, e.RoomID); err != nil {
		return 0, err
	}

	return id, tx.Commit()
}

// Events of a room with id > afterID, oldest first
func (d *Database) ListEvents(roomID string, afterID int64, limit int) ([]StrokeEvent, error) {
	rows, err := d.db.Query(`
		SELECT id, room_id, op, stroke_id, sequence, author_id, payload, created_at
		FROM stroke_events
		WHERE room_id = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`, roomID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StrokeEvent
	for rows.Next() {
		var e StrokeEvent
		if err := rows.Scan(&e.ID, &e.RoomID, &e.Op, &e.StrokeID, &e.Sequence, &e.AuthorID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (d *Database) GetEventCount(roomID string) (int, error) {
	var count int
	err := d.db.QueryRow(
		"SELECT COUNT(*) FROM stroke_events WHERE room_id = ?",
		roomID,
	).Scan(&count)
	return count, err
}

// Trims a room's journal to its most recent keepCount events.
func (d *Database) DeleteOldEvents(roomID string, keepCount int) (int64, error) {
	result, err := d.db.Exec(`
		DELETE FROM stroke_events
		WHERE room_id = ? AND id NOT IN (
			SELECT id FROM stroke_events
			WHERE room_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, roomID, roomID, keepCount)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Checkpoint operations

const checkpointColumns = `id, room_id, name, description, content, content_hash, stroke_count, created_by, is_auto, created_at`

func scanCheckpoint(row interface{ Scan(...any) error }) (*Checkpoint, error) {
	var c Checkpoint
	err := row.Scan(&c.ID, &c.RoomID, &c.Name, &c.Description, &c.Content, &c.ContentHash, &c.StrokeCount, &c.CreatedBy, &c.IsAuto, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Stores c and records its room, so a checkpointed room is listed even
// when it has no journal.
func (d *Database) CreateCheckpoint(c Checkpoint) (*Checkpoint, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := createRoom(tx, c.RoomID, ""); err != nil {
		return nil, err
	}

	result, err := tx.Exec(`
		INSERT INTO checkpoints (room_id, name, description, content, content_hash, stroke_count, created_by, is_auto)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.RoomID, c.Name, c.Description, c.Content, c.ContentHash, c.StrokeCount, c.CreatedBy, c.IsAuto)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := touchRoom(tx, c.RoomID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return d.GetCheckpoint(int(id))
}

func (d *Database) GetCheckpoint(id int) (*Checkpoint, error) {
	row := d.db.QueryRow(`SELECT `+checkpointColumns+` FROM checkpoints WHERE id = ?`, id)
	c, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// Checkpoints of a room, newest first
func (d *Database) ListCheckpoints(roomID string, limit, offset int) ([]Checkpoint, error) {
	rows, err := d.db.Query(`
		SELECT `+checkpointColumns+`
		FROM checkpoints
		WHERE room_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, *c)
	}
	return checkpoints, rows.Err()
}

func (d *Database) GetCheckpointCount(roomID string) (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM checkpoints WHERE room_id = ?", roomID).Scan(&count)
	return count, err
}

func (d *Database) GetLatestCheckpoint(roomID string) (*Checkpoint, error) {
	row := d.db.QueryRow(`
		SELECT `+checkpointColumns+`
		FROM checkpoints
		WHERE room_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, roomID)
	c, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (d *Database) DeleteCheckpoint(id int) error {
	_, err := d.db.Exec("DELETE FROM checkpoints WHERE id = ?", id)
	return err
}

// Removes old auto checkpoints, keeping the most recent keepCount.
// Manual checkpoints are never pruned.
func (d *Database) DeleteOldAutoCheckpoints(roomID string, keepCount int) (int64, error) {
	result, err := d.db.Exec(`
		DELETE FROM checkpoints
		WHERE room_id = ? AND is_auto = TRUE AND id NOT IN (
			SELECT id FROM checkpoints
			WHERE room_id = ? AND is_auto = TRUE
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
	`, roomID, roomID, keepCount)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := []struct {
		key   string
		query string
	}{
		{"room_count", "SELECT COUNT(*) FROM rooms"},
		{"event_count", "SELECT COUNT(*) FROM stroke_events"},
		{"checkpoint_count", "SELECT COUNT(*) FROM checkpoints"},
	}
	for _, c := range counts {
		var n int
		if err := d.db.QueryRow(c.query).Scan(&n); err != nil {
			return nil, err
		}
		stats[c.key] = n
	}

	return stats, nil
}
