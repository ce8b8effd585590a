package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/manpreetbhatti/scribble/internal/db"
	"github.com/manpreetbhatti/scribble/internal/history"
	"github.com/manpreetbhatti/scribble/internal/telemetry"
)

// Live canvases to checkpoint. Snapshot must be serialized with the
// canvas's own mutations.
type Source interface {
	RoomIDs() []string
	Snapshot(ctx context.Context, roomID string) ([]history.Stroke, error)
}

// Copies a stored checkpoint somewhere durable
type Archiver interface {
	Archive(ctx context.Context, cp *db.Checkpoint) error
}

type Config struct {
	Interval    time.Duration
	KeepAuto    int
	KeepJournal int
}

func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		KeepAuto:    20,
		KeepJournal: 5000,
	}
}

type Request struct {
	RoomID      string
	Name        string
	Description string
	CreatedBy   string
	IsAuto      bool
}

type Service struct {
	database *db.Database
	source   Source
	archiver Archiver
	config   Config
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(database *db.Database, source Source, config Config) *Service {
	return &Service{
		database: database,
		source:   source,
		config:   config,
		stop:     make(chan struct{}),
	}
}

func (s *Service) SetArchiver(a Archiver) {
	s.archiver = a
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("📸 Checkpoint service started (interval: %v, keeping %d auto checkpoints)",
		s.config.Interval, s.config.KeepAuto)
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		log.Println("📸 Checkpoint service stopped")
	})
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.checkpointAllRooms()
		}
	}
}

func (s *Service) checkpointAllRooms() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Interval)
	defer cancel()

	created := 0
	for _, roomID := range s.source.RoomIDs() {
		_, isNew, err := s.Create(ctx, Request{RoomID: roomID, IsAuto: true})
		if err != nil {
			log.Printf("Checkpoint: failed for room %s: %v", roomID, err)
			continue
		}
		if isNew {
			created++
		}

		if s.config.KeepJournal > 0 {
			if _, err := s.database.DeleteOldEvents(roomID, s.config.KeepJournal); err != nil {
				log.Printf("Checkpoint: failed to trim journal of room %s: %v", roomID, err)
			}
		}
	}

	if created > 0 {
		log.Printf("📸 Checkpointed %d rooms", created)
	}
}

// Create stores the room's current strokes. An auto request whose content
// matches the latest checkpoint returns that checkpoint with false.
func (s *Service) Create(ctx context.Context, req Request) (*db.Checkpoint, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "Checkpoint.Create",
		attribute.String("room.id", req.RoomID),
		attribute.Bool("checkpoint.auto", req.IsAuto),
	)
	defer span.End()

	strokes, err := s.source.Snapshot(ctx, req.RoomID)
	if err != nil {
		telemetry.AddSpanError(ctx, err)
		return nil, false, err
	}

	content, hash, err := Encode(strokes)
	if err != nil {
		return nil, false, err
	}

	latest, err := s.database.GetLatestCheckpoint(req.RoomID)
	if err != nil {
		telemetry.AddSpanError(ctx, err)
		return nil, false, err
	}
	if req.IsAuto {
		if latest != nil && latest.ContentHash == hash {
			return latest, false, nil
		}
		if latest == nil && len(strokes) == 0 {
			return nil, false, nil
		}
	}

	if req.Name == "" {
		if req.IsAuto {
			req.Name = fmt.Sprintf("Auto-save %s", time.Now().Format("Jan 2, 3:04 PM"))
		} else {
			req.Name = fmt.Sprintf("Checkpoint %s", time.Now().Format("Jan 2, 3:04 PM"))
		}
	}

	cp, err := s.database.CreateCheckpoint(db.Checkpoint{
		RoomID:      req.RoomID,
		Name:        req.Name,
		Description: req.Description,
		Content:     content,
		ContentHash: hash,
		StrokeCount: len(strokes),
		CreatedBy:   req.CreatedBy,
		IsAuto:      req.IsAuto,
	})
	if err != nil {
		telemetry.AddSpanError(ctx, err)
		return nil, false, err
	}

	if req.IsAuto && s.config.KeepAuto > 0 {
		if _, err := s.database.DeleteOldAutoCheckpoints(req.RoomID, s.config.KeepAuto); err != nil {
			log.Printf("Failed to clean up old auto checkpoints: %v", err)
		}
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, cp); err != nil {
			telemetry.AddSpanError(ctx, err)
			log.Printf("⚠️ Failed to archive checkpoint %d of room %s: %v", cp.ID, cp.RoomID, err)
		}
	}

	return cp, true, nil
}

// Encode serializes strokes for storage and returns the content hash.
func Encode(strokes []history.Stroke) (string, string, error) {
	if strokes == nil {
		strokes = []history.Stroke{}
	}
	data, err := json.Marshal(strokes)
	if err != nil {
		return "", "", err
	}
	return string(data), hashContent(data), nil
}

func Decode(content string) ([]history.Stroke, error) {
	var strokes []history.Stroke
	if err := json.Unmarshal([]byte(content), &strokes); err != nil {
		return nil, fmt.Errorf("invalid checkpoint content: %w", err)
	}
	return strokes, nil
}

func hashContent(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:8])
}
