// Package database persists confirmed person events in SQLite and serves
// the cooldown lookups that survive process restarts.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// Database handles SQLite operations.
type Database struct {
	db *sql.DB
}

// EventRecord is a confirmed person event as stored.
type EventRecord struct {
	ID         string
	CameraID   string
	Timestamp  time.Time
	Confidence float64
	Class      string
	BBoxes     []BBoxRecord
	FrameCount int
	ClipCount  int
	Source     string
}

// BBoxRecord is a bounding box in pixel coordinates.
type BBoxRecord struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

// New opens the database at dbPath, enabling WAL mode for concurrent access
// from the per-camera workers.
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS person_events (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			confidence REAL,
			object_class TEXT,
			bounding_boxes TEXT,
			frame_count INTEGER DEFAULT 0,
			clip_count INTEGER DEFAULT 0,
			source TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_camera_time ON person_events(camera_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_time ON person_events(timestamp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Printf("[Database] migrations completed")
	return nil
}

// SaveEvent inserts a confirmed event.
func (d *Database) SaveEvent(ctx context.Context, event *EventRecord) error {
	bboxJSON, err := json.Marshal(event.BBoxes)
	if err != nil {
		return fmt.Errorf("failed to marshal bounding boxes: %w", err)
	}

	query := `INSERT INTO person_events
		(id, camera_id, timestamp, confidence, object_class, bounding_boxes, frame_count, clip_count, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = d.db.ExecContext(ctx, query, event.ID, event.CameraID, event.Timestamp,
		event.Confidence, event.Class, string(bboxJSON), event.FrameCount, event.ClipCount, event.Source)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// LastEventTime returns when the camera last fired an event. The second
// return is false when the camera has no events yet.
func (d *Database) LastEventTime(ctx context.Context, cameraID string) (time.Time, bool, error) {
	query := `SELECT timestamp FROM person_events WHERE camera_id = ? ORDER BY timestamp DESC LIMIT 1`

	var ts time.Time
	err := d.db.QueryRowContext(ctx, query, cameraID).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query last event: %w", err)
	}
	return ts, true, nil
}

// ListEvents returns the most recent events for a camera, newest first.
// cameraID may be empty to list across all cameras.
func (d *Database) ListEvents(ctx context.Context, cameraID string, limit int) ([]*EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, camera_id, timestamp, confidence, object_class, bounding_boxes, frame_count, clip_count, source
		FROM person_events`
	args := []any{}
	if cameraID != "" {
		query += ` WHERE camera_id = ?`
		args = append(args, cameraID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		var e EventRecord
		var bboxJSON string
		if err := rows.Scan(&e.ID, &e.CameraID, &e.Timestamp, &e.Confidence,
			&e.Class, &bboxJSON, &e.FrameCount, &e.ClipCount, &e.Source); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if bboxJSON != "" {
			if err := json.Unmarshal([]byte(bboxJSON), &e.BBoxes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal bounding boxes: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// PruneEvents deletes events older than the retention window and returns how
// many were removed.
func (d *Database) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM person_events WHERE timestamp < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return res.RowsAffected()
}
