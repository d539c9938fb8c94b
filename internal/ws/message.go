package ws

import (
	"time"

	"vigil/internal/stream"
)

// HealthMessage is a camera health broadcast.
type HealthMessage struct {
	Type         string            `json:"type"` // "health"
	CameraID     string            `json:"camera_id"`
	Timestamp    time.Time         `json:"timestamp"`
	Status       stream.Status     `json:"status"`
	ActiveSource stream.SourceKind `json:"active_source,omitempty"`
	FPS          float64           `json:"fps"`
	Reconnects   int               `json:"reconnects"`
	InferenceFPS float64           `json:"inference_fps"`
	DetectorOK   bool              `json:"detector_ok"`
}

// NewHealthMessage builds a health broadcast from a stream snapshot.
func NewHealthMessage(h stream.Health, inferenceFPS float64, detectorOK bool) *HealthMessage {
	return &HealthMessage{
		Type:         "health",
		CameraID:     h.CameraID,
		Timestamp:    time.Now(),
		Status:       h.Status,
		ActiveSource: h.ActiveSource,
		FPS:          h.FPS,
		Reconnects:   h.Reconnects,
		InferenceFPS: inferenceFPS,
		DetectorOK:   detectorOK,
	}
}

// EventMessage is a confirmed person event broadcast. Metadata only; the
// buffered frames stay on the server.
type EventMessage struct {
	Type       string    `json:"type"` // "event"
	EventID    string    `json:"event_id"`
	CameraID   string    `json:"camera_id"`
	Timestamp  time.Time `json:"timestamp"`
	Class      string    `json:"class"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2] in pixels
	FrameCount int       `json:"frame_count"`
	ClipCount  int       `json:"clip_count"`
	Source     string    `json:"source,omitempty"`
}
