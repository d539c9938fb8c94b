// Package stream acquires decoded frames from camera video sources and
// keeps a camera alive across source failures: the bandwidth-friendly
// restream endpoint is preferred, with a timed fallback to the camera's
// direct RTSP feed when the restream keeps failing.
package stream

import (
	"context"
	"time"

	"vigil/internal/frame"
)

// SourceKind labels which endpoint a source reads from.
type SourceKind string

const (
	SourceRestream SourceKind = "restream"
	SourceDirect   SourceKind = "direct"
)

// Status is the camera's connection state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusConnected    Status = "connected"
	StatusRetrying     Status = "retrying"
	StatusDown         Status = "down"
)

// FrameReader delivers decoded frames from an open source.
type FrameReader interface {
	// Read blocks until a frame arrives, the source fails, or ctx is done.
	Read(ctx context.Context) (*frame.Frame, error)
	Close() error
}

// Source is an openable video endpoint.
type Source interface {
	Kind() SourceKind
	URL() string
	Open(ctx context.Context) (FrameReader, error)
}

// Health is a snapshot of a camera's stream state.
type Health struct {
	CameraID     string     `json:"camera_id"`
	Status       Status     `json:"status"`
	ActiveSource SourceKind `json:"active_source,omitempty"`
	FPS          float64    `json:"fps"`
	FailRate     float64    `json:"fail_rate"`
	Reconnects   int        `json:"reconnects"`
	LastFrame    time.Time  `json:"last_frame,omitempty"`
}
