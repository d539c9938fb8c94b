// Package detector defines the boundary to the external object-detection
// service and the detection types the filter pipeline consumes.
package detector

import "context"

// PersonClassID is the detector's class id for a person.
const PersonClassID = 0

// BBox is a detection bounding box in pixel space.
type BBox struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

// Width returns the box width in pixels.
func (b BBox) Width() float32 { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BBox) Height() float32 { return b.Y2 - b.Y1 }

// Center returns the box center in pixel coordinates.
func (b BBox) Center() (float32, float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// AspectRatio returns width/height, or 0 for a degenerate box.
func (b BBox) AspectRatio() float32 {
	h := b.Height()
	if h <= 0 {
		return 0
	}
	return b.Width() / h
}

// Detection is a single object detection produced by the external model.
type Detection struct {
	Class      string  `json:"class"`
	ClassID    int     `json:"class_id"`
	Confidence float32 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// Client is the external detector function: frame in, detections out.
// Implementations must be safe to call from a single worker goroutine and
// must respect the context deadline; a stalled model call is the caller's
// problem only up to that deadline.
type Client interface {
	// Infer runs detection on a JPEG-encoded frame. Detections below
	// confThreshold are not returned.
	Infer(ctx context.Context, jpegData []byte, confThreshold float32) ([]Detection, error)

	// IsHealthy reports whether the detector service is reachable.
	IsHealthy() bool

	// Close releases client resources.
	Close() error
}
