package worker

import (
	"sync"

	"vigil/internal/frame"
)

// Cell is a single-slot frame mailbox between the stream reader and the
// inference loop. The reader overwrites, the inference loop drains: when
// inference falls behind the camera, intermediate frames are dropped and
// the loop always works on the freshest image.
type Cell struct {
	mu      sync.Mutex
	f       *frame.Frame
	dropped uint64
}

// Put stores a frame, replacing any undelivered one.
func (c *Cell) Put(f *frame.Frame) {
	c.mu.Lock()
	if c.f != nil {
		c.dropped++
	}
	c.f = f
	c.mu.Unlock()
}

// Take removes and returns the stored frame, if any.
func (c *Cell) Take() (*frame.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil, false
	}
	f := c.f
	c.f = nil
	return f, true
}

// Dropped returns how many frames were overwritten before delivery.
func (c *Cell) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
