// Package buffer keeps the per-camera evidence buffers: a small ring of
// annotated detection frames for event snapshots, and a rolling pre-event
// clip buffer trimmed by age.
package buffer

import (
	"sync"
	"time"

	"vigil/internal/detector"
	"vigil/internal/frame"
)

// Config holds the buffer tunables.
type Config struct {
	// FrameBufferSize caps the detection frame ring. The oldest entry is
	// dropped on overflow.
	FrameBufferSize int `yaml:"frame_buffer_size"`

	// FrameInterval admits every Nth non-detection frame into the ring so
	// quiet periods still leave some context around an event.
	FrameInterval int `yaml:"frame_interval"`

	// RecordFPS rate-limits clip buffer admission.
	RecordFPS int `yaml:"record_fps"`

	// Prebuffer and Postbuffer bound the clip buffer's age span. Entries
	// older than the sum are evicted on insert.
	Prebuffer  time.Duration `yaml:"prebuffer"`
	Postbuffer time.Duration `yaml:"postbuffer"`
}

// DefaultConfig returns the production buffer defaults.
func DefaultConfig() Config {
	return Config{
		FrameBufferSize: 10,
		FrameInterval:   5,
		RecordFPS:       10,
		Prebuffer:       5 * time.Second,
		Postbuffer:      10 * time.Second,
	}
}

// Entry is one buffered frame, cloned at admission so later pipeline reuse
// of the source image cannot corrupt stored evidence.
type Entry struct {
	Frame     *frame.Frame
	Detection *detector.Detection
	Timestamp time.Time
}

// Manager owns both buffers for one camera. Safe for concurrent use; the
// reader goroutine feeds the clip buffer while the inference loop feeds the
// frame ring.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	frames     []Entry
	clip       []Entry
	frameSkips int
	lastClip   time.Time

	now func() time.Time
}

// New creates a buffer manager. Zero-value config fields fall back to
// defaults.
func New(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.FrameBufferSize <= 0 {
		cfg.FrameBufferSize = def.FrameBufferSize
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if cfg.RecordFPS <= 0 {
		cfg.RecordFPS = def.RecordFPS
	}
	if cfg.Prebuffer <= 0 {
		cfg.Prebuffer = def.Prebuffer
	}
	if cfg.Postbuffer <= 0 {
		cfg.Postbuffer = def.Postbuffer
	}
	return &Manager{cfg: cfg, now: time.Now}
}

// AddFrame offers a frame to the detection ring. Frames carrying a detection
// are always admitted; others only every FrameInterval-th offer.
func (m *Manager) AddFrame(f *frame.Frame, det *detector.Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if det == nil {
		m.frameSkips++
		if m.frameSkips < m.cfg.FrameInterval {
			return
		}
		m.frameSkips = 0
	} else {
		m.frameSkips = 0
	}

	m.frames = append(m.frames, Entry{
		Frame:     f.Clone(),
		Detection: det,
		Timestamp: m.now(),
	})
	if len(m.frames) > m.cfg.FrameBufferSize {
		m.frames = m.frames[1:]
	}
}

// AddClipFrame offers a frame to the rolling clip buffer. Admission is
// rate-limited to RecordFPS and entries older than Prebuffer+Postbuffer are
// evicted on every insert, so the buffer self-bounds without a timer.
func (m *Manager) AddClipFrame(f *frame.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	minGap := time.Second / time.Duration(m.cfg.RecordFPS)
	if !m.lastClip.IsZero() && now.Sub(m.lastClip) < minGap {
		return
	}
	m.lastClip = now

	m.clip = append(m.clip, Entry{Frame: f.Clone(), Timestamp: now})

	cutoff := now.Add(-(m.cfg.Prebuffer + m.cfg.Postbuffer))
	i := 0
	for i < len(m.clip) && m.clip[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.clip = m.clip[i:]
	}
}

// SnapshotFrames returns a copy of the detection ring, oldest first.
func (m *Manager) SnapshotFrames() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.frames))
	copy(out, m.frames)
	return out
}

// SnapshotClip returns a copy of the clip buffer, oldest first.
func (m *Manager) SnapshotClip() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.clip))
	copy(out, m.clip)
	return out
}

// Reset drops both buffers, e.g. after a stream reconnect.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = nil
	m.clip = nil
	m.frameSkips = 0
	m.lastClip = time.Time{}
}
