package stream

import (
	"context"
	"log"
	"sync"
	"time"

	"vigil/internal/frame"
)

// ManagerConfig holds the resilience tunables.
type ManagerConfig struct {
	// ReadTimeout is how long a single frame read may take before the
	// source is considered stalled.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// MaxReadFailures is how many consecutive failed reads close the
	// current source.
	MaxReadFailures int `yaml:"max_read_failures"`

	// ReconnectDelay is the pause between reconnect attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// MaxReconnectAttempts marks the camera down after this many failed
	// attempts in a row. Down is advisory: the manager keeps retrying at
	// DownRetryDelay.
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	DownRetryDelay       time.Duration `yaml:"down_retry_delay"`

	// RestreamFailLimit is how many consecutive restream connection
	// failures switch the camera to its direct feed; DirectHold is how
	// long the direct feed is then preferred before the restream is
	// tried again.
	RestreamFailLimit int           `yaml:"restream_fail_limit"`
	DirectHold        time.Duration `yaml:"direct_hold"`

	// MaxFrameEdge caps the long edge of decoded frames before they enter
	// the pipeline.
	MaxFrameEdge int `yaml:"max_frame_edge"`

	// SummaryInterval is how often the manager logs a health summary.
	SummaryInterval time.Duration `yaml:"summary_interval"`
}

// DefaultManagerConfig returns the production resilience defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReadTimeout:          10 * time.Second,
		MaxReadFailures:      3,
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 10,
		DownRetryDelay:       30 * time.Second,
		RestreamFailLimit:    2,
		DirectHold:           5 * time.Minute,
		MaxFrameEdge:         1280,
		SummaryInterval:      30 * time.Second,
	}
}

// Manager keeps one camera's frame flow alive. It prefers the restream
// source, falls back to the direct source after repeated restream failures
// and returns to the restream once the hold expires.
type Manager struct {
	cameraID string
	cfg      ManagerConfig
	restream Source
	direct   Source
	onFrame  func(*frame.Frame)

	mu            sync.Mutex
	status        Status
	activeSource  SourceKind
	restreamFails int
	directUntil   time.Time
	reconnects    int
	lastFrame     time.Time
	frameCount    int
	failCount     int
	windowStart   time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewManager creates a resilience manager. restream may be nil for cameras
// exposed only directly; direct may be nil when no fallback exists. onFrame
// receives every decoded, downscaled frame and must not block.
func NewManager(cameraID string, cfg ManagerConfig, restream, direct Source, onFrame func(*frame.Frame)) *Manager {
	def := DefaultManagerConfig()
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.MaxReadFailures <= 0 {
		cfg.MaxReadFailures = def.MaxReadFailures
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.DownRetryDelay <= 0 {
		cfg.DownRetryDelay = def.DownRetryDelay
	}
	if cfg.RestreamFailLimit <= 0 {
		cfg.RestreamFailLimit = def.RestreamFailLimit
	}
	if cfg.DirectHold <= 0 {
		cfg.DirectHold = def.DirectHold
	}
	if cfg.MaxFrameEdge <= 0 {
		cfg.MaxFrameEdge = def.MaxFrameEdge
	}
	if cfg.SummaryInterval <= 0 {
		cfg.SummaryInterval = def.SummaryInterval
	}
	return &Manager{
		cameraID: cameraID,
		cfg:      cfg,
		restream: restream,
		direct:   direct,
		onFrame:  onFrame,
		status:   StatusInitializing,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run drives the connect/read/reconnect loop until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	summary := time.NewTicker(m.cfg.SummaryInterval)
	defer summary.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-summary.C:
				m.logSummary()
			}
		}
	}()

	attempts := 0
	for ctx.Err() == nil {
		src := m.pickSource()
		if src == nil {
			log.Printf("[Stream] %s: no source configured", m.cameraID)
			return
		}

		reader, err := src.Open(ctx)
		if err != nil {
			m.recordConnectFailure(src, err)
			attempts++
			if !m.backoff(ctx, &attempts) {
				return
			}
			continue
		}

		m.setConnected(src)
		err = m.readLoop(ctx, reader)
		reader.Close()
		if ctx.Err() != nil {
			return
		}

		m.recordConnectFailure(src, err)
		attempts++
		if !m.backoff(ctx, &attempts) {
			return
		}
	}
}

// readLoop consumes frames until the source stalls or fails repeatedly.
func (m *Manager) readLoop(ctx context.Context, reader FrameReader) error {
	failures := 0
	for {
		rctx, cancel := context.WithTimeout(ctx, m.cfg.ReadTimeout)
		f, err := reader.Read(rctx)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			failures++
			m.noteReadFailure()
			log.Printf("[Stream] %s: read failed (%d/%d): %v",
				m.cameraID, failures, m.cfg.MaxReadFailures, err)
			if failures >= m.cfg.MaxReadFailures {
				return err
			}
			continue
		}

		failures = 0
		f.Image = frame.Downscale(f.Image, m.cfg.MaxFrameEdge)
		m.noteFrame()
		m.onFrame(f)
	}
}

// pickSource returns the source to try next under the fallback policy.
func (m *Manager) pickSource() Source {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.restream == nil {
		return m.direct
	}
	if m.direct != nil && m.now().Before(m.directUntil) {
		return m.direct
	}
	return m.restream
}

// recordConnectFailure counts failures per source kind. Hitting the
// restream limit opens the direct-feed hold window.
func (m *Manager) recordConnectFailure(src Source, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status = StatusRetrying
	if err != nil {
		log.Printf("[Stream] %s: %s source failed: %v", m.cameraID, src.Kind(), err)
	}

	if src.Kind() != SourceRestream {
		return
	}
	m.restreamFails++
	if m.restreamFails >= m.cfg.RestreamFailLimit && m.direct != nil {
		m.directUntil = m.now().Add(m.cfg.DirectHold)
		m.restreamFails = 0
		log.Printf("[Stream] %s: restream failing, using direct feed for %s",
			m.cameraID, m.cfg.DirectHold)
	}
}

func (m *Manager) setConnected(src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusInitializing {
		m.reconnects++
	}
	m.status = StatusConnected
	m.activeSource = src.Kind()
	log.Printf("[Stream] %s: connected via %s (%s)", m.cameraID, src.Kind(), src.URL())
}

// backoff sleeps between attempts and flips the camera to down past the
// attempt limit. Returns false when ctx is canceled.
func (m *Manager) backoff(ctx context.Context, attempts *int) bool {
	delay := m.cfg.ReconnectDelay
	if *attempts >= m.cfg.MaxReconnectAttempts {
		m.mu.Lock()
		if m.status != StatusDown {
			log.Printf("[Stream] %s: marked down after %d attempts, still retrying",
				m.cameraID, *attempts)
		}
		m.status = StatusDown
		m.mu.Unlock()
		delay = m.cfg.DownRetryDelay
	}
	return m.sleep(ctx, delay)
}

func (m *Manager) noteFrame() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.lastFrame = now
	m.rollWindow(now)
	m.frameCount++

	// The restream has only recovered once it actually delivers frames. A
	// connection that accepts and then stalls must keep counting toward the
	// direct-feed fallback.
	if m.activeSource == SourceRestream {
		m.restreamFails = 0
	}
}

func (m *Manager) noteReadFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollWindow(m.now())
	m.failCount++
}

// rollWindow restarts the rolling stats window once a minute.
func (m *Manager) rollWindow(now time.Time) {
	if m.windowStart.IsZero() || now.Sub(m.windowStart) > time.Minute {
		m.windowStart = now
		m.frameCount = 0
		m.failCount = 0
	}
}

// Health returns a snapshot of the camera's stream state.
func (m *Manager) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := Health{
		CameraID:     m.cameraID,
		Status:       m.status,
		ActiveSource: m.activeSource,
		Reconnects:   m.reconnects,
		LastFrame:    m.lastFrame,
	}
	if !m.windowStart.IsZero() {
		elapsed := m.now().Sub(m.windowStart).Seconds()
		if elapsed > 0 {
			h.FPS = float64(m.frameCount) / elapsed
		}
	}
	if total := m.frameCount + m.failCount; total > 0 {
		h.FailRate = float64(m.failCount) / float64(total)
	}
	return h
}

func (m *Manager) logSummary() {
	h := m.Health()
	log.Printf("[Stream] %s: status=%s source=%s fps=%.1f fail_rate=%.2f reconnects=%d",
		h.CameraID, h.Status, h.ActiveSource, h.FPS, h.FailRate, h.Reconnects)
}
