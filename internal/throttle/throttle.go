// Package throttle paces the inference loop: a target frame rate that
// adapts to system CPU pressure between a configured floor and ceiling.
package throttle

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
)

// Config holds the throttle tunables.
type Config struct {
	// TargetFPS is the starting inference rate.
	TargetFPS float64 `yaml:"target_fps"`

	// MinFPS and MaxFPS bound the adaptive range.
	MinFPS float64 `yaml:"min_fps"`
	MaxFPS float64 `yaml:"max_fps"`

	// HighWaterPct backs the rate off when system CPU exceeds it;
	// LowWaterPct lets the rate recover below it.
	HighWaterPct float64 `yaml:"high_water_pct"`
	LowWaterPct  float64 `yaml:"low_water_pct"`

	// StepFPS is how much one adjustment moves the rate.
	StepFPS float64 `yaml:"step_fps"`

	// SampleInterval is how often CPU load is consulted.
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// DefaultConfig returns the production throttle defaults.
func DefaultConfig() Config {
	return Config{
		TargetFPS:      5,
		MinFPS:         2,
		MaxFPS:         10,
		HighWaterPct:   80,
		LowWaterPct:    40,
		StepFPS:        1,
		SampleInterval: 5 * time.Second,
	}
}

// CPUSampler reports current system CPU utilization in percent.
type CPUSampler interface {
	CPUPercent() (float64, error)
}

// Throttle is the per-camera pacing state. Safe for concurrent use.
type Throttle struct {
	cfg     Config
	sampler CPUSampler

	mu         sync.Mutex
	targetFPS  float64
	lastSample time.Time

	now func() time.Time
}

// New creates a throttle. sampler may be nil to pin the rate at TargetFPS.
func New(cfg Config, sampler CPUSampler) *Throttle {
	def := DefaultConfig()
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = def.TargetFPS
	}
	if cfg.MinFPS <= 0 {
		cfg.MinFPS = def.MinFPS
	}
	if cfg.MaxFPS <= 0 {
		cfg.MaxFPS = def.MaxFPS
	}
	if cfg.MaxFPS < cfg.MinFPS {
		cfg.MaxFPS = cfg.MinFPS
	}
	if cfg.HighWaterPct <= 0 {
		cfg.HighWaterPct = def.HighWaterPct
	}
	if cfg.LowWaterPct <= 0 {
		cfg.LowWaterPct = def.LowWaterPct
	}
	if cfg.StepFPS <= 0 {
		cfg.StepFPS = def.StepFPS
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	return &Throttle{
		cfg:       cfg,
		sampler:   sampler,
		targetFPS: clamp(cfg.TargetFPS, cfg.MinFPS, cfg.MaxFPS),
		now:       time.Now,
	}
}

// TargetFPS returns the current adaptive rate.
func (t *Throttle) TargetFPS() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.targetFPS
}

// Delay returns how long the inference loop should sleep between ticks,
// adjusting the rate from CPU load at most once per SampleInterval.
func (t *Throttle) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.maybeAdjust()
	return time.Duration(float64(time.Second) / t.targetFPS)
}

func (t *Throttle) maybeAdjust() {
	if t.sampler == nil {
		return
	}
	now := t.now()
	if now.Sub(t.lastSample) < t.cfg.SampleInterval {
		return
	}
	t.lastSample = now

	pct, err := t.sampler.CPUPercent()
	if err != nil {
		log.Printf("[Throttle] cpu sample failed: %v", err)
		return
	}

	prev := t.targetFPS
	switch {
	case pct > t.cfg.HighWaterPct:
		t.targetFPS = clamp(t.targetFPS-t.cfg.StepFPS, t.cfg.MinFPS, t.cfg.MaxFPS)
	case pct < t.cfg.LowWaterPct:
		t.targetFPS = clamp(t.targetFPS+t.cfg.StepFPS, t.cfg.MinFPS, t.cfg.MaxFPS)
	}
	if t.targetFPS != prev {
		log.Printf("[Throttle] cpu %.0f%%: inference rate %.1f -> %.1f fps", pct, prev, t.targetFPS)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SystemSampler reads system-wide CPU utilization. The first call primes the
// counters and may report zero. The underlying reading is a delta since the
// previous call through package-global state, so a process must funnel all
// workers through one CachedSampler rather than giving each its own.
type SystemSampler struct{}

// CPUPercent implements CPUSampler using non-blocking deltas since the
// previous call.
func (SystemSampler) CPUPercent() (float64, error) {
	pcts, err := cpu.PercentWithContext(context.Background(), 0, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, nil
	}
	return pcts[0], nil
}

var _ CPUSampler = SystemSampler{}

// CachedSampler shares one CPU reading across every worker's throttle: the
// inner sampler is consulted at most once per interval and all other callers
// get the cached snapshot. Safe for concurrent use.
type CachedSampler struct {
	inner    CPUSampler
	interval time.Duration

	mu        sync.Mutex
	pct       float64
	err       error
	sampledAt time.Time

	now func() time.Time
}

// NewCachedSampler wraps inner with a shared snapshot refreshed at most once
// per interval. Zero interval means 5s.
func NewCachedSampler(inner CPUSampler, interval time.Duration) *CachedSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &CachedSampler{inner: inner, interval: interval, now: time.Now}
}

// CPUPercent implements CPUSampler.
func (s *CachedSampler) CPUPercent() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.sampledAt.IsZero() || now.Sub(s.sampledAt) >= s.interval {
		s.pct, s.err = s.inner.CPUPercent()
		s.sampledAt = now
	}
	return s.pct, s.err
}

var _ CPUSampler = (*CachedSampler)(nil)
