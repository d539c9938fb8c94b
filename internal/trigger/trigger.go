// Package trigger holds the per-camera event state machine that turns
// sustained person presence into at most one confirmed event per cooldown
// window.
package trigger

import (
	"context"
	"log"
	"time"
)

// Config holds the trigger tunables.
type Config struct {
	// MinEventDuration is how long presence must persist, wall clock, before
	// an event is confirmed.
	MinEventDuration time.Duration `yaml:"min_event_duration"`

	// Cooldown suppresses further confirmations after an event fires.
	Cooldown time.Duration `yaml:"cooldown"`

	// MaxGapTicks is how many consecutive absent ticks a pending event
	// survives before it is abandoned.
	MaxGapTicks int `yaml:"max_gap_ticks"`
}

// DefaultConfig returns the production trigger defaults.
func DefaultConfig() Config {
	return Config{
		MinEventDuration: 1 * time.Second,
		Cooldown:         6 * time.Second,
		MaxGapTicks:      1,
	}
}

// CooldownStore answers when a camera last fired an event. The database
// implements this so cooldowns survive process restarts.
type CooldownStore interface {
	LastEventTime(ctx context.Context, cameraID string) (time.Time, bool, error)
}

type state int

const (
	stateIdle state = iota
	statePending
)

// Machine is the per-camera trigger. Owned by a single worker; not safe for
// concurrent use.
type Machine struct {
	cfg      Config
	cameraID string
	store    CooldownStore

	state     state
	startTime time.Time
	gapTicks  int

	lastEvent    time.Time
	storeChecked bool

	now func() time.Time
}

// New creates a trigger machine. store may be nil when persisted cooldowns
// are not wanted.
func New(cfg Config, cameraID string, store CooldownStore) *Machine {
	def := DefaultConfig()
	if cfg.MinEventDuration <= 0 {
		cfg.MinEventDuration = def.MinEventDuration
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.MaxGapTicks < 0 {
		cfg.MaxGapTicks = def.MaxGapTicks
	}
	return &Machine{
		cfg:      cfg,
		cameraID: cameraID,
		store:    store,
		now:      time.Now,
	}
}

// Tick advances the machine by one inference tick. present is whether the
// filter pipeline credited a detection this tick; sustained is whether the
// temporal window is satisfied. It returns true exactly when an event is
// confirmed; the caller then assembles and emits the event.
func (m *Machine) Tick(ctx context.Context, present, sustained bool) bool {
	now := m.now()

	if !present {
		if m.state == statePending {
			m.gapTicks++
			if m.gapTicks > m.cfg.MaxGapTicks {
				m.state = stateIdle
			}
		}
		return false
	}

	switch m.state {
	case stateIdle:
		m.state = statePending
		m.startTime = now
		m.gapTicks = 0
		return false
	case statePending:
		m.gapTicks = 0
	}

	if !sustained {
		return false
	}
	if now.Sub(m.startTime) < m.cfg.MinEventDuration {
		return false
	}
	if !m.cooldownElapsed(ctx, now) {
		return false
	}

	m.lastEvent = now
	m.state = stateIdle
	return true
}

// Reset returns the machine to idle, e.g. after a stream reconnect. The
// cooldown clock is kept so reconnects cannot be used to double-fire.
func (m *Machine) Reset() {
	m.state = stateIdle
	m.gapTicks = 0
}

// cooldownElapsed checks the in-memory cooldown first and falls back to the
// store once per process so a restart does not forget a recent event.
func (m *Machine) cooldownElapsed(ctx context.Context, now time.Time) bool {
	if !m.lastEvent.IsZero() {
		return now.Sub(m.lastEvent) >= m.cfg.Cooldown
	}
	if m.store == nil || m.storeChecked {
		return true
	}
	m.storeChecked = true

	last, ok, err := m.store.LastEventTime(ctx, m.cameraID)
	if err != nil {
		log.Printf("[Trigger] %s: cooldown lookup failed: %v", m.cameraID, err)
		return true
	}
	if !ok {
		return true
	}
	m.lastEvent = last
	return now.Sub(last) >= m.cfg.Cooldown
}
