// Package filter implements the fixed-order detection filter pipeline:
// shape, zone membership, zone inertia, temporal consistency. A detection
// must pass every enabled stage to be credited, and each stage
// short-circuits so the common no-detection tick stays cheap.
package filter

import (
	"github.com/samber/lo"

	"vigil/internal/detector"
	"vigil/internal/geometry"
)

// Config holds the filter pipeline tunables.
type Config struct {
	// MinRatio and MaxRatio bound the width/height aspect ratio a person
	// silhouette may have.
	MinRatio float32 `yaml:"min_ratio"`
	MaxRatio float32 `yaml:"max_ratio"`

	// ZoneWindow is the depth of the per-zone occupancy window;
	// MinFramesInZone is how many of those frames must show occupancy
	// before a zone hit is credited.
	ZoneWindow      int `yaml:"zone_window"`
	MinFramesInZone int `yaml:"min_frames_in_zone"`

	// MinConsecutiveFrames of the last (MinConsecutiveFrames + MaxGapFrames)
	// ticks, including the current one, must show a detection. The weak
	// 1/2 setting is known to inflate false positives; 3/1 is the
	// production default.
	MinConsecutiveFrames int `yaml:"min_consecutive_frames"`
	MaxGapFrames         int `yaml:"max_gap_frames"`
}

// DefaultConfig returns the production filter defaults.
func DefaultConfig() Config {
	return Config{
		MinRatio:             0.2,
		MaxRatio:             1.2,
		ZoneWindow:           5,
		MinFramesInZone:      3,
		MinConsecutiveFrames: 3,
		MaxGapFrames:         1,
	}
}

// ZoneProvider returns the camera's current zones. Implementations may cache
// with a short TTL; the pipeline tolerates the set changing between ticks.
type ZoneProvider func() []geometry.Zone

// Result is the outcome of one pipeline tick.
type Result struct {
	// Credited holds the detections that passed shape, zone membership and
	// zone inertia this tick.
	Credited []detector.Detection

	// Present is true when at least one detection was credited this tick.
	Present bool

	// Sustained is true when the temporal-consistency window is satisfied.
	// Only a Sustained tick advances the event trigger toward confirmation.
	Sustained bool
}

// Pipeline is the per-camera filter state. Owned by a single worker; not
// safe for concurrent use.
type Pipeline struct {
	cfg   Config
	zones ZoneProvider

	inertia map[string]*boolWindow // zone id -> occupancy window
	history *boolWindow            // per-tick detection presence
}

// New creates a filter pipeline. zones may be nil for cameras without zones.
func New(cfg Config, zones ZoneProvider) *Pipeline {
	def := DefaultConfig()
	if cfg.MinRatio <= 0 {
		cfg.MinRatio = def.MinRatio
	}
	if cfg.MaxRatio <= 0 {
		cfg.MaxRatio = def.MaxRatio
	}
	if cfg.ZoneWindow <= 0 {
		cfg.ZoneWindow = def.ZoneWindow
	}
	if cfg.MinFramesInZone <= 0 {
		cfg.MinFramesInZone = def.MinFramesInZone
	}
	if cfg.MinConsecutiveFrames <= 0 {
		cfg.MinConsecutiveFrames = def.MinConsecutiveFrames
	}
	if cfg.MaxGapFrames < 0 {
		cfg.MaxGapFrames = def.MaxGapFrames
	}
	return &Pipeline{
		cfg:     cfg,
		zones:   zones,
		inertia: make(map[string]*boolWindow),
		history: newBoolWindow(cfg.MinConsecutiveFrames + cfg.MaxGapFrames),
	}
}

// Evaluate runs one tick of the pipeline over the raw detector output.
// width and height are the frame dimensions used to normalize bbox centers
// for the zone tests.
func (p *Pipeline) Evaluate(dets []detector.Detection, width, height int) Result {
	var zones []geometry.Zone
	if p.zones != nil {
		zones = p.zones()
	}

	// Stage 1: shape. Rejected detections never reach the geometry stages.
	candidates := lo.Filter(dets, func(d detector.Detection, _ int) bool {
		return p.shapeOK(d)
	})

	// Stage 2: zone membership.
	candidates = lo.Filter(candidates, func(d detector.Detection, _ int) bool {
		x, y := normalizedCenter(d, width, height)
		return geometry.Allows(zones, x, y)
	})

	// Stage 3: zone inertia. Update every target zone's occupancy window
	// from this tick's survivors, then credit only detections whose zone
	// shows sustained occupancy.
	credited := p.applyInertia(zones, candidates, width, height)

	// Stage 4: temporal consistency over per-tick presence.
	present := len(credited) > 0
	p.history.push(present)
	sustained := present &&
		p.history.trueCount() >= p.cfg.MinConsecutiveFrames

	return Result{Credited: credited, Present: present, Sustained: sustained}
}

// Reset clears all sliding windows, e.g. after a stream reconnect.
func (p *Pipeline) Reset() {
	p.inertia = make(map[string]*boolWindow)
	p.history = newBoolWindow(p.cfg.MinConsecutiveFrames + p.cfg.MaxGapFrames)
}

func (p *Pipeline) shapeOK(d detector.Detection) bool {
	r := d.BBox.AspectRatio()
	return r >= p.cfg.MinRatio && r <= p.cfg.MaxRatio
}

// applyInertia maintains the per-zone occupancy windows and returns the
// detections credited this tick. Cameras without target zones skip the
// stage entirely.
func (p *Pipeline) applyInertia(zones []geometry.Zone, dets []detector.Detection, width, height int) []detector.Detection {
	target := lo.Filter(zones, func(z geometry.Zone, _ int) bool {
		return z.Enabled && z.Mode != geometry.ZoneModeIgnore
	})
	if len(target) == 0 {
		p.pruneInertia(nil)
		return dets
	}

	// Which zones are occupied this tick, and by which detections.
	occupied := make(map[string][]detector.Detection, len(target))
	for _, d := range dets {
		x, y := normalizedCenter(d, width, height)
		for i := range target {
			if target[i].Contains(x, y) {
				occupied[target[i].ID] = append(occupied[target[i].ID], d)
			}
		}
	}

	credited := make([]detector.Detection, 0, len(dets))
	seen := make(map[detector.Detection]bool, len(dets))
	for i := range target {
		id := target[i].ID
		w := p.inertia[id]
		if w == nil {
			w = newBoolWindow(p.cfg.ZoneWindow)
			p.inertia[id] = w
		}
		w.push(len(occupied[id]) > 0)

		if w.trueCount() >= p.cfg.MinFramesInZone {
			for _, d := range occupied[id] {
				if !seen[d] {
					seen[d] = true
					credited = append(credited, d)
				}
			}
		}
	}

	p.pruneInertia(target)
	return credited
}

// pruneInertia drops windows for zones that no longer exist, so zone edits
// picked up through the TTL cache do not leave stale state behind.
func (p *Pipeline) pruneInertia(target []geometry.Zone) {
	if len(p.inertia) == 0 {
		return
	}
	live := make(map[string]bool, len(target))
	for i := range target {
		live[target[i].ID] = true
	}
	for id := range p.inertia {
		if !live[id] {
			delete(p.inertia, id)
		}
	}
}

func normalizedCenter(d detector.Detection, width, height int) (float64, float64) {
	cx, cy := d.BBox.Center()
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	return float64(cx) / float64(width), float64(cy) / float64(height)
}

// boolWindow is a fixed-depth sliding window of booleans.
type boolWindow struct {
	vals  []bool
	depth int
}

func newBoolWindow(depth int) *boolWindow {
	if depth < 1 {
		depth = 1
	}
	return &boolWindow{depth: depth}
}

func (w *boolWindow) push(v bool) {
	w.vals = append(w.vals, v)
	if len(w.vals) > w.depth {
		w.vals = w.vals[1:]
	}
}

func (w *boolWindow) trueCount() int {
	n := 0
	for _, v := range w.vals {
		if v {
			n++
		}
	}
	return n
}
