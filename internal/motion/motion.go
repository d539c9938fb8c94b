// Package motion implements the per-camera admission gate that decides
// whether a frame is worth sending to the expensive detector at all.
//
// The model is deliberately cheap: frames are shrunk to a fixed comparison
// width, grayscaled and blurred, then differenced against the previous
// frame. A morphological open/close pass merges fragmented foreground and
// drops speckle before the area threshold is applied.
package motion

import (
	"image"
	"time"

	"vigil/internal/frame"
)

// Config holds the per-camera motion gate tunables.
type Config struct {
	// Enabled turns the gate on. Disabled means every frame passes through
	// to inference.
	Enabled bool `yaml:"enabled"`

	// Sensitivity maps 1 (least sensitive) to 10 (most sensitive) onto the
	// per-pixel luminance difference threshold.
	Sensitivity int `yaml:"sensitivity"`

	// MinArea is the number of changed pixels, at ScaleWidth resolution,
	// required to flag motion.
	MinArea int `yaml:"min_area"`

	// Cooldown keeps the gate open after the last motion was seen, so the
	// detector is not starved by a single quiet frame mid-activity.
	Cooldown time.Duration `yaml:"cooldown"`

	// ScaleWidth is the width frames are shrunk to before comparison.
	ScaleWidth int `yaml:"scale_width"`

	// BlurRadius is the box-blur radius applied before differencing.
	BlurRadius int `yaml:"blur_radius"`
}

// DefaultConfig returns the production motion gate defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Sensitivity: 5,
		MinArea:     400,
		Cooldown:    4 * time.Second,
		ScaleWidth:  640,
		BlurRadius:  1,
	}
}

// Detector is the per-camera motion state. Not safe for concurrent use; each
// worker owns exactly one.
type Detector struct {
	cfg  Config
	prev *image.Gray

	lastMotion time.Time
	active     bool

	now func() time.Time
}

// New creates a motion detector with the given config. Zero-value fields
// fall back to defaults.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Sensitivity < 1 || cfg.Sensitivity > 10 {
		cfg.Sensitivity = def.Sensitivity
	}
	if cfg.MinArea <= 0 {
		cfg.MinArea = def.MinArea
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.ScaleWidth <= 0 {
		cfg.ScaleWidth = def.ScaleWidth
	}
	if cfg.BlurRadius < 0 {
		cfg.BlurRadius = def.BlurRadius
	}
	return &Detector{cfg: cfg, now: time.Now}
}

// threshold converts sensitivity 1..10 into a luminance delta: sensitivity 1
// needs a delta of 55, sensitivity 10 a delta of 10.
func (d *Detector) threshold() int {
	return 60 - 5*d.cfg.Sensitivity
}

// Active reports whether the gate is open for this frame. A disabled gate is
// always open. The first frame establishes the baseline and never flags.
func (d *Detector) Active(f *frame.Frame) bool {
	if !d.cfg.Enabled {
		return true
	}

	scaled := frame.ScaleToWidth(f.Image, d.cfg.ScaleWidth)
	gray := frame.BoxBlur(frame.Grayscale(scaled), d.cfg.BlurRadius)

	prev := d.prev
	d.prev = gray

	now := d.now()

	if prev == nil || !prev.Bounds().Eq(gray.Bounds()) {
		return d.stillInCooldown(now)
	}

	changed := d.foregroundArea(prev, gray)
	if changed >= d.effectiveMinArea(f) {
		d.active = true
		d.lastMotion = now
		return true
	}

	return d.stillInCooldown(now)
}

// stillInCooldown latches the active state for the configured cooldown after
// the last motion, then drops back to inactive.
func (d *Detector) stillInCooldown(now time.Time) bool {
	if d.active && now.Sub(d.lastMotion) < d.cfg.Cooldown {
		return true
	}
	d.active = false
	return false
}

// effectiveMinArea scales the configured area threshold by the square of the
// actual downscale factor, so cameras smaller than ScaleWidth are not held
// to a threshold calibrated for a larger comparison image.
func (d *Detector) effectiveMinArea(f *frame.Frame) int {
	w := f.Width()
	if w <= 0 || w >= d.cfg.ScaleWidth {
		return d.cfg.MinArea
	}
	factor := float64(w) / float64(d.cfg.ScaleWidth)
	area := int(float64(d.cfg.MinArea) * factor * factor)
	if area < 1 {
		area = 1
	}
	return area
}

// foregroundArea differences two grayscale frames, cleans the binary mask
// with a dilate-then-erode pass, and returns the foreground pixel count.
func (d *Detector) foregroundArea(prev, cur *image.Gray) int {
	b := cur.Bounds()
	w, h := b.Dx(), b.Dy()
	thr := d.threshold()

	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pv := int(prev.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			cv := int(cur.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			diff := pv - cv
			if diff < 0 {
				diff = -diff
			}
			mask[y*w+x] = diff > thr
		}
	}

	mask = dilate(mask, w, h)
	mask = erode(mask, w, h)

	count := 0
	for _, set := range mask {
		if set {
			count++
		}
	}
	return count
}

// Reset clears the background model and the cooldown latch.
func (d *Detector) Reset() {
	d.prev = nil
	d.active = false
	d.lastMotion = time.Time{}
}

func dilate(mask []bool, w, h int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask[y*w+x] {
				out[y*w+x] = true
				continue
			}
			for dy := -1; dy <= 1 && !out[y*w+x]; dy++ {
				for dx := -1; dx <= 1; dx++ {
					yy, xx := y+dy, x+dx
					if yy < 0 || yy >= h || xx < 0 || xx >= w {
						continue
					}
					if mask[yy*w+xx] {
						out[y*w+x] = true
						break
					}
				}
			}
		}
	}
	return out
}

func erode(mask []bool, w, h int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask[y*w+x] {
				continue
			}
			keep := true
			for dy := -1; dy <= 1 && keep; dy++ {
				for dx := -1; dx <= 1; dx++ {
					yy, xx := y+dy, x+dx
					if yy < 0 || yy >= h || xx < 0 || xx >= w {
						continue
					}
					if !mask[yy*w+xx] {
						keep = false
						break
					}
				}
			}
			out[y*w+x] = keep
		}
	}
	return out
}
