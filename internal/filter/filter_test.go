package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/detector"
	"vigil/internal/geometry"
)

const (
	frameW = 1280
	frameH = 720
)

// personAt builds a detection whose bbox center lands at the given
// normalized coordinates, with an aspect ratio of w/h.
func personAt(nx, ny float64, w, h float32) detector.Detection {
	cx := float32(nx * frameW)
	cy := float32(ny * frameH)
	return detector.Detection{
		Class:      "person",
		ClassID:    detector.PersonClassID,
		Confidence: 0.9,
		BBox: detector.BBox{
			X1: cx - w/2, Y1: cy - h/2,
			X2: cx + w/2, Y2: cy + h/2,
		},
	}
}

func squareZone(id string, mode geometry.ZoneMode, x0, y0, x1, y1 float64) geometry.Zone {
	return geometry.Zone{
		ID:      id,
		Name:    id,
		Mode:    mode,
		Enabled: true,
		Polygon: []geometry.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}},
	}
}

func staticZones(zones ...geometry.Zone) ZoneProvider {
	return func() []geometry.Zone { return zones }
}

func TestShapeFilterBoundaries(t *testing.T) {
	tests := []struct {
		name string
		w, h float32
		want bool
	}{
		{"upright person", 80, 200, true},
		{"exactly at min ratio", 20, 100, true},
		{"exactly at max ratio", 120, 100, true},
		{"just under min ratio", 19, 100, false},
		{"just over max ratio", 121, 100, false},
		{"wide vehicle-like box", 300, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(DefaultConfig(), nil)
			d := personAt(0.5, 0.5, tt.w, tt.h)

			var last Result
			// Enough ticks to satisfy the temporal window either way.
			for i := 0; i < 4; i++ {
				last = p.Evaluate([]detector.Detection{d}, frameW, frameH)
			}
			assert.Equal(t, tt.want, last.Present)
		})
	}
}

func TestIgnoreZoneVetoes(t *testing.T) {
	zones := staticZones(squareZone("parked-cars", geometry.ZoneModeIgnore, 0, 0, 0.5, 1))
	p := New(DefaultConfig(), zones)

	inIgnore := personAt(0.25, 0.5, 80, 200)
	outside := personAt(0.75, 0.5, 80, 200)

	r := p.Evaluate([]detector.Detection{inIgnore, outside}, frameW, frameH)
	require.Len(t, r.Credited, 1)
	assert.Equal(t, outside, r.Credited[0])
}

func TestZoneInertiaRequiresSustainedOccupancy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinFramesInZone = 3
	cfg.ZoneWindow = 5
	zones := staticZones(squareZone("driveway", geometry.ZoneModePerson, 0, 0, 1, 1))

	d := personAt(0.5, 0.5, 80, 200)

	t.Run("two frames not credited", func(t *testing.T) {
		p := New(cfg, zones)
		r := p.Evaluate([]detector.Detection{d}, frameW, frameH)
		assert.False(t, r.Present)
		r = p.Evaluate([]detector.Detection{d}, frameW, frameH)
		assert.False(t, r.Present)
	})

	t.Run("third frame credited", func(t *testing.T) {
		p := New(cfg, zones)
		var r Result
		for i := 0; i < 3; i++ {
			r = p.Evaluate([]detector.Detection{d}, frameW, frameH)
		}
		assert.True(t, r.Present)
	})
}

func TestZoneInertiaSurvivesBriefExit(t *testing.T) {
	cfg := DefaultConfig()
	zones := staticZones(squareZone("yard", geometry.ZoneModePerson, 0, 0, 1, 1))
	p := New(cfg, zones)

	d := personAt(0.5, 0.5, 80, 200)
	for i := 0; i < 3; i++ {
		p.Evaluate([]detector.Detection{d}, frameW, frameH)
	}

	// One empty tick: occupancy is still 3 of the last 5, so the window
	// stays warm and the next occupied tick is credited immediately.
	p.Evaluate(nil, frameW, frameH)
	r := p.Evaluate([]detector.Detection{d}, frameW, frameH)
	assert.True(t, r.Present)
}

func TestTemporalConsistency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConsecutiveFrames = 3
	cfg.MaxGapFrames = 1

	d := personAt(0.5, 0.5, 80, 200)
	feed := func(p *Pipeline, hits []bool) Result {
		var r Result
		for _, hit := range hits {
			if hit {
				r = p.Evaluate([]detector.Detection{d}, frameW, frameH)
			} else {
				r = p.Evaluate(nil, frameW, frameH)
			}
		}
		return r
	}

	t.Run("single gap tolerated", func(t *testing.T) {
		p := New(cfg, nil)
		r := feed(p, []bool{true, false, true, true})
		assert.True(t, r.Sustained)
	})

	t.Run("isolated hit rejected", func(t *testing.T) {
		p := New(cfg, nil)
		r := feed(p, []bool{false, false, false, true})
		assert.False(t, r.Sustained)
	})

	t.Run("current miss never sustained", func(t *testing.T) {
		p := New(cfg, nil)
		r := feed(p, []bool{true, true, true, false})
		assert.False(t, r.Sustained)
	})

	t.Run("three consecutive hits sustained", func(t *testing.T) {
		p := New(cfg, nil)
		r := feed(p, []bool{true, true, true})
		assert.True(t, r.Sustained)
	})
}

func TestDisabledZonesAreInvisible(t *testing.T) {
	z := squareZone("off", geometry.ZoneModePerson, 0, 0, 0.1, 0.1)
	z.Enabled = false
	p := New(DefaultConfig(), staticZones(z))

	// With the only zone disabled the camera behaves as zoneless: no
	// membership restriction and no inertia stage.
	d := personAt(0.9, 0.9, 80, 200)
	r := p.Evaluate([]detector.Detection{d}, frameW, frameH)
	assert.True(t, r.Present)
}

func TestResetClearsWindows(t *testing.T) {
	zones := staticZones(squareZone("gate", geometry.ZoneModePerson, 0, 0, 1, 1))
	p := New(DefaultConfig(), zones)

	d := personAt(0.5, 0.5, 80, 200)
	for i := 0; i < 3; i++ {
		require.True(t, p.Evaluate([]detector.Detection{d}, frameW, frameH).Present ||
			i < 2)
	}

	p.Reset()
	r := p.Evaluate([]detector.Detection{d}, frameW, frameH)
	assert.False(t, r.Present)
}

func TestStaleZoneWindowsPruned(t *testing.T) {
	current := []geometry.Zone{squareZone("a", geometry.ZoneModePerson, 0, 0, 1, 1)}
	p := New(DefaultConfig(), func() []geometry.Zone { return current })

	d := personAt(0.5, 0.5, 80, 200)
	p.Evaluate([]detector.Detection{d}, frameW, frameH)
	require.Contains(t, p.inertia, "a")

	current = []geometry.Zone{squareZone("b", geometry.ZoneModePerson, 0, 0, 1, 1)}
	p.Evaluate([]detector.Detection{d}, frameW, frameH)
	assert.NotContains(t, p.inertia, "a")
	assert.Contains(t, p.inertia, "b")
}
