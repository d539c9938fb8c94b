package geometry

import (
	"fmt"
)

// ZoneMode controls how a zone participates in detection filtering.
type ZoneMode string

const (
	// ZoneModePerson zones admit detections whose center falls inside them.
	ZoneModePerson ZoneMode = "person"
	// ZoneModeMotion zones behave like person zones but are intended for
	// motion pre-filter regions.
	ZoneModeMotion ZoneMode = "motion"
	// ZoneModeIgnore zones veto any detection centered inside them.
	// Ignore zones mask detections only; they do not suppress the motion
	// pre-filter gate.
	ZoneModeIgnore ZoneMode = "ignore"
)

// Point is a coordinate normalized to [0,1] image space.
type Point struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Zone is a named polygon over a camera's normalized frame.
type Zone struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Mode    ZoneMode `yaml:"mode" json:"mode"`
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Polygon []Point  `yaml:"polygon" json:"polygon"`
}

const (
	minPolygonPoints = 3
	maxPolygonPoints = 20
)

// Validate rejects polygons that a worker must never see: too few or too many
// vertices, coordinates outside [0,1], or self-intersecting outlines.
func (z *Zone) Validate() error {
	switch z.Mode {
	case ZoneModePerson, ZoneModeMotion, ZoneModeIgnore:
	default:
		return fmt.Errorf("zone %s: unknown mode %q", z.ID, z.Mode)
	}

	n := len(z.Polygon)
	if n < minPolygonPoints || n > maxPolygonPoints {
		return fmt.Errorf("zone %s: polygon must have %d-%d points, got %d",
			z.ID, minPolygonPoints, maxPolygonPoints, n)
	}

	for i, p := range z.Polygon {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return fmt.Errorf("zone %s: point %d (%.3f, %.3f) outside [0,1]", z.ID, i, p.X, p.Y)
		}
	}

	if selfIntersects(z.Polygon) {
		return fmt.Errorf("zone %s: polygon self-intersects", z.ID)
	}

	return nil
}

// Contains reports whether the normalized point (x, y) lies inside the zone
// polygon. Uses ray casting; the (yi > y) != (yj > y) guard skips horizontal
// edges before the edge-slope division, so no divide-by-zero is possible.
func (z *Zone) Contains(x, y float64) bool {
	n := len(z.Polygon)
	if n < minPolygonPoints {
		return false
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := z.Polygon[i].X, z.Polygon[i].Y
		xj, yj := z.Polygon[j].X, z.Polygon[j].Y

		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}

	return inside
}

// Allows applies the zone-membership rule for a detection centered at the
// normalized point (x, y):
//
//   - an enabled ignore zone containing the point vetoes it outright;
//   - otherwise, if any enabled person (or motion) zone exists, the point must
//     fall inside at least one of them;
//   - with no enabled zones configured, everything passes.
func Allows(zones []Zone, x, y float64) bool {
	hasTarget := false
	insideTarget := false

	for i := range zones {
		z := &zones[i]
		if !z.Enabled {
			continue
		}
		switch z.Mode {
		case ZoneModeIgnore:
			if z.Contains(x, y) {
				return false
			}
		case ZoneModePerson, ZoneModeMotion:
			hasTarget = true
			if z.Contains(x, y) {
				insideTarget = true
			}
		}
	}

	if !hasTarget {
		return true
	}
	return insideTarget
}

// selfIntersects reports whether any two non-adjacent edges of the closed
// polygon cross each other.
func selfIntersects(poly []Point) bool {
	n := len(poly)
	for i := 0; i < n; i++ {
		a1 := poly[i]
		a2 := poly[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// Skip adjacent edges, including the first/last pair.
			if j == i || (j+1)%n == i || (i+1)%n == j {
				continue
			}
			b1 := poly[j]
			b2 := poly[(j+1)%n]
			if segmentsCross(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

func segmentsCross(p1, p2, p3, p4 Point) bool {
	d1 := direction(p3, p4, p1)
	d2 := direction(p3, p4, p2)
	d3 := direction(p1, p2, p3)
	d4 := direction(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return false
}

func direction(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}
