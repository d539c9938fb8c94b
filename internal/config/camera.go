package config

import (
	"fmt"
	"os"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"vigil/internal/buffer"
	"vigil/internal/filter"
	"vigil/internal/geometry"
	"vigil/internal/motion"
	"vigil/internal/stream"
	"vigil/internal/throttle"
	"vigil/internal/trigger"
)

// SensorKind is what kind of imager a camera carries.
type SensorKind string

const (
	SensorColor   SensorKind = "color"
	SensorThermal SensorKind = "thermal"
	SensorDual    SensorKind = "dual"
)

// ConfidenceFloor is the minimum detector confidence for this sensor.
// Thermal imagery produces noisier silhouettes, so its floor is higher.
func (s SensorKind) ConfidenceFloor() float32 {
	switch s {
	case SensorThermal:
		return 0.60
	default:
		return 0.45
	}
}

// DetectionSource selects which feed of a dual camera runs inference.
type DetectionSource string

const (
	SourceColor   DetectionSource = "color"
	SourceThermal DetectionSource = "thermal"
	// SourceAuto prefers the thermal feed when the camera has one: thermal
	// works in full darkness and ignores headlights and shadows.
	SourceAuto DetectionSource = "auto"
)

// CameraSpec is one camera's definition as written in the YAML file.
type CameraSpec struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`

	Sensor          SensorKind      `yaml:"sensor"`
	DetectionSource DetectionSource `yaml:"detection_source"`

	// Color feed endpoints. RestreamURL is preferred; DirectURL is the
	// fallback straight to the camera.
	RestreamURL string `yaml:"restream_url"`
	DirectURL   string `yaml:"direct_url"`

	// Thermal feed endpoints for thermal and dual cameras.
	ThermalRestreamURL string `yaml:"thermal_restream_url"`
	ThermalDirectURL   string `yaml:"thermal_direct_url"`

	// ConfThreshold overrides the sensor's confidence floor when positive.
	ConfThreshold float32 `yaml:"conf_threshold"`

	Motion   *motion.Config        `yaml:"motion"`
	Filter   *filter.Config        `yaml:"filter"`
	Throttle *throttle.Config      `yaml:"throttle"`
	Buffer   *buffer.Config        `yaml:"buffer"`
	Trigger  *trigger.Config       `yaml:"trigger"`
	Stream   *stream.ManagerConfig `yaml:"stream"`
	Zones    []geometry.Zone       `yaml:"zones"`
}

// UsesThermal reports whether inference runs on the thermal feed.
func (c *CameraSpec) UsesThermal() bool {
	switch c.DetectionSource {
	case SourceThermal:
		return true
	case SourceColor:
		return false
	default:
		return c.Sensor == SensorThermal || c.Sensor == SensorDual
	}
}

// EffectiveConfThreshold is the detector confidence floor for this camera.
func (c *CameraSpec) EffectiveConfThreshold() float32 {
	if c.ConfThreshold > 0 {
		return c.ConfThreshold
	}
	if c.UsesThermal() {
		return SensorThermal.ConfidenceFloor()
	}
	return c.Sensor.ConfidenceFloor()
}

// DetectionURLs returns the restream and direct endpoints of the feed that
// runs inference.
func (c *CameraSpec) DetectionURLs() (restream, direct string) {
	if c.UsesThermal() && (c.ThermalRestreamURL != "" || c.ThermalDirectURL != "") {
		return c.ThermalRestreamURL, c.ThermalDirectURL
	}
	return c.RestreamURL, c.DirectURL
}

// Validate checks a single camera spec.
func (c *CameraSpec) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("camera id is required")
	}
	restream, direct := c.DetectionURLs()
	if restream == "" && direct == "" {
		return fmt.Errorf("camera %s: no stream URL configured", c.ID)
	}
	switch c.Sensor {
	case "", SensorColor, SensorThermal, SensorDual:
	default:
		return fmt.Errorf("camera %s: unknown sensor %q", c.ID, c.Sensor)
	}
	switch c.DetectionSource {
	case "", SourceColor, SourceThermal, SourceAuto:
	default:
		return fmt.Errorf("camera %s: unknown detection source %q", c.ID, c.DetectionSource)
	}
	for i := range c.Zones {
		if err := c.Zones[i].Validate(); err != nil {
			return fmt.Errorf("camera %s: zone %s: %w", c.ID, c.Zones[i].ID, err)
		}
	}
	return nil
}

type cameraFile struct {
	Cameras []CameraSpec `yaml:"cameras"`
}

// LoadCameras reads and validates the camera YAML file.
func LoadCameras(path string) ([]CameraSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading camera file: %w", err)
	}

	var f cameraFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing camera file: %w", err)
	}

	ids := lo.CountValuesBy(f.Cameras, func(c CameraSpec) string { return c.ID })
	for i := range f.Cameras {
		if err := f.Cameras[i].Validate(); err != nil {
			return nil, err
		}
		if ids[f.Cameras[i].ID] > 1 {
			return nil, fmt.Errorf("duplicate camera id %q", f.Cameras[i].ID)
		}
	}
	return f.Cameras, nil
}

// EnabledCameras filters the list down to cameras that should run.
func EnabledCameras(cameras []CameraSpec) []CameraSpec {
	return lo.Filter(cameras, func(c CameraSpec, _ int) bool { return c.Enabled })
}
