package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/geometry"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 4*time.Second, cfg.DetectorTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("VIGIL_HTTP_ADDR", ":9090")
	t.Setenv("VIGIL_DETECTOR_TIMEOUT", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.DetectorTimeout)
}

const camerasYAML = `
cameras:
  - id: front-door
    name: Front Door
    enabled: true
    sensor: dual
    detection_source: auto
    restream_url: rtsp://nvr.local:8554/front
    direct_url: rtsp://10.0.0.11:554/stream1
    thermal_restream_url: rtsp://nvr.local:8554/front-thermal
    motion:
      enabled: true
      sensitivity: 7
    zones:
      - id: porch
        name: Porch
        mode: person
        enabled: true
        polygon:
          - {x: 0.1, y: 0.5}
          - {x: 0.9, y: 0.5}
          - {x: 0.9, y: 1.0}
          - {x: 0.1, y: 1.0}
  - id: garden
    name: Garden
    enabled: false
    sensor: color
    restream_url: rtsp://nvr.local:8554/garden
`

func writeCameraFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cameras.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCameras(t *testing.T) {
	cameras, err := LoadCameras(writeCameraFile(t, camerasYAML))
	require.NoError(t, err)
	require.Len(t, cameras, 2)

	front := cameras[0]
	assert.Equal(t, "front-door", front.ID)
	assert.True(t, front.UsesThermal())
	assert.InDelta(t, 0.60, front.EffectiveConfThreshold(), 0.001)

	restream, direct := front.DetectionURLs()
	assert.Equal(t, "rtsp://nvr.local:8554/front-thermal", restream)
	assert.Empty(t, direct)

	require.NotNil(t, front.Motion)
	assert.Equal(t, 7, front.Motion.Sensitivity)
	require.Len(t, front.Zones, 1)
	assert.Equal(t, geometry.ZoneModePerson, front.Zones[0].Mode)

	garden := cameras[1]
	assert.False(t, garden.UsesThermal())
	assert.InDelta(t, 0.45, garden.EffectiveConfThreshold(), 0.001)

	enabled := EnabledCameras(cameras)
	require.Len(t, enabled, 1)
	assert.Equal(t, "front-door", enabled[0].ID)
}

func TestLoadCamerasRejectsDuplicateIDs(t *testing.T) {
	yaml := `
cameras:
  - id: cam
    restream_url: rtsp://a
  - id: cam
    restream_url: rtsp://b
`
	_, err := LoadCameras(writeCameraFile(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadCamerasRejectsMissingURL(t *testing.T) {
	yaml := `
cameras:
  - id: cam
    name: No Stream
`
	_, err := LoadCameras(writeCameraFile(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stream URL")
}

func TestLoadCamerasRejectsBadZone(t *testing.T) {
	yaml := `
cameras:
  - id: cam
    restream_url: rtsp://a
    zones:
      - id: z
        mode: person
        enabled: true
        polygon:
          - {x: 0.1, y: 0.1}
          - {x: 0.9, y: 0.9}
`
	_, err := LoadCameras(writeCameraFile(t, yaml))
	require.Error(t, err)
}

func TestConfThresholdOverride(t *testing.T) {
	c := CameraSpec{ID: "cam", Sensor: SensorThermal, ConfThreshold: 0.8}
	assert.InDelta(t, 0.8, c.EffectiveConfThreshold(), 0.001)
}

func TestZoneCacheTTL(t *testing.T) {
	calls := 0
	zones := []geometry.Zone{{ID: "a"}}
	cache := NewZoneCache("cam", 10*time.Second, func() ([]geometry.Zone, error) {
		calls++
		return zones, nil
	})
	clock := time.Unix(3000, 0)
	cache.now = func() time.Time { return clock }

	cache.Zones()
	cache.Zones()
	assert.Equal(t, 1, calls)

	clock = clock.Add(11 * time.Second)
	zones = []geometry.Zone{{ID: "a"}, {ID: "b"}}
	got := cache.Zones()
	assert.Equal(t, 2, calls)
	assert.Len(t, got, 2)
}

func TestZoneCacheKeepsLastGoodOnError(t *testing.T) {
	fail := false
	cache := NewZoneCache("cam", time.Second, func() ([]geometry.Zone, error) {
		if fail {
			return nil, errors.New("yaml: line 3: mapping values are not allowed")
		}
		return []geometry.Zone{{ID: "a"}}, nil
	})
	clock := time.Unix(3000, 0)
	cache.now = func() time.Time { return clock }

	require.Len(t, cache.Zones(), 1)

	fail = true
	clock = clock.Add(2 * time.Second)
	assert.Len(t, cache.Zones(), 1)
}
