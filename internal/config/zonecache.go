package config

import (
	"log"
	"sync"
	"time"

	"vigil/internal/geometry"
)

// ZoneCache serves a camera's zones to the filter pipeline, re-running the
// loader at most once per TTL so zone edits are picked up without a restart.
// A failed reload keeps serving the last good set.
type ZoneCache struct {
	cameraID string
	ttl      time.Duration
	loader   func() ([]geometry.Zone, error)

	mu     sync.Mutex
	zones  []geometry.Zone
	loaded time.Time

	now func() time.Time
}

// NewZoneCache creates a cache around loader.
func NewZoneCache(cameraID string, ttl time.Duration, loader func() ([]geometry.Zone, error)) *ZoneCache {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &ZoneCache{
		cameraID: cameraID,
		ttl:      ttl,
		loader:   loader,
		now:      time.Now,
	}
}

// Zones returns the current zone set.
func (c *ZoneCache) Zones() []geometry.Zone {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.loaded.IsZero() && now.Sub(c.loaded) < c.ttl {
		return c.zones
	}

	zones, err := c.loader()
	if err != nil {
		log.Printf("[Config] %s: zone reload failed, keeping %d cached zones: %v",
			c.cameraID, len(c.zones), err)
		c.loaded = now
		return c.zones
	}

	c.zones = zones
	c.loaded = now
	return c.zones
}

// FileZoneLoader reloads one camera's zones from the camera YAML file.
func FileZoneLoader(path, cameraID string) func() ([]geometry.Zone, error) {
	return func() ([]geometry.Zone, error) {
		cameras, err := LoadCameras(path)
		if err != nil {
			return nil, err
		}
		for i := range cameras {
			if cameras[i].ID == cameraID {
				return cameras[i].Zones, nil
			}
		}
		return nil, nil
	}
}
