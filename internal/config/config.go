// Package config loads service settings from the environment and camera
// definitions from a YAML file.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServiceConfig is the process-level configuration, read from the
// environment.
type ServiceConfig struct {
	HTTPAddr         string        `env:"VIGIL_HTTP_ADDR" envDefault:":8080"`
	DBPath           string        `env:"VIGIL_DB_PATH" envDefault:"vigil.db"`
	CameraFile       string        `env:"VIGIL_CAMERA_FILE" envDefault:"cameras.yaml"`
	DetectorEndpoint string        `env:"VIGIL_DETECTOR_ENDPOINT" envDefault:"http://localhost:8000"`
	DetectorTimeout  time.Duration `env:"VIGIL_DETECTOR_TIMEOUT" envDefault:"4s"`
	ZoneCacheTTL     time.Duration `env:"VIGIL_ZONE_TTL" envDefault:"10s"`
	EventRetention   time.Duration `env:"VIGIL_EVENT_RETENTION" envDefault:"720h"`
}

// Load reads the service configuration from the environment.
func Load() (*ServiceConfig, error) {
	var cfg ServiceConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}
