package worker

import (
	"context"
	"fmt"
	"log"
	"sync"

	"vigil/internal/config"
	"vigil/internal/detector"
	"vigil/internal/filter"
	"vigil/internal/stream"
	"vigil/internal/throttle"
	"vigil/internal/trigger"
)

// Supervisor owns the per-camera workers.
type Supervisor struct {
	client   detector.Client
	cooldown trigger.CooldownStore
	events   EventSink
	health   HealthSink
	sampler  throttle.CPUSampler
	zonesFor func(cameraID string) filter.ZoneProvider

	mu      sync.RWMutex
	workers map[string]*Worker
}

// NewSupervisor creates an empty supervisor. zonesFor may be nil when zone
// hot-reloading is not wanted; workers then use the zones from their spec.
func NewSupervisor(client detector.Client, cooldown trigger.CooldownStore,
	events EventSink, health HealthSink, sampler throttle.CPUSampler,
	zonesFor func(cameraID string) filter.ZoneProvider) *Supervisor {
	return &Supervisor{
		client:   client,
		cooldown: cooldown,
		events:   events,
		health:   health,
		sampler:  sampler,
		zonesFor: zonesFor,
		workers:  make(map[string]*Worker),
	}
}

// StartCamera creates and starts a worker for the camera.
func (s *Supervisor) StartCamera(ctx context.Context, spec config.CameraSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workers[spec.ID]; exists {
		return fmt.Errorf("camera %s already running", spec.ID)
	}

	var zones filter.ZoneProvider
	if s.zonesFor != nil {
		zones = s.zonesFor(spec.ID)
	}

	w := New(Options{
		Spec:     spec,
		Detector: s.client,
		Cooldown: s.cooldown,
		Zones:    zones,
		Events:   s.events,
		Health:   s.health,
		Sampler:  s.sampler,
	})
	w.Start(ctx)
	s.workers[spec.ID] = w

	log.Printf("[Supervisor] camera %s started", spec.ID)
	return nil
}

// StopCamera stops and removes one camera's worker.
func (s *Supervisor) StopCamera(cameraID string) error {
	s.mu.Lock()
	w, exists := s.workers[cameraID]
	if exists {
		delete(s.workers, cameraID)
	}
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("camera %s not running", cameraID)
	}
	w.Stop()
	log.Printf("[Supervisor] camera %s stopped", cameraID)
	return nil
}

// Running lists the IDs of running cameras.
func (s *Supervisor) Running() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	return ids
}

// Health returns the stream health of every running camera.
func (s *Supervisor) Health() []stream.Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]stream.Health, 0, len(s.workers))
	for _, w := range s.workers {
		if w.streamMgr != nil {
			out = append(out, w.streamMgr.Health())
		}
	}
	return out
}

// Close stops all workers.
func (s *Supervisor) Close() {
	s.mu.Lock()
	workers := s.workers
	s.workers = make(map[string]*Worker)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
}
