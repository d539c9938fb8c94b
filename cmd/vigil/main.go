package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"vigil/internal/config"
	"vigil/internal/database"
	"vigil/internal/detector"
	"vigil/internal/filter"
	"vigil/internal/stream"
	"vigil/internal/throttle"
	"vigil/internal/worker"
	"vigil/internal/ws"
)

// eventSink persists confirmed events and notifies websocket subscribers.
type eventSink struct {
	db  *database.Database
	hub *ws.StatusHub
}

func (s *eventSink) HandleEvent(ctx context.Context, ev *worker.Event) {
	rec := &database.EventRecord{
		ID:         ev.ID,
		CameraID:   ev.CameraID,
		Timestamp:  ev.Timestamp,
		Confidence: float64(ev.Confidence),
		Class:      ev.Class,
		BBoxes: []database.BBoxRecord{{
			X1: ev.BBox.X1, Y1: ev.BBox.Y1, X2: ev.BBox.X2, Y2: ev.BBox.Y2,
		}},
		FrameCount: len(ev.Frames),
		ClipCount:  len(ev.Clip),
		Source:     ev.Source,
	}
	if err := s.db.SaveEvent(ctx, rec); err != nil {
		log.Printf("[Main] failed to persist event %s: %v", ev.ID, err)
	}

	s.hub.BroadcastEvent(&ws.EventMessage{
		Type:       "event",
		EventID:    ev.ID,
		CameraID:   ev.CameraID,
		Timestamp:  ev.Timestamp,
		Class:      ev.Class,
		Confidence: ev.Confidence,
		BBox:       []float32{ev.BBox.X1, ev.BBox.Y1, ev.BBox.X2, ev.BBox.Y2},
		FrameCount: len(ev.Frames),
		ClipCount:  len(ev.Clip),
		Source:     ev.Source,
	})
}

// healthSink forwards per-camera health to websocket subscribers.
type healthSink struct {
	hub *ws.StatusHub
}

func (s *healthSink) HandleHealth(h stream.Health, inferenceFPS float64, detectorOK bool) {
	s.hub.BroadcastHealth(ws.NewHealthMessage(h, inferenceFPS, detectorOK))
}

func main() {
	var (
		cameraFileF = flag.String("cameras", "", "Camera definition file (overrides VIGIL_CAMERA_FILE)")
		dbgF        = flag.Bool("debug", false, "Verbose logging")
	)
	flag.Parse()

	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[vigil] ", log.Ltime)
	}
	if !*dbgF {
		log.SetFlags(log.Ltime)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("loading configuration: %s", err)
	}
	if *cameraFileF != "" {
		cfg.CameraFile = *cameraFileF
	}

	cameras, err := config.LoadCameras(cfg.CameraFile)
	if err != nil {
		logger.Fatalf("loading cameras: %s", err)
	}

	db, err := database.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("opening database: %s", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logger.Fatalf("migrating database: %s", err)
	}

	client := detector.NewHTTPClient(cfg.DetectorEndpoint, cfg.DetectorTimeout)
	defer client.Close()

	hub := ws.NewStatusHub()

	// One process-wide CPU snapshot shared by every worker's throttle.
	sampler := throttle.NewCachedSampler(throttle.SystemSampler{}, 5*time.Second)

	supervisor := worker.NewSupervisor(
		client,
		db,
		&eventSink{db: db, hub: hub},
		&healthSink{hub: hub},
		sampler,
		func(cameraID string) filter.ZoneProvider {
			cache := config.NewZoneCache(cameraID, cfg.ZoneCacheTTL,
				config.FileZoneLoader(cfg.CameraFile, cameraID))
			return cache.Zones
		},
	)

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(context.Background())

	for _, spec := range config.EnabledCameras(cameras) {
		if err := supervisor.StartCamera(ctx, spec); err != nil {
			logger.Printf("camera %s failed to start: %s", spec.ID, err)
		}
	}
	logger.Printf("started %d of %d cameras", len(supervisor.Running()), len(cameras))

	// Prune old events once an hour.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := db.PruneEvents(ctx, time.Now().Add(-cfg.EventRetention))
				if err != nil {
					logger.Printf("pruning events: %s", err)
				} else if n > 0 {
					logger.Printf("pruned %d events", n)
				}
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/ws/status/", ws.NewHandler(hub))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":   "ok",
			"cameras":  supervisor.Health(),
			"detector": client.IsHealthy(),
		})
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		events, err := db.ListEvents(r.Context(), r.URL.Query().Get("camera_id"), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	logger.Printf("exiting (%v)", <-errc)

	cancel()
	supervisor.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	wg.Wait()
	logger.Println("exited")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Main] encoding response: %v", err)
	}
}
