// Package worker runs the per-camera detection pipeline: frames come in
// from the stream manager, pass the motion gate and the adaptive throttle,
// go to the detector, and survive the filter pipeline before the trigger
// decides whether an event fires.
package worker

import (
	"bytes"
	"context"
	"image/jpeg"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"vigil/internal/buffer"
	"vigil/internal/config"
	"vigil/internal/detector"
	"vigil/internal/filter"
	"vigil/internal/frame"
	"vigil/internal/geometry"
	"vigil/internal/motion"
	"vigil/internal/stream"
	"vigil/internal/throttle"
	"vigil/internal/trigger"
)

const jpegQuality = 85

// Event is a confirmed person event with its buffered evidence.
type Event struct {
	ID         string
	CameraID   string
	Timestamp  time.Time
	Class      string
	Confidence float32
	BBox       detector.BBox
	Source     string
	Frames     []buffer.Entry
	Clip       []buffer.Entry
}

// EventSink receives confirmed events. The worker hands events off on a
// separate goroutine and never waits on downstream persistence or delivery.
type EventSink interface {
	HandleEvent(ctx context.Context, ev *Event)
}

// HealthSink receives periodic per-camera health reports.
type HealthSink interface {
	HandleHealth(h stream.Health, inferenceFPS float64, detectorOK bool)
}

// Options wires a worker's dependencies.
type Options struct {
	Spec     config.CameraSpec
	Detector detector.Client
	Cooldown trigger.CooldownStore
	Zones    filter.ZoneProvider
	Events   EventSink
	Health   HealthSink
	Sampler  throttle.CPUSampler

	// HealthInterval is how often Health is called. Zero means 10s.
	HealthInterval time.Duration
}

// Worker owns one camera's pipeline state.
type Worker struct {
	spec   config.CameraSpec
	client detector.Client
	events EventSink
	health HealthSink

	streamMgr *stream.Manager
	cell      *Cell
	motion    *motion.Detector
	throttle  *throttle.Throttle
	filter    *filter.Pipeline
	buffers   *buffer.Manager
	trigger   *trigger.Machine

	healthInterval time.Duration

	mu         sync.Mutex
	inferCount int
	inferStart time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New assembles a worker from its camera spec. Nil sub-configs use the
// production defaults.
func New(opts Options) *Worker {
	spec := opts.Spec

	motionCfg := motion.DefaultConfig()
	if spec.Motion != nil {
		motionCfg = *spec.Motion
	}
	filterCfg := filter.DefaultConfig()
	if spec.Filter != nil {
		filterCfg = *spec.Filter
	}
	throttleCfg := throttle.DefaultConfig()
	if spec.Throttle != nil {
		throttleCfg = *spec.Throttle
	}
	bufferCfg := buffer.DefaultConfig()
	if spec.Buffer != nil {
		bufferCfg = *spec.Buffer
	}
	triggerCfg := trigger.DefaultConfig()
	if spec.Trigger != nil {
		triggerCfg = *spec.Trigger
	}

	zones := opts.Zones
	if zones == nil && len(spec.Zones) > 0 {
		static := spec.Zones
		zones = func() []geometry.Zone { return static }
	}

	return &Worker{
		spec:           spec,
		client:         opts.Detector,
		events:         opts.Events,
		health:         opts.Health,
		cell:           &Cell{},
		motion:         motion.New(motionCfg),
		throttle:       throttle.New(throttleCfg, opts.Sampler),
		filter:         filter.New(filterCfg, zones),
		buffers:        buffer.New(bufferCfg),
		trigger:        trigger.New(triggerCfg, spec.ID, opts.Cooldown),
		healthInterval: opts.HealthInterval,
	}
}

// Start launches the stream and inference goroutines.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	streamCfg := stream.DefaultManagerConfig()
	if w.spec.Stream != nil {
		streamCfg = *w.spec.Stream
	}
	restreamURL, directURL := w.spec.DetectionURLs()
	var restream, direct stream.Source
	if restreamURL != "" {
		restream = stream.NewFFmpegSource(stream.SourceRestream, restreamURL, 10)
	}
	if directURL != "" {
		direct = stream.NewFFmpegSource(stream.SourceDirect, directURL, 10)
	}
	w.streamMgr = stream.NewManager(w.spec.ID, streamCfg, restream, direct, w.submitFrame)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.streamMgr.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		w.inferLoop(ctx)
	}()
	go func() {
		wg.Wait()
		close(w.done)
	}()

	log.Printf("[Worker] %s: started", w.spec.ID)
}

// Stop cancels the worker and waits for its goroutines.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	log.Printf("[Worker] %s: stopped", w.spec.ID)
}

// submitFrame is the stream manager's frame callback.
func (w *Worker) submitFrame(f *frame.Frame) {
	w.cell.Put(f)
	w.buffers.AddClipFrame(f)
}

func (w *Worker) inferLoop(ctx context.Context) {
	interval := w.healthInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	healthTicker := time.NewTicker(interval)
	defer healthTicker.Stop()

	for {
		delay := w.throttle.Delay()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-healthTicker.C:
			timer.Stop()
			w.reportHealth()
		case <-timer.C:
			w.inferOnce(ctx)
		}
	}
}

// inferOnce runs a single inference tick: take the freshest frame, apply
// the motion gate, call the detector, and advance the filter and trigger
// state machines.
func (w *Worker) inferOnce(ctx context.Context) {
	f, ok := w.cell.Take()
	if !ok {
		return
	}

	w.countInference()

	if !w.motion.Active(f) {
		// No motion: the detector is skipped but the sliding windows
		// still see an empty tick so presence decays honestly, and the
		// frame ring keeps its every-Nth quiet-period sampling.
		res := w.filter.Evaluate(nil, f.Width(), f.Height())
		w.buffers.AddFrame(f, nil)
		w.trigger.Tick(ctx, res.Present, res.Sustained)
		return
	}

	dets := w.detect(ctx, f)
	res := w.filter.Evaluate(dets, f.Width(), f.Height())

	best := bestDetection(res.Credited)
	w.buffers.AddFrame(f, best)

	if w.trigger.Tick(ctx, res.Present, res.Sustained) {
		w.fireEvent(ctx, best)
	}
}

// detect encodes the frame and calls the detection service. Errors degrade
// to an empty result; the stream must not stall on a flaky detector.
func (w *Worker) detect(ctx context.Context, f *frame.Frame) []detector.Detection {
	img := f.Image
	if w.spec.UsesThermal() {
		img = detector.Enhance(img)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		log.Printf("[Worker] %s: frame encode failed: %v", w.spec.ID, err)
		return nil
	}

	dets, err := w.client.Infer(ctx, buf.Bytes(), w.spec.EffectiveConfThreshold())
	if err != nil {
		log.Printf("[Worker] %s: inference failed: %v", w.spec.ID, err)
		return nil
	}
	return dets
}

func (w *Worker) fireEvent(ctx context.Context, best *detector.Detection) {
	ev := &Event{
		ID:        uuid.New().String(),
		CameraID:  w.spec.ID,
		Timestamp: time.Now(),
		Class:     "person",
		Frames:    w.buffers.SnapshotFrames(),
		Clip:      w.buffers.SnapshotClip(),
	}
	if w.spec.UsesThermal() {
		ev.Source = "thermal"
	} else {
		ev.Source = "color"
	}
	if best != nil {
		ev.Class = best.Class
		ev.Confidence = best.Confidence
		ev.BBox = best.BBox
	}

	log.Printf("[Worker] %s: event %s confirmed (confidence %.2f, %d frames, %d clip frames)",
		w.spec.ID, ev.ID, ev.Confidence, len(ev.Frames), len(ev.Clip))
	if w.events != nil {
		// Fire and forget: a slow sink must not stall the inference loop.
		go w.events.HandleEvent(context.WithoutCancel(ctx), ev)
	}
}

func (w *Worker) countInference() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inferStart.IsZero() || time.Since(w.inferStart) > time.Minute {
		w.inferStart = time.Now()
		w.inferCount = 0
	}
	w.inferCount++
}

func (w *Worker) inferenceFPS() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inferStart.IsZero() {
		return 0
	}
	elapsed := time.Since(w.inferStart).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(w.inferCount) / elapsed
}

func (w *Worker) reportHealth() {
	if w.health == nil {
		return
	}
	var h stream.Health
	if w.streamMgr != nil {
		h = w.streamMgr.Health()
	} else {
		h = stream.Health{CameraID: w.spec.ID, Status: stream.StatusInitializing}
	}
	detectorOK := w.client != nil && w.client.IsHealthy()
	w.health.HandleHealth(h, w.inferenceFPS(), detectorOK)
}

// bestDetection picks the highest-confidence credited detection.
func bestDetection(dets []detector.Detection) *detector.Detection {
	var best *detector.Detection
	for i := range dets {
		if best == nil || dets[i].Confidence > best.Confidence {
			best = &dets[i]
		}
	}
	return best
}
