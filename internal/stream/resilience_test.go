package stream

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/frame"
)

// fakeSource scripts connection outcomes: each Open consumes one entry from
// failures (true means the open fails), then serves frames from the reader.
type fakeSource struct {
	kind SourceKind

	mu       sync.Mutex
	failures []bool
	opens    int
	frames   int // frames each successful reader yields before erroring
}

func (s *fakeSource) Kind() SourceKind { return s.kind }
func (s *fakeSource) URL() string      { return "fake://" + string(s.kind) }

func (s *fakeSource) Open(ctx context.Context) (FrameReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	fail := false
	if len(s.failures) > 0 {
		fail = s.failures[0]
		s.failures = s.failures[1:]
	}
	if fail {
		return nil, errors.New("connection refused")
	}
	return &fakeReader{remaining: s.frames}, nil
}

func (s *fakeSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

type fakeReader struct {
	remaining int
}

func (r *fakeReader) Read(ctx context.Context) (*frame.Frame, error) {
	if r.remaining <= 0 {
		return nil, errors.New("stream ended")
	}
	r.remaining--
	return &frame.Frame{Image: image.NewGray(image.Rect(0, 0, 8, 8)), Timestamp: time.Now()}, nil
}

func (r *fakeReader) Close() error { return nil }

func testManager(restream, direct Source, onFrame func(*frame.Frame)) (*Manager, *time.Time) {
	cfg := DefaultManagerConfig()
	cfg.MaxReadFailures = 1
	if onFrame == nil {
		onFrame = func(*frame.Frame) {}
	}
	m := NewManager("cam-1", cfg, restream, direct, onFrame)
	clock := time.Unix(20000, 0)
	m.now = func() time.Time { return clock }
	m.sleep = func(ctx context.Context, d time.Duration) bool { return ctx.Err() == nil }
	return m, &clock
}

func TestPrefersRestream(t *testing.T) {
	restream := &fakeSource{kind: SourceRestream}
	direct := &fakeSource{kind: SourceDirect}
	m, _ := testManager(restream, direct, nil)

	assert.Equal(t, SourceRestream, m.pickSource().Kind())
}

func TestFallsBackToDirectAfterRestreamFailures(t *testing.T) {
	restream := &fakeSource{kind: SourceRestream}
	direct := &fakeSource{kind: SourceDirect}
	m, clock := testManager(restream, direct, nil)

	// One failure is not enough to give up on the restream.
	m.recordConnectFailure(restream, errors.New("refused"))
	assert.Equal(t, SourceRestream, m.pickSource().Kind())

	// The second consecutive failure opens the direct hold window.
	m.recordConnectFailure(restream, errors.New("refused"))
	assert.Equal(t, SourceDirect, m.pickSource().Kind())

	// The direct feed stays preferred for the full hold.
	*clock = clock.Add(4 * time.Minute)
	assert.Equal(t, SourceDirect, m.pickSource().Kind())

	// After the hold expires the restream is tried again.
	*clock = clock.Add(2 * time.Minute)
	assert.Equal(t, SourceRestream, m.pickSource().Kind())
}

func TestRestreamFailCountResetsOnFirstFrame(t *testing.T) {
	restream := &fakeSource{kind: SourceRestream}
	direct := &fakeSource{kind: SourceDirect}
	m, _ := testManager(restream, direct, nil)

	m.recordConnectFailure(restream, errors.New("refused"))
	m.setConnected(restream)
	m.noteFrame()
	m.recordConnectFailure(restream, errors.New("stream ended"))

	// A failure before and after a frame-delivering connection must not
	// count as two consecutive.
	assert.Equal(t, SourceRestream, m.pickSource().Kind())
}

func TestConnectWithoutFramesIsNotRecovery(t *testing.T) {
	restream := &fakeSource{kind: SourceRestream}
	direct := &fakeSource{kind: SourceDirect}
	m, _ := testManager(restream, direct, nil)

	// Connection success alone must not clear the failure streak: a
	// restream can accept connections while its upstream feed is dead.
	m.recordConnectFailure(restream, errors.New("refused"))
	m.setConnected(restream)
	m.recordConnectFailure(restream, errors.New("read timeout"))

	assert.Equal(t, SourceDirect, m.pickSource().Kind())
}

func TestStalledRestreamFallsBackToDirect(t *testing.T) {
	// The restream accepts every connection but its reader never yields a
	// frame; the direct feed works.
	restream := &fakeSource{kind: SourceRestream, frames: 0}
	direct := &fakeSource{kind: SourceDirect, frames: 3}

	var mu sync.Mutex
	var got int
	m, _ := testManager(restream, direct, func(f *frame.Frame) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got >= 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.GreaterOrEqual(t, direct.openCount(), 1)
	assert.Equal(t, 2, restream.openCount())
}

func TestNoDirectSourceKeepsRetryingRestream(t *testing.T) {
	restream := &fakeSource{kind: SourceRestream}
	m, _ := testManager(restream, nil, nil)

	m.recordConnectFailure(restream, errors.New("refused"))
	m.recordConnectFailure(restream, errors.New("refused"))
	m.recordConnectFailure(restream, errors.New("refused"))
	assert.Equal(t, SourceRestream, m.pickSource().Kind())
}

func TestDirectOnlyCamera(t *testing.T) {
	direct := &fakeSource{kind: SourceDirect}
	m, _ := testManager(nil, direct, nil)

	assert.Equal(t, SourceDirect, m.pickSource().Kind())
}

func TestRunDeliversFramesAndFallsBack(t *testing.T) {
	// Restream refuses twice; direct then serves three frames per connect.
	restream := &fakeSource{kind: SourceRestream, failures: []bool{true, true}}
	direct := &fakeSource{kind: SourceDirect, frames: 3}

	var mu sync.Mutex
	var got int
	m, _ := testManager(restream, direct, func(f *frame.Frame) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got >= 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, 2, restream.openCount())
	assert.GreaterOrEqual(t, direct.openCount(), 1)
}

func TestDownStateIsAdvisory(t *testing.T) {
	restream := &fakeSource{kind: SourceRestream}
	m, _ := testManager(restream, nil, nil)

	ctx := context.Background()
	attempts := m.cfg.MaxReconnectAttempts
	require.True(t, m.backoff(ctx, &attempts))
	assert.Equal(t, StatusDown, m.Health().Status)

	// A later successful connect recovers the camera.
	m.setConnected(restream)
	assert.Equal(t, StatusConnected, m.Health().Status)
}

func TestHealthFPS(t *testing.T) {
	restream := &fakeSource{kind: SourceRestream}
	m, clock := testManager(restream, nil, nil)

	m.setConnected(restream)
	for i := 0; i < 10; i++ {
		m.noteFrame()
		*clock = clock.Add(200 * time.Millisecond)
	}

	h := m.Health()
	assert.InDelta(t, 5.0, h.FPS, 0.5)
	assert.Equal(t, SourceRestream, h.ActiveSource)
}
