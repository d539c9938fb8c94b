package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"vigil/internal/frame"
)

// FFmpegSource opens a video endpoint through an ffmpeg child process that
// transcodes to an MJPEG pipe.
type FFmpegSource struct {
	kind SourceKind
	url  string
	fps  int
}

// NewFFmpegSource creates a source for the given endpoint. fps is the rate
// ffmpeg resamples the stream to; zero means 10.
func NewFFmpegSource(kind SourceKind, url string, fps int) *FFmpegSource {
	if fps <= 0 {
		fps = 10
	}
	return &FFmpegSource{kind: kind, url: url, fps: fps}
}

func (s *FFmpegSource) Kind() SourceKind { return s.kind }
func (s *FFmpegSource) URL() string      { return s.url }

// Open implements Source. The child process is killed when the reader is
// closed or the context is canceled.
func (s *FFmpegSource) Open(ctx context.Context) (FrameReader, error) {
	args := s.args()
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	// Consume stderr so ffmpeg never blocks on a full pipe.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	r := &ffmpegReader{
		cmd:    cmd,
		frames: make(chan *frame.Frame, 1),
		errs:   make(chan error, 1),
	}
	go r.pump(stdout)
	return r, nil
}

func (s *FFmpegSource) args() []string {
	common := []string{
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", fmt.Sprintf("%d", s.fps),
		"-q:v", "5",
		"-",
	}
	if strings.HasPrefix(s.url, "rtsp://") {
		return append([]string{"-rtsp_transport", "tcp", "-i", s.url}, common...)
	}
	return append([]string{"-i", s.url}, common...)
}

type ffmpegReader struct {
	cmd    *exec.Cmd
	frames chan *frame.Frame
	errs   chan error
	seq    atomic.Uint64
	closed atomic.Bool
}

// pump reads the MJPEG byte stream, slices out complete JPEGs and decodes
// them. A decode failure skips the frame rather than killing the stream.
func (r *ffmpegReader) pump(stdout io.Reader) {
	buf := make([]byte, 0, 1<<20)
	chunk := make([]byte, 8192)

	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				jpg := extractJPEG(&buf)
				if jpg == nil {
					break
				}
				img, derr := jpeg.Decode(bytes.NewReader(jpg))
				if derr != nil {
					log.Printf("[Stream] skipping undecodable frame: %v", derr)
					continue
				}
				f := &frame.Frame{
					Image:     img,
					Seq:       r.seq.Add(1),
					Timestamp: time.Now(),
				}
				select {
				case r.frames <- f:
				default:
					// Reader is behind; keep only the newest frame.
					select {
					case <-r.frames:
					default:
					}
					r.frames <- f
				}
			}
		}
		if err != nil {
			if err != io.EOF && !r.closed.Load() {
				log.Printf("[Stream] read error: %v", err)
			}
			r.errs <- fmt.Errorf("video stream ended: %w", err)
			return
		}
	}
}

// Read implements FrameReader.
func (r *ffmpegReader) Read(ctx context.Context) (*frame.Frame, error) {
	select {
	case f := <-r.frames:
		return f, nil
	case err := <-r.errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements FrameReader.
func (r *ffmpegReader) Close() error {
	r.closed.Store(true)
	if r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	return r.cmd.Wait()
}

// extractJPEG slices one complete JPEG (FFD8..FFD9) off the front of buf.
func extractJPEG(buf *[]byte) []byte {
	b := *buf
	if len(b) < 4 {
		return nil
	}

	start := -1
	for i := 0; i < len(b)-1; i++ {
		if b[i] == 0xFF && b[i+1] == 0xD8 {
			start = i
			break
		}
	}
	if start == -1 {
		return nil
	}

	end := -1
	for i := start + 2; i < len(b)-1; i++ {
		if b[i] == 0xFF && b[i+1] == 0xD9 {
			end = i + 2
			break
		}
	}
	if end == -1 {
		return nil
	}

	jpg := make([]byte, end-start)
	copy(jpg, b[start:end])
	*buf = b[end:]
	return jpg
}

var _ Source = (*FFmpegSource)(nil)
