package detector

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBBox(t *testing.T) {
	b := BBox{X1: 10, Y1: 20, X2: 50, Y2: 120}

	assert.InDelta(t, 40, b.Width(), 0.001)
	assert.InDelta(t, 100, b.Height(), 0.001)

	cx, cy := b.Center()
	assert.InDelta(t, 30, cx, 0.001)
	assert.InDelta(t, 70, cy, 0.001)
	assert.InDelta(t, 0.4, b.AspectRatio(), 0.001)

	degenerate := BBox{X1: 5, Y1: 5, X2: 10, Y2: 5}
	assert.Zero(t, degenerate.AspectRatio())
}

func TestHTTPClientInfer(t *testing.T) {
	var gotThreshold string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/detect":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			gotThreshold = r.FormValue("conf_threshold")
			json.NewEncoder(w).Encode(inferResponse{
				Detections: []Detection{
					{Class: "person", ClassID: PersonClassID, Confidence: 0.91,
						BBox: BBox{X1: 100, Y1: 80, X2: 180, Y2: 300}},
				},
				Count: 1,
			})
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 2*time.Second)
	defer c.Close()

	dets, err := c.Infer(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0xD9}, 0.6)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "person", dets[0].Class)
	assert.Equal(t, "0.60", gotThreshold)
	assert.True(t, c.IsHealthy())
}

func TestHTTPClientInferError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	defer c.Close()

	_, err := c.Infer(context.Background(), []byte{0xFF}, 0.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPClientInferTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Infer(ctx, []byte{0xFF}, 0.5)
	require.Error(t, err)
}

func TestEnhanceStretchesContrast(t *testing.T) {
	// A low-contrast ramp between 100 and 140.
	img := image.NewGray(image.Rect(0, 0, 41, 1))
	for x := 0; x <= 40; x++ {
		img.SetGray(x, 0, color.Gray{Y: uint8(100 + x)})
	}

	out := Enhance(img)
	g, ok := out.(*image.Gray)
	require.True(t, ok)

	assert.Equal(t, uint8(0), g.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), g.GrayAt(40, 0).Y)
}

func TestEnhanceFlatFrame(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetGray(x, y, color.Gray{Y: 128})
		}
	}

	// A zero-span frame must not divide by zero.
	out := Enhance(img)
	require.NotNil(t, out)
}
