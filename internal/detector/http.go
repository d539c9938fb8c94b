package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"
)

const healthCacheTTL = 30 * time.Second

// HTTPClient talks to the detection service over HTTP: a multipart POST of
// the JPEG frame plus the confidence threshold, JSON detections back.
type HTTPClient struct {
	endpoint string
	client   *http.Client

	mu          sync.Mutex
	healthy     bool
	healthCheck time.Time
}

// NewHTTPClient creates a detector client for the given service endpoint.
// requestTimeout bounds every inference call in addition to any context
// deadline the caller supplies.
func NewHTTPClient(endpoint string, requestTimeout time.Duration) *HTTPClient {
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

type inferResponse struct {
	Detections      []Detection `json:"detections"`
	Count           int         `json:"count"`
	InferenceTimeMs float32     `json:"inference_time_ms"`
	Device          string      `json:"device"`
}

// Infer implements Client.
func (c *HTTPClient) Infer(ctx context.Context, jpegData []byte, confThreshold float32) ([]Detection, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(jpegData); err != nil {
		return nil, err
	}
	if err := w.WriteField("conf_threshold", fmt.Sprintf("%.2f", confThreshold)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		c.setHealthy(false)
		return nil, fmt.Errorf("detector request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.setHealthy(false)
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode, string(body))
	}

	var result inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding detector response: %w", err)
	}

	c.setHealthy(true)
	return result.Detections, nil
}

// IsHealthy implements Client. The probe result is cached for 30 seconds so
// every inference tick does not pay for a health round-trip.
func (c *HTTPClient) IsHealthy() bool {
	c.mu.Lock()
	if time.Since(c.healthCheck) < healthCacheTTL {
		healthy := c.healthy
		c.mu.Unlock()
		return healthy
	}
	c.mu.Unlock()

	resp, err := c.client.Get(c.endpoint + "/health")
	if err != nil {
		log.Printf("[Detector] health check failed: %v", err)
		c.setHealthy(false)
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	if !ok {
		log.Printf("[Detector] health check returned status %d", resp.StatusCode)
	}
	c.setHealthy(ok)
	return ok
}

// Close implements Client.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) setHealthy(ok bool) {
	c.mu.Lock()
	c.healthy = ok
	c.healthCheck = time.Now()
	c.mu.Unlock()
}

var _ Client = (*HTTPClient)(nil)
