package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPCollector probes an HTTP endpoint. A transport error is reported as
// up=0; a response with an unexpected status is reported as up=0 with the
// status code.
type HTTPCollector struct {
	client       *http.Client
	url          string
	method       string
	expectStatus int
}

// NewHTTPCollector creates an HTTP probe. expectStatus 0 accepts any 2xx.
func NewHTTPCollector(url, method string, expectStatus int, timeout time.Duration) (*HTTPCollector, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("http collector: url is required")
	}
	if method == "" {
		method = http.MethodGet
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPCollector{
		client:       &http.Client{Timeout: timeout},
		url:          url,
		method:       strings.ToUpper(method),
		expectStatus: expectStatus,
	}, nil
}

// Collect implements Collector
func (c *HTTPCollector) Collect(ctx context.Context) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, c.method, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return map[string]float64{"up": 0}, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	up := 0.0
	if c.statusOK(resp.StatusCode) {
		up = 1
	}
	return map[string]float64{
		"up":          up,
		"status_code": float64(resp.StatusCode),
		"latency_ms":  float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

func (c *HTTPCollector) statusOK(code int) bool {
	if c.expectStatus != 0 {
		return code == c.expectStatus
	}
	return code >= 200 && code < 300
}
