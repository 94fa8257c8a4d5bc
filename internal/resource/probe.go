package resource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultProbeTimeout = 15 * time.Second

// HTTPProber checks a handle by fetching a known URL through it.
type HTTPProber struct {
	target    string
	timeout   time.Duration
	userAgent string
	transport func(h Handle) http.RoundTripper
}

// NewHTTPProber builds a prober that GETs target through each handle.
func NewHTTPProber(target string, timeout time.Duration, userAgent string) *HTTPProber {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &HTTPProber{
		target:    target,
		timeout:   timeout,
		userAgent: userAgent,
		transport: func(h Handle) http.RoundTripper {
			return &http.Transport{
				Proxy:                 http.ProxyURL(h.URL()),
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				DisableKeepAlives:     true,
			}
		},
	}
}

// Probe returns the round trip time or an error if the handle cannot reach
// the target with a non-error status.
func (p *HTTPProber) Probe(ctx context.Context, h Handle) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	client := &http.Client{Transport: p.transport(h), Timeout: p.timeout}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe %s via %s: %w", p.target, h, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	elapsed := time.Since(start)
	if resp.StatusCode >= http.StatusBadRequest {
		return elapsed, fmt.Errorf("probe %s via %s: status %d", p.target, h, resp.StatusCode)
	}
	return elapsed, nil
}
