// Package webhook delivers net-new events as JSON POST requests.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/signal-scanner/internal/notify"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

const defaultTimeout = 10 * time.Second

// Config controls webhook delivery.
type Config struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// Sink posts each event to a fixed URL.
type Sink struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// New validates cfg and returns a Sink.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notify.webhook.url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sink{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Notify posts the event and treats any non-2xx response as a failure.
func (s *Sink) Notify(ctx context.Context, c signals.Candidate) error {
	body, err := json.Marshal(notify.NewEvent(c))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}
