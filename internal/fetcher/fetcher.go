// Package fetcher defines the page-fetching contract shared by the HTTP and
// headless implementations, plus helpers that interpret fetched pages.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Request captures everything needed to fetch a URL.
type Request struct {
	URL      string
	Headers  http.Header
	ProxyURL *url.URL
}

// Response is a fetched page.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request Request) (Response, error)
}

// ErrBlocked matches every BlockedError via errors.Is.
var ErrBlocked = errors.New("blocked by upstream")

// BlockedError reports an anti-bot wall or a throttling response.
type BlockedError struct {
	URL    string
	Status int
	Kind   BlockKind
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked (%s, status %d) fetching %s", e.Kind, e.Status, e.URL)
}

// Is lets errors.Is(err, ErrBlocked) match.
func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

// Permanent tells retry policies not to retry a block.
func (e *BlockedError) Permanent() bool {
	return true
}

// StatusError is a non-block, non-2xx response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.Status, e.URL)
}

// Permanent reports whether retrying the request is pointless.
func (e *StatusError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500
}

// Check converts a response into an error when it is blocked or otherwise
// unusable. It returns nil for usable 2xx pages.
func Check(resp Response) error {
	if kind := DetectBlock(resp); kind != BlockNone {
		return &BlockedError{URL: resp.URL, Status: resp.StatusCode, Kind: kind}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{URL: resp.URL, Status: resp.StatusCode}
	}
	return nil
}
