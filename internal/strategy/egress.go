package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/JakeFAU/signal-scanner/internal/fetcher"
	"github.com/JakeFAU/signal-scanner/internal/resource"
)

// RateLimiter blocks until a request to rawURL may proceed.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// ResourcePool hands out egress resources and receives their outcomes.
type ResourcePool interface {
	Acquire() (resource.Handle, bool)
	ReportOutcome(id string, success bool, responseTime time.Duration) error
}

// Egress performs one outbound fetch: rate limit, resource rotation, block
// detection and outcome reporting.
type Egress struct {
	fetcher         fetcher.Fetcher
	limiter         RateLimiter
	pool            ResourcePool
	requireResource bool
	logger          *zap.Logger
}

// EgressOption customises an Egress.
type EgressOption func(*Egress)

// WithLimiter waits on limiter before each request.
func WithLimiter(limiter RateLimiter) EgressOption {
	return func(e *Egress) { e.limiter = limiter }
}

// WithPool routes requests through resources from pool. When required is
// true a request fails with ErrNoResource instead of going direct.
func WithPool(pool ResourcePool, required bool) EgressOption {
	return func(e *Egress) {
		e.pool = pool
		e.requireResource = required
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) EgressOption {
	return func(e *Egress) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEgress wraps f.
func NewEgress(f fetcher.Fetcher, opts ...EgressOption) *Egress {
	e := &Egress{fetcher: f, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fetcher returns the wrapped fetcher.
func (e *Egress) Fetcher() fetcher.Fetcher {
	return e.fetcher
}

// Get fetches req. A non-nil error is returned for transport failures,
// blocks and non-2xx responses; the response is still returned alongside
// status errors so callers can inspect it.
func (e *Egress) Get(ctx context.Context, req fetcher.Request) (fetcher.Response, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, req.URL); err != nil {
			return fetcher.Response{}, err
		}
	}

	var handle resource.Handle
	var haveHandle bool
	if e.pool != nil {
		handle, haveHandle = e.pool.Acquire()
		switch {
		case haveHandle:
			req.ProxyURL = handle.URL()
		case e.requireResource:
			return fetcher.Response{}, eris.Wrapf(ErrNoResource, "fetching %s", req.URL)
		default:
			e.logger.Debug("no active resource, fetching direct", zap.String("url", req.URL))
		}
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil {
		err = fetcher.Check(resp)
	}
	if haveHandle {
		e.report(handle, resp, err)
	}
	return resp, err
}

// report charges transport failures and blocks to the resource. Ordinary
// status errors such as 404 say nothing about the proxy.
func (e *Egress) report(handle resource.Handle, resp fetcher.Response, err error) {
	var status *fetcher.StatusError
	success := err == nil || errors.As(err, &status)
	if errors.Is(err, context.Canceled) {
		return
	}
	if rerr := e.pool.ReportOutcome(handle.ID, success, resp.Duration); rerr != nil {
		e.logger.Warn("report resource outcome", zap.String("resource", handle.ID), zap.Error(rerr))
	}
}
