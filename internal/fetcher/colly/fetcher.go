// Package collyfetcher implements fetcher.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/signal-scanner/internal/fetcher"
	"github.com/JakeFAU/signal-scanner/internal/metrics"
)

const defaultTimeout = 20 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
}

// Fetcher implements fetcher.Fetcher using a fresh Colly collector per
// request. Transports are cached per proxy so connections are reused.
type Fetcher struct {
	cfg Config

	mu         sync.Mutex
	transports map[string]*http.Transport
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Fetcher{
		cfg:        cfg,
		transports: make(map[string]*http.Transport),
	}
}

// Fetch executes a single HTTP GET using Colly. Non-2xx responses are
// returned, not treated as errors, so callers can classify blocks.
func (f *Fetcher) Fetch(ctx context.Context, request fetcher.Request) (fetcher.Response, error) {
	var (
		result   fetcher.Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		metrics.ObserveFetch(request.URL, "error")
		return fetcher.Response{}, err
	}
	metrics.ObserveFetch(request.URL, strconv.Itoa(result.StatusCode))
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request fetcher.Request,
	start time.Time,
	result *fetcher.Response,
	fetchErr *error,
) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.StdlibContext(ctx),
	}
	if f.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(f.cfg.UserAgent))
	}
	if f.cfg.MaxBodyBytes > 0 {
		opts = append(opts, colly.MaxBodySize(f.cfg.MaxBodyBytes))
	}
	collector := colly.NewCollector(opts...)
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transportFor(request.ProxyURL))

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request fetcher.Request,
	start time.Time,
	result *fetcher.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = fetcher.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request fetcher.Request, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func (f *Fetcher) transportFor(proxy *url.URL) *http.Transport {
	key := ""
	if proxy != nil {
		key = proxy.String()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.transports[key]; ok {
		return t
	}
	t := newHTTPTransport(proxy)
	f.transports[key] = t
	return t
}

// Close drops idle connections held by cached transports.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.transports {
		t.CloseIdleConnections()
	}
}

func newHTTPTransport(proxy *url.URL) *http.Transport {
	proxyFunc := http.ProxyFromEnvironment
	if proxy != nil {
		proxyFunc = http.ProxyURL(proxy)
	}
	return &http.Transport{
		Proxy: proxyFunc,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
