// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/signal-scanner/internal/fetcher"
	"github.com/JakeFAU/signal-scanner/internal/metrics"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
}

// Fetcher implements fetcher.Fetcher using chromedp and headless Chrome.
// Chrome only accepts a proxy at launch, so one allocator is kept per proxy
// server and credentials are answered through the Fetch domain.
type Fetcher struct {
	cfg     Config
	limiter chan struct{}
	logger  *zap.Logger

	mu         sync.Mutex
	allocators map[string]allocator
}

type allocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Fetcher{
		cfg:        cfg,
		limiter:    limiter,
		logger:     logger,
		allocators: make(map[string]allocator),
	}, nil
}

// Close shuts down every browser started by the fetcher.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, a := range f.allocators {
		a.cancel()
		delete(f.allocators, key)
	}
}

// Fetch navigates with a headless browser and returns the fully rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request fetcher.Request) (fetcher.Response, error) {
	if err := f.acquire(ctx); err != nil {
		return fetcher.Response{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocatorFor(request.ProxyURL))
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout())
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)
	if creds := proxyCredentials(request.ProxyURL); creds != nil {
		chromedp.ListenTarget(taskCtx, f.authResponder(taskCtx, creds))
	}

	start := time.Now()
	html, finalURL, err := f.runHeadless(taskCtx, request)
	if err != nil {
		metrics.ObserveFetch(request.URL, "error")
		return fetcher.Response{}, err
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	metrics.ObserveFetch(request.URL, strconv.Itoa(status))

	return fetcher.Response{
		URL:        responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Rendered:   true,
	}, nil
}

func (f *Fetcher) allocatorFor(proxy *url.URL) context.Context {
	key := proxyServer(proxy)
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.allocators[key]; ok {
		return a.ctx
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if key != "" {
		opts = append(opts, chromedp.ProxyServer(key))
	}
	ctx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	f.allocators[key] = allocator{ctx: ctx, cancel: cancel}
	f.logger.Debug("started browser allocator", zap.String("proxy", key))
	return ctx
}

func (f *Fetcher) runHeadless(ctx context.Context, request fetcher.Request) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(request),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) networkSetupAction(request fetcher.Request) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if proxyCredentials(request.ProxyURL) != nil {
			if err := fetch.Enable().WithHandleAuthRequests(true).Do(ctx); err != nil {
				return fmt.Errorf("enable fetch domain: %w", err)
			}
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(request.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(request.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// authResponder resumes paused requests and answers proxy auth challenges.
func (f *Fetcher) authResponder(ctx context.Context, creds *url.Userinfo) func(ev any) {
	password, _ := creds.Password()
	return func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go f.execute(ctx, fetch.ContinueRequest(e.RequestID))
		case *fetch.EventAuthRequired:
			go f.execute(ctx, fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
				Response: fetch.AuthChallengeResponseResponseProvideCredentials,
				Username: creds.Username(),
				Password: password,
			}))
		}
	}
}

func (f *Fetcher) execute(ctx context.Context, action chromedp.Action) {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return
	}
	if err := action.Do(cdp.WithExecutor(ctx, c.Target)); err != nil {
		f.logger.Debug("fetch domain reply failed", zap.Error(err))
	}
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

// proxyServer strips credentials, which Chrome rejects in --proxy-server.
func proxyServer(proxy *url.URL) string {
	if proxy == nil {
		return ""
	}
	return proxy.Scheme + "://" + proxy.Host
}

func proxyCredentials(proxy *url.URL) *url.Userinfo {
	if proxy == nil || proxy.User == nil || proxy.User.Username() == "" {
		return nil
	}
	return proxy.User
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Keep the first document response; later ones are iframes.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.headers.Clone(), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
