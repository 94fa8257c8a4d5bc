package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/signal-scanner/internal/fetcher"
)

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	type seen struct {
		userAgent string
		cookie    string
	}
	requests := make(chan seen, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- seen{userAgent: r.UserAgent(), cookie: r.Header.Get("Cookie")}
		w.Header().Set("X-Resp", "ok")
		_, _ = w.Write([]byte("<p>We're hiring</p>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "signalscan-test", Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), fetcher.Request{
		URL:     srv.URL + "/careers",
		Headers: http.Header{"Cookie": {"li_at=abc"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<p>We're hiring</p>", string(resp.Body))
	require.Equal(t, "ok", resp.Headers.Get("X-Resp"))
	require.False(t, resp.Rendered)

	first := <-requests
	require.Equal(t, "signalscan-test", first.userAgent)
	require.Equal(t, "li_at=abc", first.cookie)

	// Revisiting the same URL must not be refused, and headers do not leak
	// from one request into the next.
	_, err = f.Fetch(context.Background(), fetcher.Request{URL: srv.URL + "/careers"})
	require.NoError(t, err)

	second := <-requests
	require.Equal(t, "signalscan-test", second.userAgent)
	require.Empty(t, second.cookie)
}

func TestFetchKeepsErrorStatuses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), fetcher.Request{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.ErrorIs(t, fetcher.Check(resp), fetcher.ErrBlocked)
}

func TestFetchThroughProxy(t *testing.T) {
	t.Parallel()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("via proxy " + r.URL.Host))
	}))
	defer proxy.Close()
	proxyURL, err := url.Parse(proxy.URL)
	require.NoError(t, err)

	f := New(Config{Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), fetcher.Request{URL: "http://acme.invalid/jobs", ProxyURL: proxyURL})
	require.NoError(t, err)
	require.Equal(t, "via proxy acme.invalid", string(resp.Body))

	require.Same(t, f.transportFor(proxyURL), f.transportFor(proxyURL))
	require.NotSame(t, f.transportFor(proxyURL), f.transportFor(nil))
	f.Close()
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(ctx, fetcher.Request{URL: srv.URL})
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := fetcher.Request{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result fetcher.Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	target, err := url.Parse("https://example.com")
	require.NoError(t, err)
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: target},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
