package strategy

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/signal-scanner/internal/extract"
	"github.com/JakeFAU/signal-scanner/internal/fetcher"
	"github.com/JakeFAU/signal-scanner/internal/resource"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

var acme = signals.Company{
	ID:         "acme",
	Name:       "Acme Corp",
	ProfileURL: "https://social.example.com/company/acme",
	CareerURL:  "https://acme.example.com/careers",
	Website:    "https://acme.example.com",
	Active:     true,
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// pageFetcher serves canned responses keyed by URL and records requests.
type pageFetcher struct {
	mu       sync.Mutex
	pages    map[string]fetcher.Response
	err      error
	requests []fetcher.Request
}

func newPageFetcher() *pageFetcher {
	return &pageFetcher{pages: make(map[string]fetcher.Response)}
}

func (f *pageFetcher) page(url string, status int, body string) *pageFetcher {
	f.pages[url] = fetcher.Response{URL: url, StatusCode: status, Body: []byte(body), Headers: http.Header{}}
	return f
}

func (f *pageFetcher) Fetch(_ context.Context, req fetcher.Request) (fetcher.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return fetcher.Response{}, f.err
	}
	resp, ok := f.pages[req.URL]
	if !ok {
		return fetcher.Response{URL: req.URL, StatusCode: http.StatusNotFound, Headers: http.Header{}}, nil
	}
	resp.Duration = 10 * time.Millisecond
	return resp, nil
}

func (f *pageFetcher) calls() []fetcher.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetcher.Request(nil), f.requests...)
}

type outcome struct {
	id      string
	success bool
}

type fakePool struct {
	mu       sync.Mutex
	handle   resource.Handle
	have     bool
	outcomes []outcome
}

func (p *fakePool) Acquire() (resource.Handle, bool) {
	return p.handle, p.have
}

func (p *fakePool) ReportOutcome(id string, success bool, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, outcome{id: id, success: success})
	return nil
}

type countingLimiter struct {
	mu    sync.Mutex
	waits []string
}

func (l *countingLimiter) Wait(_ context.Context, rawURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits = append(l.waits, rawURL)
	return nil
}

// fakeStrategy returns scripted results per call.
type fakeStrategy struct {
	name      string
	source    signals.SourceTag
	supported bool
	results   []fakeResult
	block     bool

	mu    sync.Mutex
	calls int
}

type fakeResult struct {
	contents []signals.RawContent
	err      error
}

func newFake(name string, results ...fakeResult) *fakeStrategy {
	return &fakeStrategy{name: name, source: signals.SourceSearch, supported: true, results: results}
}

func (s *fakeStrategy) Name() string { return s.name }

func (s *fakeStrategy) Source() signals.SourceTag { return s.source }

func (s *fakeStrategy) Supports(signals.Company) bool { return s.supported }

func (s *fakeStrategy) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeStrategy) Fetch(ctx context.Context, _ signals.Company) ([]signals.RawContent, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if len(s.results) == 0 {
		return nil, nil
	}
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i].contents, s.results[i].err
}

// textExtractor accepts one job candidate per content whose text starts
// with "job:" and rejects everything else.
type textExtractor struct {
	confidence map[string]int
}

func (e textExtractor) Extract(_ context.Context, in extract.Input) extract.Outcome {
	const prefix = "job:"
	if len(in.Content.Text) <= len(prefix) || in.Content.Text[:len(prefix)] != prefix {
		return extract.Outcome{Rejected: []extract.Rejection{{Rule: "fake", Reason: extract.ReasonTitle}}}
	}
	title := in.Content.Text[len(prefix):]
	conf := 80
	if c, ok := e.confidence[in.Content.URL]; ok {
		conf = c
	}
	return extract.Outcome{Accepted: []signals.Candidate{{
		Type:       in.Type,
		Company:    in.Company.Name,
		Title:      title,
		Location:   "Remote",
		Source:     in.Source,
		Strategy:   in.Strategy,
		Confidence: conf,
		URL:        in.Content.URL,
	}}}
}

func texts(lines ...string) []signals.RawContent {
	out := make([]signals.RawContent, len(lines))
	for i, l := range lines {
		out[i] = signals.RawContent{Text: l}
	}
	return out
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.delays = append(p.delays, d)
	p.mu.Unlock()
	return ctx.Err()
}
