package strategy

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/signal-scanner/internal/extract"
	"github.com/JakeFAU/signal-scanner/internal/fetcher"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

func TestSessionSendsCookie(t *testing.T) {
	t.Parallel()

	target := "https://social.example.com/company/acme/posts/"
	f := newPageFetcher().page(target, http.StatusOK,
		"<html><body><h2>Acme Corp welcomes Jane Doe as VP of Engineering</h2></body></html>")
	s := NewSession(SessionConfig{Cookie: "li_at=abc", Path: "posts/"}, NewEgress(f))

	contents, err := s.Fetch(context.Background(), acme)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	require.Equal(t, "Acme Corp welcomes Jane Doe as VP of Engineering", contents[0].Text)
	require.Equal(t, "li_at=abc", f.calls()[0].Headers.Get("Cookie"))
	require.Equal(t, signals.SourceSession, s.Source())
}

func TestSessionRequiresCookieAndProfile(t *testing.T) {
	t.Parallel()

	s := NewSession(SessionConfig{}, NewEgress(newPageFetcher()))
	require.False(t, s.Supports(acme))
	_, err := s.Fetch(context.Background(), acme)
	require.ErrorIs(t, err, ErrUnsupported)

	s = NewSession(SessionConfig{Cookie: "li_at=abc"}, NewEgress(newPageFetcher()))
	noProfile := acme
	noProfile.ProfileURL = ""
	require.False(t, s.Supports(noProfile))
}

func TestSessionAuthWallIsBlocked(t *testing.T) {
	t.Parallel()

	f := newPageFetcher().page(acme.ProfileURL, http.StatusOK, "<p>Sign in to continue</p>")
	s := NewSession(SessionConfig{Cookie: "li_at=expired"}, NewEgress(f))

	_, err := s.Fetch(context.Background(), acme)
	require.ErrorIs(t, err, fetcher.ErrBlocked)
	var blocked *fetcher.BlockedError
	require.ErrorAs(t, err, &blocked)
	require.Equal(t, fetcher.BlockAuthWall, blocked.Kind)
}

func TestCareersPromotesJavaScriptShell(t *testing.T) {
	t.Parallel()

	shell := `<html><body><div id="root"></div><script src="/app.js"></script></body></html>`
	plain := newPageFetcher().page(acme.CareerURL, http.StatusOK, shell)
	rendered := newPageFetcher().page(acme.CareerURL, http.StatusOK,
		"<ul><li>Senior Backend Engineer - Austin, TX</li><li>Data Analyst | Remote</li></ul>")
	c := NewCareers(NewEgress(plain), NewEgress(rendered), nil, nil)

	contents, err := c.Fetch(context.Background(), acme)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	require.Equal(t, "Senior Backend Engineer - Austin, TX\nData Analyst | Remote", contents[0].Text)
	require.Len(t, rendered.calls(), 1)
}

func TestCareersWithoutRendererKeepsPlainPage(t *testing.T) {
	t.Parallel()

	f := newPageFetcher().page(acme.CareerURL, http.StatusOK, "<h3>We're hiring a Senior Data Engineer in Berlin.</h3>")
	c := NewCareers(NewEgress(f), nil, nil, nil)

	contents, err := c.Fetch(context.Background(), acme)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	require.Equal(t, "We're hiring a Senior Data Engineer in Berlin.", contents[0].Text)

	noCareers := acme
	noCareers.CareerURL = ""
	require.False(t, c.Supports(noCareers))
}

func TestHeuristicSkipsMissingPages(t *testing.T) {
	t.Parallel()

	f := newPageFetcher().page("https://acme.example.com/news", http.StatusOK,
		"<article><p>Acme Corp appoints Maria Lopez as Chief Financial Officer.</p></article>")
	h := NewHeuristic(DefaultHirePaths, NewEgress(f), nil)

	contents, err := h.Fetch(context.Background(), acme)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	require.Equal(t, "https://acme.example.com/news", contents[0].URL)
	require.Len(t, f.calls(), len(DefaultHirePaths))
}

func TestHeuristicStopsOnBlock(t *testing.T) {
	t.Parallel()

	f := newPageFetcher().page("https://acme.example.com/careers", http.StatusForbidden, "")
	h := NewHeuristic(DefaultJobPaths, NewEgress(f), nil)

	_, err := h.Fetch(context.Background(), acme)
	require.Error(t, err)
	require.Len(t, f.calls(), 1)
}

func TestHeuristicFailsWhenNothingReachable(t *testing.T) {
	t.Parallel()

	f := newPageFetcher()
	f.err = context.DeadlineExceeded
	h := NewHeuristic([]string{"/news"}, NewEgress(f), nil)

	_, err := h.Fetch(context.Background(), acme)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

const searchFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Search</title>
<item>
  <title>Acme Corp welcomes Jane Doe as VP of Engineering - Business Wire</title>
  <link>https://news.example.com/a</link>
  <pubDate>Mon, 05 Jan 2026 10:00:00 GMT</pubDate>
  <description><![CDATA[<a href="https://news.example.com/a">Acme Corp welcomes Jane Doe as VP of Engineering</a>&nbsp;&nbsp;<font color="#6f6f6f">Business Wire</font>]]></description>
</item>
<item>
  <title>Acme Corp names old hire</title>
  <link>https://news.example.com/old</link>
  <pubDate>Mon, 01 Dec 2025 10:00:00 GMT</pubDate>
</item>
<item>
  <title>Acme Corp names John Roe Chief Revenue Officer</title>
  <link>https://news.example.com/b</link>
</item>
</channel></rss>`

func TestSearchParsesRecentItems(t *testing.T) {
	t.Parallel()

	clock := fixedClock{t: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)}
	f := newPageFetcher()
	s := NewSearch(signals.DetectionHire, SearchConfig{
		BaseURL: "https://search.example.com/rss",
		MaxAge:  7 * 24 * time.Hour,
	}, NewEgress(f), clock)
	f.page(s.searchURL(acme.Name), http.StatusOK, searchFeed)

	contents, err := s.Fetch(context.Background(), acme)
	require.NoError(t, err)
	require.Len(t, contents, 2)

	first := strings.Split(contents[0].Text, "\n")
	require.Len(t, first, 2)
	require.Equal(t, "Acme Corp welcomes Jane Doe as VP of Engineering - Business Wire", first[0])
	require.Equal(t, "Acme Corp welcomes Jane Doe as VP of Engineering Business Wire", first[1])
	require.Equal(t, "https://news.example.com/a", contents[0].URL)
	require.NotNil(t, contents[0].PublishedAt)

	require.Equal(t, "Acme Corp names John Roe Chief Revenue Officer", contents[1].Text)
	require.Nil(t, contents[1].PublishedAt)

	query := f.calls()[0].URL
	require.True(t, strings.HasPrefix(query, "https://search.example.com/rss?"))
	require.Contains(t, query, "%22Acme+Corp%22")
	require.Contains(t, query, "ceid=US%3Aen")
}

func TestSearchRejectsGarbageFeed(t *testing.T) {
	t.Parallel()

	f := newPageFetcher()
	s := NewSearch(signals.DetectionJob, SearchConfig{BaseURL: "https://search.example.com/rss"}, NewEgress(f), fixedClock{t: time.Now()})
	f.page(s.searchURL(acme.Name), http.StatusOK, "definitely not a feed")

	_, err := s.Fetch(context.Background(), acme)
	require.Error(t, err)
}

func TestDetectBoard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url      string
		provider string
		token    string
		ok       bool
	}{
		{"https://boards.greenhouse.io/acme", "greenhouse", "acme", true},
		{"https://job-boards.greenhouse.io/acme/jobs/123", "greenhouse", "acme", true},
		{"https://boards.greenhouse.io/embed/job_board?for=acmeco", "greenhouse", "acmeco", true},
		{"https://jobs.lever.co/acme", "lever", "acme", true},
		{"https://acme.example.com/careers", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range tests {
		b, ok := detectBoard(tc.url)
		require.Equal(t, tc.ok, ok, tc.url)
		require.Equal(t, tc.provider, b.provider, tc.url)
		require.Equal(t, tc.token, b.token, tc.url)
	}
}

func TestAPIGreenhouse(t *testing.T) {
	t.Parallel()

	f := newPageFetcher().page("https://gh.example.com/v1/boards/acme/jobs", http.StatusOK, `{"jobs":[
		{"title":"Staff Software Engineer","absolute_url":"https://boards.greenhouse.io/acme/jobs/1",
		 "location":{"name":"Remote - US"},"updated_at":"2026-01-05T10:00:00-05:00"},
		{"title":"Account Executive","absolute_url":"https://boards.greenhouse.io/acme/jobs/2",
		 "location":{"name":"London"},"updated_at":"not a date"}]}`)
	a := NewAPI(APIConfig{GreenhouseURL: "https://gh.example.com/v1/boards"}, NewEgress(f))
	company := acme
	company.CareerURL = "https://boards.greenhouse.io/acme"

	require.True(t, a.Supports(company))
	contents, err := a.Fetch(context.Background(), company)
	require.NoError(t, err)
	require.Len(t, contents, 2)
	require.Equal(t, "Staff Software Engineer", contents[0].Fields[extract.FieldTitle])
	require.Equal(t, "Remote - US", contents[0].Fields[extract.FieldLocation])
	require.Equal(t, "https://boards.greenhouse.io/acme/jobs/1", contents[0].Fields[extract.FieldURL])
	require.NotNil(t, contents[0].PublishedAt)
	require.Nil(t, contents[1].PublishedAt)
	require.True(t, contents[0].Structured())
}

func TestAPILever(t *testing.T) {
	t.Parallel()

	f := newPageFetcher().page("https://lever.example.com/v0/postings/acme?mode=json", http.StatusOK, `[
		{"text":"Product Designer","hostedUrl":"https://jobs.lever.co/acme/1","createdAt":1767607200000,
		 "categories":{"location":"Berlin","team":"Design"}}]`)
	a := NewAPI(APIConfig{LeverURL: "https://lever.example.com/v0/postings", MaxPostings: 1}, NewEgress(f))
	company := acme
	company.CareerURL = "https://jobs.lever.co/acme"

	contents, err := a.Fetch(context.Background(), company)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	require.Equal(t, "Product Designer", contents[0].Fields[extract.FieldTitle])
	require.Equal(t, "Berlin", contents[0].Fields[extract.FieldLocation])
	require.Equal(t, time.UnixMilli(1767607200000).UTC(), *contents[0].PublishedAt)
}

func TestAPIUnsupportedCareerURL(t *testing.T) {
	t.Parallel()

	a := NewAPI(APIConfig{}, NewEgress(newPageFetcher()))
	require.False(t, a.Supports(acme))
	_, err := a.Fetch(context.Background(), acme)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestStrategiesAgainstEngine(t *testing.T) {
	t.Parallel()

	engine, err := extract.NewEngine(extract.Options{Clock: fixedClock{t: time.Now()}})
	require.NoError(t, err)

	f := newPageFetcher().page(acme.CareerURL, http.StatusOK, "<h3>We're hiring a Senior Data Engineer in Berlin.</h3>")
	chain := NewChain(signals.DetectionJob, []Strategy{
		NewSession(SessionConfig{}, NewEgress(f)),
		NewCareers(NewEgress(f), nil, nil, nil),
	}, ChainOptions{})

	res := chain.Run(context.Background(), acme, engine)
	require.Equal(t, StateValidated, res.State)
	require.Equal(t, CareersName, res.Winner)
	require.Len(t, res.Candidates, 1)
	require.Equal(t, "Senior Data Engineer", res.Candidates[0].Title)
	require.Equal(t, signals.SourceCareers, res.Candidates[0].Source)
	require.Equal(t, OutcomeUnsupported, res.Attempts[0].Outcome)
}
