package strategy

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"

	"github.com/JakeFAU/signal-scanner/internal/fetcher"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// SearchName is the registry name of the public news search strategy.
const SearchName = "search"

// DefaultSearchURL is the Google News RSS search endpoint.
const DefaultSearchURL = "https://news.google.com/rss/search"

// Default query templates. %s is replaced by the quoted company name.
const (
	DefaultHireQuery = `%s (appointed OR joins OR "welcomes" OR "named" OR "new chief")`
	DefaultJobQuery  = `%s ("hiring" OR "job opening" OR "now hiring")`
)

// SearchConfig configures the news search strategy.
type SearchConfig struct {
	BaseURL  string
	Query    string
	Language string
	Region   string
	MaxAge   time.Duration
	MaxItems int
}

// Search queries a public news search feed for the company and returns one
// RawContent per recent item.
type Search struct {
	cfg    SearchConfig
	egress *Egress
	clock  signals.Clock
	parser *gofeed.Parser
}

// NewSearch builds the strategy for kind.
func NewSearch(kind signals.DetectionType, cfg SearchConfig, egress *Egress, clock signals.Clock) *Search {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSearchURL
	}
	if cfg.Query == "" {
		cfg.Query = DefaultJobQuery
		if kind == signals.DetectionHire {
			cfg.Query = DefaultHireQuery
		}
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.Region == "" {
		cfg.Region = "US"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 14 * 24 * time.Hour
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 25
	}
	return &Search{cfg: cfg, egress: egress, clock: clock, parser: gofeed.NewParser()}
}

// Name implements Strategy.
func (s *Search) Name() string { return SearchName }

// Source implements Strategy.
func (s *Search) Source() signals.SourceTag { return signals.SourceSearch }

// Supports accepts any named company.
func (s *Search) Supports(company signals.Company) bool {
	return strings.TrimSpace(company.Name) != ""
}

// Fetch runs the search and converts recent feed items into content.
func (s *Search) Fetch(ctx context.Context, company signals.Company) ([]signals.RawContent, error) {
	target := s.searchURL(company.Name)
	resp, err := s.egress.Get(ctx, fetcher.Request{
		URL:     target,
		Headers: map[string][]string{"Accept": {"application/rss+xml, application/xml;q=0.9, */*;q=0.1"}},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "search %s", company.Name)
	}
	feed, err := s.parser.ParseString(string(resp.Body))
	if err != nil {
		return nil, eris.Wrapf(err, "parse search feed for %s", company.Name)
	}

	cutoff := s.clock.Now().Add(-s.cfg.MaxAge)
	var out []signals.RawContent
	for _, item := range feed.Items {
		if len(out) >= s.cfg.MaxItems {
			break
		}
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if published != nil && published.Before(cutoff) {
			continue
		}
		text := itemText(item)
		if text == "" {
			continue
		}
		out = append(out, signals.RawContent{
			Text:        text,
			URL:         strings.TrimSpace(item.Link),
			PublishedAt: published,
		})
	}
	return out, nil
}

func (s *Search) searchURL(company string) string {
	lang := s.cfg.Language
	if i := strings.IndexByte(lang, '-'); i > 0 {
		lang = lang[:i]
	}
	q := url.Values{}
	q.Set("q", fmt.Sprintf(s.cfg.Query, `"`+company+`"`))
	q.Set("hl", s.cfg.Language)
	q.Set("gl", s.cfg.Region)
	q.Set("ceid", s.cfg.Region+":"+lang)
	return s.cfg.BaseURL + "?" + q.Encode()
}

// itemText puts the headline and the plain-text summary on separate lines.
func itemText(item *gofeed.Item) string {
	title := strings.Join(strings.Fields(item.Title), " ")
	desc := item.Description
	if desc == "" {
		desc = item.Content
	}
	summary := plainText(desc)
	switch {
	case summary == "" || summary == title:
		return title
	case title == "":
		return summary
	default:
		return title + "\n" + summary
	}
}

func plainText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
