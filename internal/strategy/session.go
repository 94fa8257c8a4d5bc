package strategy

import (
	"context"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/JakeFAU/signal-scanner/internal/fetcher"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// SessionName is the registry name of the authenticated session strategy.
const SessionName = "session"

// SessionConfig configures the authenticated session strategy.
type SessionConfig struct {
	// Cookie is the raw Cookie header of a logged-in session.
	Cookie string
	// Path is appended to the company's profile URL, for example "/jobs/".
	Path string
}

// Session scrapes a company's public profile page with an authenticated
// browser session. It is the most reliable source and the most expensive.
type Session struct {
	cfg    SessionConfig
	egress *Egress
}

// NewSession builds the strategy. The egress should wrap a headless fetcher.
func NewSession(cfg SessionConfig, egress *Egress) *Session {
	return &Session{cfg: cfg, egress: egress}
}

// Egress returns the egress the strategy fetches through.
func (s *Session) Egress() *Egress {
	return s.egress
}

// Name implements Strategy.
func (s *Session) Name() string { return SessionName }

// Source implements Strategy.
func (s *Session) Source() signals.SourceTag { return signals.SourceSession }

// Supports requires a profile URL and a configured session.
func (s *Session) Supports(company signals.Company) bool {
	return company.ProfileURL != "" && strings.TrimSpace(s.cfg.Cookie) != ""
}

// Fetch renders the profile page and returns its text.
func (s *Session) Fetch(ctx context.Context, company signals.Company) ([]signals.RawContent, error) {
	if !s.Supports(company) {
		return nil, eris.Wrapf(ErrUnsupported, "%s has no profile url or session", company.Name)
	}
	target, err := joinURL(company.ProfileURL, s.cfg.Path)
	if err != nil {
		return nil, err
	}
	resp, err := s.egress.Get(ctx, fetcher.Request{
		URL:     target,
		Headers: http.Header{"Cookie": {s.cfg.Cookie}},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "session fetch %s", target)
	}
	content, ok, err := pageContent(resp)
	if err != nil || !ok {
		return nil, err
	}
	return []signals.RawContent{content}, nil
}
