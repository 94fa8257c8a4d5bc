package strategy

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/JakeFAU/signal-scanner/internal/fetcher"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// HeuristicName is the registry name of the website heuristic strategy.
const HeuristicName = "heuristic"

// DefaultHirePaths are the website pages most likely to announce new hires.
var DefaultHirePaths = []string{"/news", "/press", "/newsroom", "/blog", "/about/team"}

// DefaultJobPaths are the website pages most likely to list open roles.
var DefaultJobPaths = []string{"/careers", "/jobs", "/join-us"}

// Heuristic scans a handful of conventional pages on the company website
// without authentication. It is the least trusted source.
type Heuristic struct {
	paths  []string
	egress *Egress
	logger *zap.Logger
}

// NewHeuristic builds the strategy over paths.
func NewHeuristic(paths []string, egress *Egress, logger *zap.Logger) *Heuristic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heuristic{paths: paths, egress: egress, logger: logger}
}

// Name implements Strategy.
func (h *Heuristic) Name() string { return HeuristicName }

// Source implements Strategy.
func (h *Heuristic) Source() signals.SourceTag { return signals.SourceHeuristic }

// Supports requires a website.
func (h *Heuristic) Supports(company signals.Company) bool {
	return company.Website != "" && len(h.paths) > 0
}

// Fetch visits each path in turn. Missing pages are skipped; the strategy
// fails only when no page could be read at all.
func (h *Heuristic) Fetch(ctx context.Context, company signals.Company) ([]signals.RawContent, error) {
	if !h.Supports(company) {
		return nil, eris.Wrapf(ErrUnsupported, "%s has no website", company.Name)
	}
	var (
		contents []signals.RawContent
		lastErr  error
		reached  int
	)
	for _, path := range h.paths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		target, err := joinURL(company.Website, path)
		if err != nil {
			return nil, err
		}
		resp, err := h.egress.Get(ctx, fetcher.Request{URL: target})
		var status *fetcher.StatusError
		switch {
		case errors.As(err, &status):
			reached++
			continue
		case errors.Is(err, fetcher.ErrBlocked):
			// The rest of the site will block us too.
			return nil, eris.Wrapf(err, "heuristic fetch %s", target)
		case err != nil:
			lastErr = err
			h.logger.Debug("heuristic page failed", zap.String("url", target), zap.Error(err))
			continue
		}
		reached++
		content, ok, err := pageContent(resp)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			contents = append(contents, content)
		}
	}
	if reached == 0 && lastErr != nil {
		return nil, eris.Wrapf(lastErr, "heuristic: no page reachable on %s", company.Website)
	}
	return contents, nil
}
