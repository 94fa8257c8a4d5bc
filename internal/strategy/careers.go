package strategy

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/JakeFAU/signal-scanner/internal/fetcher"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// CareersName is the registry name of the career page strategy.
const CareersName = "careers"

// RenderDetector decides when a fetched page must be rendered in a browser.
type RenderDetector interface {
	NeedsRender(resp fetcher.Response) bool
}

// Careers fetches the company's career page over plain HTTP and promotes it
// to a headless render when the page turns out to be a JavaScript shell.
type Careers struct {
	egress   *Egress
	renderer *Egress
	detector RenderDetector
	logger   *zap.Logger
}

// NewCareers builds the strategy. renderer may be nil to disable promotion.
func NewCareers(egress, renderer *Egress, detector RenderDetector, logger *zap.Logger) *Careers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if detector == nil {
		detector = fetcher.NewRenderDetector(0)
	}
	return &Careers{egress: egress, renderer: renderer, detector: detector, logger: logger}
}

// Name implements Strategy.
func (c *Careers) Name() string { return CareersName }

// Source implements Strategy.
func (c *Careers) Source() signals.SourceTag { return signals.SourceCareers }

// Supports requires a career page URL.
func (c *Careers) Supports(company signals.Company) bool {
	return company.CareerURL != ""
}

// Fetch returns the text of the career page.
func (c *Careers) Fetch(ctx context.Context, company signals.Company) ([]signals.RawContent, error) {
	if !c.Supports(company) {
		return nil, eris.Wrapf(ErrUnsupported, "%s has no career url", company.Name)
	}
	req := fetcher.Request{URL: company.CareerURL}
	resp, err := c.egress.Get(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "careers fetch %s", company.CareerURL)
	}
	if c.renderer != nil && c.detector.NeedsRender(resp) {
		c.logger.Debug("promoting career page to headless render",
			zap.String("company", company.Name),
			zap.String("url", company.CareerURL))
		resp, err = c.renderer.Get(ctx, req)
		if err != nil {
			return nil, eris.Wrapf(err, "careers render %s", company.CareerURL)
		}
	}
	content, ok, err := pageContent(resp)
	if err != nil || !ok {
		return nil, err
	}
	return []signals.RawContent{content}, nil
}
