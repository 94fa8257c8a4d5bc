package strategy

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/JakeFAU/signal-scanner/internal/extract"
	"github.com/JakeFAU/signal-scanner/internal/fetcher"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// APIName is the registry name of the structured job board strategy.
const APIName = "api"

// Public job board API endpoints.
const (
	DefaultGreenhouseURL = "https://boards-api.greenhouse.io/v1/boards"
	DefaultLeverURL      = "https://api.lever.co/v0/postings"
)

// APIConfig configures the job board strategy.
type APIConfig struct {
	GreenhouseURL string
	LeverURL      string
	MaxPostings   int
}

type board struct {
	provider string
	token    string
}

// API reads open roles from the public JSON APIs of hosted job boards
// (Greenhouse, Lever) when the company's career URL points at one.
type API struct {
	cfg    APIConfig
	egress *Egress
}

// NewAPI builds the strategy.
func NewAPI(cfg APIConfig, egress *Egress) *API {
	if cfg.GreenhouseURL == "" {
		cfg.GreenhouseURL = DefaultGreenhouseURL
	}
	if cfg.LeverURL == "" {
		cfg.LeverURL = DefaultLeverURL
	}
	if cfg.MaxPostings <= 0 {
		cfg.MaxPostings = 200
	}
	return &API{cfg: cfg, egress: egress}
}

// Name implements Strategy.
func (a *API) Name() string { return APIName }

// Source implements Strategy.
func (a *API) Source() signals.SourceTag { return signals.SourceAPI }

// Supports requires a career URL hosted on a known job board.
func (a *API) Supports(company signals.Company) bool {
	_, ok := detectBoard(company.CareerURL)
	return ok
}

// Fetch returns one structured record per posting.
func (a *API) Fetch(ctx context.Context, company signals.Company) ([]signals.RawContent, error) {
	b, ok := detectBoard(company.CareerURL)
	if !ok {
		return nil, eris.Wrapf(ErrUnsupported, "%s career url is not a known job board", company.Name)
	}
	var endpoint string
	switch b.provider {
	case "greenhouse":
		endpoint = a.cfg.GreenhouseURL + "/" + url.PathEscape(b.token) + "/jobs"
	default:
		endpoint = a.cfg.LeverURL + "/" + url.PathEscape(b.token) + "?mode=json"
	}
	resp, err := a.egress.Get(ctx, fetcher.Request{
		URL:     endpoint,
		Headers: map[string][]string{"Accept": {"application/json"}},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "%s api %s", b.provider, b.token)
	}

	var contents []signals.RawContent
	if b.provider == "greenhouse" {
		contents, err = parseGreenhouse(resp.Body)
	} else {
		contents, err = parseLever(resp.Body)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "decode %s postings for %s", b.provider, company.Name)
	}
	if len(contents) > a.cfg.MaxPostings {
		contents = contents[:a.cfg.MaxPostings]
	}
	return contents, nil
}

// detectBoard recognises boards.greenhouse.io/<token>,
// job-boards.greenhouse.io/<token>, the embed form ?for=<token>, and
// jobs.lever.co/<token>.
func detectBoard(careerURL string) (board, bool) {
	if careerURL == "" {
		return board{}, false
	}
	u, err := url.Parse(careerURL)
	if err != nil {
		return board{}, false
	}
	host := strings.ToLower(u.Hostname())
	segment := strings.Split(strings.Trim(u.Path, "/"), "/")[0]
	switch host {
	case "boards.greenhouse.io", "job-boards.greenhouse.io":
		if token := u.Query().Get("for"); token != "" {
			return board{provider: "greenhouse", token: token}, true
		}
		if segment != "" && segment != "embed" {
			return board{provider: "greenhouse", token: segment}, true
		}
	case "jobs.lever.co":
		if segment != "" {
			return board{provider: "lever", token: segment}, true
		}
	}
	return board{}, false
}

type greenhouseResponse struct {
	Jobs []struct {
		Title    string `json:"title"`
		URL      string `json:"absolute_url"`
		Location struct {
			Name string `json:"name"`
		} `json:"location"`
		UpdatedAt string `json:"updated_at"`
	} `json:"jobs"`
}

func parseGreenhouse(body []byte) ([]signals.RawContent, error) {
	var payload greenhouseResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	out := make([]signals.RawContent, 0, len(payload.Jobs))
	for _, job := range payload.Jobs {
		content := signals.RawContent{
			URL: job.URL,
			Fields: map[string]string{
				extract.FieldTitle:    job.Title,
				extract.FieldLocation: job.Location.Name,
				extract.FieldURL:      job.URL,
			},
		}
		if t, err := time.Parse(time.RFC3339, job.UpdatedAt); err == nil {
			content.PublishedAt = &t
		}
		out = append(out, content)
	}
	return out, nil
}

type leverPosting struct {
	Text       string `json:"text"`
	HostedURL  string `json:"hostedUrl"`
	CreatedAt  int64  `json:"createdAt"`
	Categories struct {
		Location string `json:"location"`
		Team     string `json:"team"`
	} `json:"categories"`
}

func parseLever(body []byte) ([]signals.RawContent, error) {
	var postings []leverPosting
	if err := json.Unmarshal(body, &postings); err != nil {
		return nil, err
	}
	out := make([]signals.RawContent, 0, len(postings))
	for _, p := range postings {
		content := signals.RawContent{
			URL: p.HostedURL,
			Fields: map[string]string{
				extract.FieldTitle:    p.Text,
				extract.FieldLocation: p.Categories.Location,
				extract.FieldURL:      p.HostedURL,
			},
		}
		if p.CreatedAt > 0 {
			t := time.UnixMilli(p.CreatedAt).UTC()
			content.PublishedAt = &t
		}
		out = append(out, content)
	}
	return out, nil
}
