package strategy

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/JakeFAU/signal-scanner/internal/fetcher"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// pageContent converts a fetched HTML page into one RawContent whose text
// holds a readable block per line.
func pageContent(resp fetcher.Response) (signals.RawContent, bool, error) {
	text, err := fetcher.Text(resp.Body)
	if err != nil {
		return signals.RawContent{}, false, eris.Wrapf(err, "extract text from %s", resp.URL)
	}
	if strings.TrimSpace(text) == "" {
		return signals.RawContent{}, false, nil
	}
	return signals.RawContent{Text: text, URL: resp.URL}, true, nil
}

// joinURL resolves path against base, keeping base's scheme and host.
func joinURL(base, path string) (string, error) {
	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil || b.Host == "" {
		return "", eris.Errorf("invalid base url %q", base)
	}
	if b.Scheme == "" {
		b.Scheme = "https"
	}
	if strings.TrimSpace(path) == "" {
		return b.String(), nil
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", eris.Wrapf(err, "invalid path %q", path)
	}
	if !strings.HasPrefix(path, "/") {
		b.Path = strings.TrimSuffix(b.Path, "/") + "/"
	}
	return b.ResolveReference(ref).String(), nil
}
