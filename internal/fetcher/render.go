package fetcher

import (
	"bytes"
	"net/http"
	"strings"
)

// RenderDetector decides when a plain HTTP fetch returned a JavaScript shell
// that needs a headless render to show any content.
type RenderDetector struct {
	BodyLengthThreshold int
}

// NewRenderDetector creates a detector. A zero threshold defaults to 2048 bytes.
func NewRenderDetector(threshold int) *RenderDetector {
	if threshold == 0 {
		threshold = 2048
	}
	return &RenderDetector{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("enable javascript"),
}

// NeedsRender reports whether resp looks like an unrendered single page app.
func (d *RenderDetector) NeedsRender(resp Response) bool {
	if resp.Rendered || resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < d.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, bytes.ToLower(marker)) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
