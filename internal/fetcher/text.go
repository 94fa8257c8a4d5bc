package fetcher

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const textSelectors = "h1, h2, h3, h4, p, li, article, blockquote, td, a[href*='job'], a[href*='career'], a[href*='position']"

// TextBlocks extracts readable, de-duplicated text lines from an HTML page.
// Nested matches (a paragraph inside an article) produce one line each, so
// the innermost block is always present on its own.
func TextBlocks(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, nav, footer, svg, form").Remove()

	seen := make(map[string]struct{})
	var out []string
	doc.Find(textSelectors).Each(func(_ int, s *goquery.Selection) {
		if s.Is("article") && s.Find("p, li, h1, h2, h3, h4").Length() > 0 {
			return
		}
		line := strings.Join(strings.Fields(s.Text()), " ")
		if len(line) < 3 {
			return
		}
		if _, dup := seen[line]; dup {
			return
		}
		seen[line] = struct{}{}
		out = append(out, line)
	})
	return out, nil
}

// Text joins TextBlocks with newlines.
func Text(body []byte) (string, error) {
	blocks, err := TextBlocks(body)
	if err != nil {
		return "", err
	}
	return strings.Join(blocks, "\n"), nil
}
