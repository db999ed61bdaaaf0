package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"site-mapper/pkg/utils"
)

// LinkExtractor returns candidate URLs found in a page, exactly as written
// in the markup (absolute or relative). Resolving them against the base URL
// and deciding whether they are crawlable is the engine's job, not the
// extractor's.
type LinkExtractor interface {
	ExtractLinks(baseURL string, htmlBytes []byte, contentType string) ([]string, error)
}

// GoqueryExtractor extracts anchor hrefs with goquery. Stateless.
type GoqueryExtractor struct {
	respectNofollow bool
	log             *logrus.Entry
}

// NewGoqueryExtractor creates a GoqueryExtractor.
func NewGoqueryExtractor(respectNofollow bool, log *logrus.Entry) *GoqueryExtractor {
	return &GoqueryExtractor{respectNofollow: respectNofollow, log: log}
}

// ExtractLinks implements LinkExtractor. Non-HTML content yields no links
// rather than an error; a parse failure is reported so the caller can log
// it and treat the page as link-free.
func (e *GoqueryExtractor) ExtractLinks(baseURL string, htmlBytes []byte, contentType string) ([]string, error) {
	ct := strings.ToLower(contentType)
	if ct != "" && !strings.HasPrefix(ct, "text/html") && !strings.HasPrefix(ct, "application/xhtml+xml") {
		e.log.WithFields(logrus.Fields{"url": baseURL, "content_type": contentType}).Debug("Skipping link extraction for non-HTML content")
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing HTML from '%s': %w", utils.ErrParsing, baseURL, err)
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, exists := sel.Attr("href")
		if !exists || strings.TrimSpace(href) == "" {
			return
		}
		if e.respectNofollow {
			if rel, _ := sel.Attr("rel"); strings.Contains(strings.ToLower(rel), "nofollow") {
				return
			}
		}
		links = append(links, strings.TrimSpace(href))
	})

	return links, nil
}
