package render

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy decides from static page features whether a fetched page likely
// depends on JavaScript to produce its real content. It is a pure
// classification: the worker loop never changes when the heuristic evolves.
type Strategy interface {
	NeedsRendering(pageURL, contentType string, htmlBytes []byte) bool
}

// Framework and dynamic-content markers commonly left in server-delivered
// shells of JS-driven sites.
var frameworkMarkers = []string{
	"data-reactroot",
	"window.__initial_state__",
	"window.__preloaded_state__",
	"ng-app",
	"v-app",
	"x-data",
	`id="app"`,
	`id="root"`,
	`id="__next"`,
}

var scriptTagRe = regexp.MustCompile(`(?i)<script[^>]*>`)

// MarkerHeuristic flags pages that are either a recognizable framework
// shell, or script-heavy markup with almost no visible text.
type MarkerHeuristic struct {
	// MinVisibleText is the visible-text length below which a page with
	// script tags is considered dynamically loaded.
	MinVisibleText int
}

// NewMarkerHeuristic creates a MarkerHeuristic with the default threshold.
func NewMarkerHeuristic() *MarkerHeuristic {
	return &MarkerHeuristic{MinVisibleText: 100}
}

// NeedsRendering implements Strategy.
func (h *MarkerHeuristic) NeedsRendering(pageURL, contentType string, htmlBytes []byte) bool {
	ct := strings.ToLower(contentType)
	if ct != "" && !strings.HasPrefix(ct, "text/html") && !strings.HasPrefix(ct, "application/xhtml+xml") {
		return false
	}

	htmlLower := strings.ToLower(string(htmlBytes))
	for _, marker := range frameworkMarkers {
		if strings.Contains(htmlLower, marker) {
			return true
		}
	}

	if !scriptTagRe.MatchString(htmlLower) {
		return false // No scripts at all: nothing JavaScript could add
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		return false // Unparseable pages fall back to static handling
	}
	doc.Find("script, style, noscript").Remove()
	visible := strings.TrimSpace(doc.Text())
	return len(visible) < h.MinVisibleText
}
