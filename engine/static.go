// Package engine implements the two extraction paths (plain HTTP fetch and
// headless-browser render) and the router that picks between them.
package engine

import (
	"context"
	"time"

	"github.com/magpielabs/magpie/extract"
	"github.com/magpielabs/magpie/models"
)

// StaticScraper extracts media from server-rendered pages via a plain GET.
type StaticScraper struct {
	http    *HTTPEngine
	timeout time.Duration
}

// NewStaticScraper builds the static extraction path.
func NewStaticScraper(http *HTTPEngine, timeout time.Duration) *StaticScraper {
	return &StaticScraper{http: http, timeout: timeout}
}

// Scrape fetches the page and extracts media from its HTML. Failures are
// reported in the result rather than returned, so the router can compare
// both paths uniformly.
func (s *StaticScraper) Scrape(ctx context.Context, pageURL string) *models.ExtractionResult {
	res := &models.ExtractionResult{
		URL:         pageURL,
		Media:       []models.MediaItem{},
		ScraperUsed: models.ScraperStatic,
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fetched, err := s.http.Fetch(ctx, pageURL)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	// Resolve relative references against the post-redirect URL, not the
	// one submitted; that is where the markup actually lives.
	media, err := extract.FromHTML(fetched.HTML, fetched.FinalURL)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Success = true
	res.Media = media
	return res
}
