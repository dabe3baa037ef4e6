package engine

import (
	"context"
	"log/slog"

	"github.com/magpielabs/magpie/models"
)

// Scraper produces an extraction result for one page URL. Implementations
// never return an error; failures are encoded in the result so callers can
// compare outcomes across paths.
type Scraper interface {
	Scrape(ctx context.Context, pageURL string) *models.ExtractionResult
}

// Router tries the cheap static path first and escalates to the renderer
// only when the static yield looks like a client-rendered page.
type Router struct {
	static         Scraper
	dynamic        Scraper
	minStaticMedia int
}

// NewRouter wires the two extraction paths together. minStaticMedia is the
// static media count below which the renderer is consulted.
func NewRouter(static, dynamic Scraper, minStaticMedia int) *Router {
	return &Router{static: static, dynamic: dynamic, minStaticMedia: minStaticMedia}
}

// Extract runs the routing policy:
//
//  1. Run the static path.
//  2. If it succeeded with enough media, return it — no browser involved.
//  3. Otherwise run the renderer and keep its result only when it succeeded
//     AND found strictly more media than the static pass.
//  4. In every other case the static result stands, including static
//     failures: a broken renderer never masks the original error.
func (r *Router) Extract(ctx context.Context, pageURL string) *models.ExtractionResult {
	staticRes := r.static.Scrape(ctx, pageURL)
	if staticRes.Success && len(staticRes.Media) >= r.minStaticMedia {
		return staticRes
	}

	slog.Debug("static yield below threshold, trying renderer",
		"url", pageURL,
		"staticMedia", len(staticRes.Media),
		"staticSuccess", staticRes.Success,
	)

	dynRes := r.renderSafely(ctx, pageURL)
	if dynRes != nil && dynRes.Success && len(dynRes.Media) > len(staticRes.Media) {
		return dynRes
	}
	if dynRes != nil && !dynRes.Success {
		slog.Warn("renderer fallback failed, keeping static result",
			"url", pageURL,
			"error", dynRes.Error,
		)
	}
	return staticRes
}

// renderSafely shields the router from renderer panics. rod surfaces some
// internal failures as panics; a crashed render counts as no result.
func (r *Router) renderSafely(ctx context.Context, pageURL string) (res *models.ExtractionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("renderer panicked", "url", pageURL, "panic", rec)
			res = nil
		}
	}()
	return r.dynamic.Scrape(ctx, pageURL)
}
