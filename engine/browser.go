package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"runtime"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/magpielabs/magpie/config"
	"github.com/magpielabs/magpie/extract"
	"github.com/magpielabs/magpie/models"
)

// lazyLoadDelay gives lazy-loaded media a chance to enter the DOM after the
// document settles.
const lazyLoadDelay = 2 * time.Second

// BrowserScraper renders client-side pages in a shared headless browser.
//
// One browser process serves all workers. Each scrape opens its own page and
// closes it when done; the browser itself is torn down and relaunched after
// MaxPagesPerBrowser pages to bound Chromium's memory drift on long batches.
// The restart waits for in-flight pages to finish, and scrapes arriving
// during the drain block until the fresh process is up.
type BrowserScraper struct {
	cfg       config.ScraperConfig
	heapLowMB uint64

	mu          sync.Mutex
	cond        *sync.Cond
	browser     *rod.Browser
	launcher    *launcher.Launcher
	pagesServed int
	inFlight    int
	closed      bool
}

// NewBrowserScraper prepares the renderer without launching anything.
// The browser starts on the first scrape that needs it, so batches served
// entirely by the static path never pay for a Chromium process.
func NewBrowserScraper(cfg config.ScraperConfig, heapLowMB uint64) *BrowserScraper {
	b := &BrowserScraper{cfg: cfg, heapLowMB: heapLowMB}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Scrape renders the page and extracts media from the live DOM. Failures
// are reported in the result rather than returned, so the router can
// compare both paths uniformly.
func (b *BrowserScraper) Scrape(ctx context.Context, pageURL string) *models.ExtractionResult {
	res := &models.ExtractionResult{
		URL:         pageURL,
		Media:       []models.MediaItem{},
		ScraperUsed: models.ScraperDynamic,
	}

	// Rendering is the expensive path; collect first if the heap is
	// already near the budget.
	maybeGC(b.heapLowMB, "pre-render")

	browser, err := b.acquire()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer b.release()

	media, err := b.renderPage(ctx, browser, pageURL)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Success = true
	res.Media = media
	return res
}

// renderPage runs one full page lifecycle on the shared browser.
//
// Steps 3-6 must happen before Navigate: viewport, stealth JS and the
// hijack router only take effect for navigations that start after they
// are installed.
func (b *BrowserScraper) renderPage(ctx context.Context, browser *rod.Browser, pageURL string) ([]models.MediaItem, error) {
	// ── 1. Deadline guard ─────────────────────────────────────────────
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	// ── 2. Open page ──────────────────────────────────────────────────
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to open page",
			err,
		)
	}
	// Close on the ORIGINAL page reference so cleanup still succeeds
	// after the request context has expired.
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			slog.Warn("page close failed", "url", pageURL, "error", closeErr)
		}
	}()

	// ── 3. Viewport ───────────────────────────────────────────────────
	if vpErr := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             1280,
		Height:            720,
		DeviceScaleFactor: 1,
	}); vpErr != nil {
		slog.Warn("viewport override failed", "error", vpErr)
	}

	// ── 4. Stealth injection (before navigation) ──────────────────────
	if b.cfg.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth",
				"error", evalErr,
			)
		}
	}

	// ── 5. Referer header: look like a search-engine visit ────────────
	if u, parseErr := url.Parse(pageURL); parseErr == nil {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(map[string]string{
				"Referer": "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname()),
			}),
		}.Call(page)
	}

	// ── 6. Mount hijack router (before navigation) ────────────────────
	if b.cfg.DisableImages {
		router := setupHijack(page)
		defer func() { _ = router.Stop() }()
	}

	// ── 7. Bind deadline to page ──────────────────────────────────────
	p := page.Context(ctx)

	// ── 8. Navigate ───────────────────────────────────────────────────
	if navErr := p.Navigate(pageURL); navErr != nil {
		// A failed render can strand DOM allocations.
		runtime.GC()
		return nil, categorizeError(navErr, "navigation to target URL failed")
	}

	// ── 9. Wait strategy ──────────────────────────────────────────────
	// NOTE: WaitRequestIdle uses the Fetch domain which conflicts with
	// HijackRequests on Chromium 145+. WaitDOMStable avoids that.
	if stableErr := p.WaitDOMStable(300*time.Millisecond, 0.1); stableErr != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM",
			"error", stableErr,
		)
	}

	// ── 10. Lazy-load grace ───────────────────────────────────────────
	select {
	case <-time.After(lazyLoadDelay):
	case <-ctx.Done():
		return nil, categorizeError(ctx.Err(), "deadline hit during lazy-load wait")
	}

	// ── 11. Collect raw candidates from the live DOM ──────────────────
	obj, evalErr := p.Eval(collectMediaJS)
	if evalErr != nil {
		return nil, categorizeError(evalErr, "media collection script failed")
	}
	raw := obj.Value.Arr()
	cands := make([]extract.Candidate, 0, len(raw))
	for _, el := range raw {
		cands = append(cands, extract.Candidate{
			URL:   el.Get("url").Str(),
			Type:  models.MediaType(el.Get("type").Str()),
			Title: el.Get("title").Str(),
		})
	}

	// ── 12. Resolve against the final URL (redirects may have moved us) ─
	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = pageURL
	}
	return extract.Normalize(finalURL, cands), nil
}

// collectMediaJS gathers raw media references from the rendered DOM. It
// mirrors the static extractor's source set (img src with data-src fallback,
// every srcset entry, video src and descendant <source>, og:image and
// og:video). Resolution, filtering and dedup happen Go-side in
// extract.Normalize so both paths share one rule set.
const collectMediaJS = `() => {
	const out = [];
	const pageTitle = document.title || '';
	const push = (url, type, title) => {
		if (url) out.push({ url: url, type: type, title: title || pageTitle });
	};
	document.querySelectorAll('img').forEach(img => {
		const alt = img.getAttribute('alt') || '';
		const src = img.getAttribute('src');
		push(src || img.getAttribute('data-src'), 'image', alt);
		const srcset = img.getAttribute('srcset');
		if (srcset) {
			for (const entry of srcset.split(',')) {
				push(entry.trim().split(/\s+/)[0], 'image', alt);
			}
		}
	});
	document.querySelectorAll('video').forEach(v => {
		push(v.getAttribute('src'), 'video', '');
		v.querySelectorAll('source').forEach(s => push(s.getAttribute('src'), 'video', ''));
	});
	document.querySelectorAll('meta[property="og:image"], meta[property="og:video"]').forEach(m => {
		const type = m.getAttribute('property') === 'og:video' ? 'video' : 'image';
		push(m.getAttribute('content'), type, '');
	});
	return out;
}`

// acquire hands out the shared browser, launching it on first use and
// recycling it once it has served MaxPagesPerBrowser pages. Recycling waits
// for in-flight pages to finish; new arrivals block on the same condition,
// so the counter reset happens exactly once per cycle.
func (b *BrowserScraper) acquire() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for !b.closed && b.pagesServed >= b.cfg.MaxPagesPerBrowser && b.inFlight > 0 {
		b.cond.Wait()
	}
	if b.closed {
		return nil, errors.New("engine: browser scraper is closed")
	}
	if b.pagesServed >= b.cfg.MaxPagesPerBrowser {
		slog.Info("recycling browser", "pagesServed", b.pagesServed)
		b.teardownLocked()
	}
	if b.browser == nil {
		if err := b.launchLocked(); err != nil {
			return nil, err
		}
	}
	b.pagesServed++
	b.inFlight++
	return b.browser, nil
}

// release marks one page lifecycle finished and wakes any scrape blocked on
// a pending recycle.
func (b *BrowserScraper) release() {
	b.mu.Lock()
	b.inFlight--
	b.cond.Broadcast()
	b.mu.Unlock()
}

// launchLocked starts a Chromium process sized for a small container.
// Caller holds b.mu.
func (b *BrowserScraper) launchLocked() error {
	l := launcher.New().
		Headless(b.cfg.Headless).
		NoSandbox(true)

	// Container survival flags: one small process tree, no /dev/shm.
	l.Set(flags.Flag("disable-gpu"))
	l.Set(flags.Flag("single-process"))
	l.Set(flags.Flag("no-zygote"))
	l.Set(flags.Flag("disable-dev-shm-usage"))

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to launch browser",
			err,
		)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}
	slog.Info("browser launched",
		"controlURL", controlURL,
		"maxPages", b.cfg.MaxPagesPerBrowser,
	)

	b.browser = browser
	b.launcher = l
	b.pagesServed = 0
	return nil
}

// teardownLocked closes the current browser process. Caller holds b.mu and
// has verified no pages are in flight.
func (b *BrowserScraper) teardownLocked() {
	if b.browser == nil {
		return
	}
	if err := b.browser.Close(); err != nil {
		slog.Warn("browser close failed", "error", err)
	}
	if b.launcher != nil {
		b.launcher.Cleanup()
	}
	b.browser = nil
	b.launcher = nil
	b.pagesServed = 0
}

// Close tears down the browser for good. Workers are drained before this is
// called during shutdown, so no scrape should be in flight.
func (b *BrowserScraper) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.teardownLocked()
	b.cond.Broadcast()
	slog.Info("browser scraper shut down")
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors (useful for optional metadata extraction).
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeError wraps raw errors into typed ScrapeErrors so failure
// messages carry a stable code.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "scrape canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}

// maybeGC triggers a collection when the live heap exceeds limitMB.
func maybeGC(limitMB uint64, where string) {
	if limitMB == 0 {
		return
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapMB := ms.HeapAlloc >> 20
	if heapMB > limitMB {
		slog.Info("heap above threshold, forcing gc",
			"where", where,
			"heapMb", heapMB,
			"limitMb", limitMB,
		)
		runtime.GC()
	}
}
