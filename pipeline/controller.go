// Package pipeline connects submissions, queue workers, progress tracking
// and resource backpressure into the scrape flow.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/magpielabs/magpie/cache"
	"github.com/magpielabs/magpie/config"
	"github.com/magpielabs/magpie/models"
	"github.com/magpielabs/magpie/queue"
)

// JobStore is the slice of the relational store the controller needs.
type JobStore interface {
	CreateJob(ctx context.Context, userID *int64, urls []string) (*models.Job, error)
	MarkJobProcessing(ctx context.Context, jobID int64) error
	MarkJobTerminal(ctx context.Context, jobID int64, status models.JobStatus, at time.Time) error
	GetJob(ctx context.Context, jobID int64) (*models.Job, error)
	InsertMediaBatch(ctx context.Context, jobID int64, sourceURL string, items []models.MediaItem) (int64, error)
	CountMediaForJob(ctx context.Context, jobID int64) (int64, error)
}

// Extractor produces the final media list for one page URL.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) *models.ExtractionResult
}

// Enqueuer is the submission side of the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, p queue.Payload, opts queue.EnqueueOptions) (int64, error)
}

// Notifier is told about terminal job transitions (webhook delivery).
// Implementations must return quickly; delivery happens elsewhere.
type Notifier interface {
	JobFinished(jobID int64, status models.JobStatus, totalURLs int, mediaFound int64)
}

// Controller owns the scrape pipeline: it turns submissions into queue
// items, handles leased items, and folds per-URL outcomes into job status.
type Controller struct {
	store    JobStore
	cache    *cache.Cache
	router   Extractor
	queue    Enqueuer
	tracker  *Tracker
	notifier Notifier
	cfg      *config.Config
}

// NewController wires the pipeline. notifier may be nil.
func NewController(store JobStore, cch *cache.Cache, router Extractor, q Enqueuer, notifier Notifier, cfg *config.Config) *Controller {
	return &Controller{
		store:    store,
		cache:    cch,
		router:   router,
		queue:    q,
		tracker:  NewTracker(),
		notifier: notifier,
		cfg:      cfg,
	}
}

// Tracker exposes the progress tracker (health introspection).
func (c *Controller) Tracker() *Tracker {
	return c.tracker
}

// EnqueueJob registers a batch submission: de-duplicate the URLs in order,
// insert a pending job, then push one queue item per URL. Submissions use
// the current timestamp as priority with LIFO tie-breaking, so the newest
// batch drains first instead of queueing behind a large backlog.
func (c *Controller) EnqueueJob(ctx context.Context, userID *int64, urls []string) (*models.ScrapeAccepted, error) {
	unique, removed := dedupInOrder(urls)

	job, err := c.store.CreateJob(ctx, userID, unique)
	if err != nil {
		return nil, err
	}

	priority := time.Now().UnixMilli()
	for _, u := range unique {
		_, err := c.queue.Enqueue(ctx, queue.Payload{JobID: job.ID, URL: u}, queue.EnqueueOptions{
			Priority: priority,
			LIFO:     true,
		})
		if err != nil {
			// Without its queue items the job can never make progress.
			if markErr := c.store.MarkJobTerminal(ctx, job.ID, models.JobFailed, time.Now()); markErr != nil {
				slog.Error("failed to mark job failed after enqueue error",
					"jobId", job.ID, "error", markErr)
			}
			return nil, err
		}
	}

	slog.Info("job submitted",
		"jobId", job.ID,
		"urls", len(unique),
		"duplicatesRemoved", removed,
	)
	return &models.ScrapeAccepted{
		JobID:             job.ID,
		Status:            job.Status,
		TotalURLs:         len(unique),
		DuplicatesRemoved: removed,
		CreatedAt:         job.CreatedAt,
	}, nil
}

// HandleItem is the queue handler: scrape one URL for one job. Returning an
// error fails the attempt and lets the queue retry under backoff.
func (c *Controller) HandleItem(ctx context.Context, item *queue.Item) error {
	// ── 1. Job to processing (idempotent) ─────────────────────────────
	if err := c.store.MarkJobProcessing(ctx, item.JobID); err != nil {
		return err
	}

	// ── 2. URL cache short-circuit ────────────────────────────────────
	key := cache.URLKey(item.URL)
	var cached []models.MediaItem
	if c.cache.GetJSON(ctx, key, &cached) {
		if len(cached) > 0 {
			if _, err := c.store.InsertMediaBatch(ctx, item.JobID, item.URL, cached); err != nil {
				return err
			}
		}
		slog.Info("url served from cache",
			"jobId", item.JobID,
			"url", item.URL,
			"media", len(cached),
		)
		return nil
	}

	// ── 3. Heap guard before the scrape ───────────────────────────────
	maybeGC(c.cfg.Monitor.HeapLowMB, "pre-scrape")

	// ── 4. Extract ────────────────────────────────────────────────────
	res := c.router.Extract(ctx, item.URL)
	if !res.Success {
		return models.NewScrapeError(models.ErrCodeExtraction, res.Error, nil)
	}

	// ── 5. Persist and cache ──────────────────────────────────────────
	if len(res.Media) > 0 {
		inserted, err := c.store.InsertMediaBatch(ctx, item.JobID, item.URL, res.Media)
		if err != nil {
			return err
		}
		c.cache.SetJSON(ctx, key, res.Media, c.cfg.CacheTTL.URL)
		c.cache.DeletePattern(ctx, cache.PatternMedia)
		c.cache.Delete(ctx, cache.KeyMediaStats)
		slog.Info("media extracted",
			"jobId", item.JobID,
			"url", item.URL,
			"found", len(res.Media),
			"inserted", inserted,
			"scraper", res.ScraperUsed,
		)
	} else {
		slog.Info("no media on page",
			"jobId", item.JobID,
			"url", item.URL,
			"scraper", res.ScraperUsed,
		)
	}

	// ── 6. Heap guard after persist ───────────────────────────────────
	maybeGC(c.cfg.Monitor.HeapHighMB, "post-persist")
	return nil
}

// OnItemActive makes sure the job is tracked before any outcome arrives.
// The pending→processing transition itself belongs to the handler; this
// callback only needs the job's URL total.
func (c *Controller) OnItemActive(item *queue.Item) {
	if c.tracker.Has(item.JobID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := c.store.GetJob(ctx, item.JobID)
	if err != nil {
		slog.Error("cannot initialize progress tracking, job load failed",
			"jobId", item.JobID, "error", err)
		return
	}
	c.tracker.Activate(item.JobID, len(job.URLs))
}

// OnItemCompleted folds one successful URL into the job's progress.
func (c *Controller) OnItemCompleted(item *queue.Item) {
	c.finishURL(item.JobID, true)
}

// OnItemFailed folds one terminally failed URL into the job's progress.
// The queue only fires this after retries are exhausted.
func (c *Controller) OnItemFailed(item *queue.Item, err error) {
	c.finishURL(item.JobID, false)
}

// OnItemStalled logs lease losses; the republished item will re-run.
func (c *Controller) OnItemStalled(itemID int64) {
	slog.Warn("queue item stalled", "itemId", itemID)
}

// OnQueueError surfaces queue-internal errors into the log stream.
func (c *Controller) OnQueueError(err error) {
	slog.Error("queue error", "error", err)
}

// finishURL records one URL outcome; the last outcome writes the terminal
// job status exactly once and triggers the notifier.
func (c *Controller) finishURL(jobID int64, success bool) {
	var (
		out      Outcome
		terminal bool
	)
	if success {
		out, terminal = c.tracker.Complete(jobID)
	} else {
		out, terminal = c.tracker.Fail(jobID)
	}
	if !terminal {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.store.MarkJobTerminal(ctx, jobID, out.Status, time.Now()); err != nil {
		slog.Error("failed to write terminal job status",
			"jobId", jobID, "status", out.Status, "error", err)
		return
	}
	slog.Info("job finished",
		"jobId", jobID,
		"status", out.Status,
		"completed", out.Completed,
		"failed", out.Failed,
	)

	if c.notifier == nil {
		return
	}
	mediaFound, err := c.store.CountMediaForJob(ctx, jobID)
	if err != nil {
		slog.Warn("media count for notification failed", "jobId", jobID, "error", err)
	}
	c.notifier.JobFinished(jobID, out.Status, out.Total, mediaFound)
}

// dedupInOrder drops repeated URLs, keeping first occurrences in order.
func dedupInOrder(urls []string) ([]string, int) {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out, len(urls) - len(out)
}
