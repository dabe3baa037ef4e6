package handler

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/magpielabs/magpie/cache"
	"github.com/magpielabs/magpie/models"
	"github.com/magpielabs/magpie/queue"
)

// Submitter accepts a validated URL batch for processing.
type Submitter interface {
	EnqueueJob(ctx context.Context, userID *int64, urls []string) (*models.ScrapeAccepted, error)
}

// QueueControl is the slice of the queue the API exposes.
type QueueControl interface {
	Stats(ctx context.Context) (*queue.Stats, error)
	Pause(ctx context.Context, source string) error
	Resume(ctx context.Context, source string) (bool, error)
	DeadLetters(ctx context.Context, limit int64) ([]queue.Record, error)
}

// Submit handles POST /api/scrape: validate the batch, enqueue it, answer
// 201 with the job handle. Scraping itself happens in the workers.
func Submit(jobs Submitter, users UserSource, maxURLs int) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeSubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			failInvalid(c, "urls array is required")
			return
		}
		if len(req.URLs) == 0 {
			failInvalid(c, "urls must not be empty")
			return
		}
		if len(req.URLs) > maxURLs {
			failInvalid(c, fmt.Sprintf("at most %d urls per request", maxURLs))
			return
		}
		for _, raw := range req.URLs {
			if !validURL(raw) {
				failInvalid(c, fmt.Sprintf("invalid url: %s", raw))
				return
			}
		}

		// Attribution is best effort: a submission without a resolvable
		// user row still runs, it just has no owner.
		var userID *int64
		if user, err := users.GetUserByUsername(c.Request.Context(), currentUsername(c)); err == nil {
			userID = &user.ID
		}

		accepted, err := jobs.EnqueueJob(c.Request.Context(), userID, req.URLs)
		if err != nil {
			fail(c, err)
			return
		}
		created(c, accepted)
	}
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// QueueStats handles GET /api/scrape/queue/stats. Counts come through the
// cache with a short TTL so dashboards polling every second do not hammer
// Redis with ZCARD pipelines.
func QueueStats(q QueueControl, cc *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := cache.GetOrSet(c.Request.Context(), cc, cache.KeyQueueStats, ttl,
			func(ctx context.Context) (*queue.Stats, error) {
				return q.Stats(ctx)
			})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, stats)
	}
}

// QueuePause handles POST /api/scrape/queue/pause. A manual hold outranks
// the CPU monitor: only another resume call clears it.
func QueuePause(q QueueControl) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := q.Pause(c.Request.Context(), queue.PauseManual); err != nil {
			fail(c, err)
			return
		}
		okMessage(c, "queue paused")
	}
}

// QueueResume handles POST /api/scrape/queue/resume.
func QueueResume(q QueueControl) gin.HandlerFunc {
	return func(c *gin.Context) {
		resumed, err := q.Resume(c.Request.Context(), queue.PauseManual)
		if err != nil {
			fail(c, err)
			return
		}
		if !resumed {
			okMessage(c, "queue was not paused")
			return
		}
		okMessage(c, "queue resumed")
	}
}

// QueueDeadLetters handles GET /api/scrape/queue/dlq: the most recent
// permanently failed items, newest first.
func QueueDeadLetters(q QueueControl) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := q.DeadLetters(c.Request.Context(), 100)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, records)
	}
}
