package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magpielabs/magpie/models"
)

// snapshot is the bounded record kept as a member of the completed/failed
// sets. It is self-contained because the item hash is deleted on finish.
type snapshot struct {
	ID         int64  `json:"id"`
	JobID      int64  `json:"job_id"`
	URL        string `json:"url"`
	Attempts   int    `json:"attempts"`
	Stalls     int    `json:"stalls"`
	Error      string `json:"error,omitempty"`
	FinishedAt int64  `json:"finished_at"`
}

func itemSnapshot(item *Item, attempts int, errMsg string) string {
	b, _ := json.Marshal(snapshot{
		ID:         item.ID,
		JobID:      item.JobID,
		URL:        item.URL,
		Attempts:   attempts,
		Stalls:     item.Stalls,
		Error:      errMsg,
		FinishedAt: time.Now().UnixMilli(),
	})
	return string(b)
}

// panicError carries a recovered handler panic and its stack into the
// normal failure path.
type panicError struct {
	val   any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", p.val)
}

// Start launches the worker pool plus the delayed-item promoter and the
// stalled-lease sweeper. Only the first call has any effect.
func (q *Queue) Start(concurrency int, handler Handler) {
	q.startOnce.Do(func() {
		q.handler = handler
		for i := 0; i < concurrency; i++ {
			q.wg.Add(1)
			go q.workerLoop()
		}
		q.wg.Add(2)
		go q.promoterLoop()
		go q.stallLoop()

		slog.Info("queue workers started",
			"queue", q.name,
			"concurrency", concurrency,
			"lease", q.cfg.LeaseDuration,
			"handlerTimeout", q.handlerTimeout,
		)
	})
}

func (q *Queue) workerLoop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		item, err := q.lease()
		if err != nil {
			q.Events.emitError(err)
			q.sleep(q.cfg.PollInterval)
			continue
		}
		if item == nil {
			// Empty or paused.
			q.sleep(q.cfg.PollInterval)
			continue
		}
		q.process(item)
	}
}

// sleep waits for d or until the queue stops, whichever comes first.
func (q *Queue) sleep(d time.Duration) {
	select {
	case <-q.stopCh:
	case <-time.After(d):
	}
}

// lease pops the best pending item into processing and loads its body.
// Returns (nil, nil) when there is nothing to do.
func (q *Queue) lease() (*Item, error) {
	ctx, cancel := context.WithTimeout(q.baseCtx, 5*time.Second)
	defer cancel()

	member, err := leaseScript.Run(ctx, q.rdb,
		[]string{q.key("pending"), q.key("processing"), q.key("paused")},
		time.Now().UnixMilli(),
		q.cfg.LeaseDuration.Milliseconds(),
	).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeQueue, "failed to lease item", err)
	}

	id, ok := memberID(member)
	if !ok {
		q.rdb.ZRem(ctx, q.key("processing"), member)
		return nil, models.NewScrapeError(models.ErrCodeQueue,
			fmt.Sprintf("dropped malformed queue member %q", member), nil)
	}

	item, err := q.loadItem(ctx, id, member)
	if err != nil {
		return nil, err
	}
	if item == nil {
		// Member without a body; clean up the stray lease.
		q.rdb.ZRem(ctx, q.key("processing"), member)
		return nil, nil
	}
	return item, nil
}

// loadItem reads one item hash. A missing hash returns (nil, nil); a hash
// with an undecodable payload is deleted as poison and also returns nil.
func (q *Queue) loadItem(ctx context.Context, id int64, member string) (*Item, error) {
	vals, err := q.rdb.HGetAll(ctx, q.itemKey(id)).Result()
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeQueue, "failed to load queue item", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}

	var p Payload
	if err := json.Unmarshal([]byte(vals["data"]), &p); err != nil {
		slog.Error("deleting queue item with corrupt payload", "itemId", id, "error", err)
		q.rdb.Del(ctx, q.itemKey(id))
		return nil, nil
	}

	attempts, _ := strconv.Atoi(vals["attempts"])
	stalls, _ := strconv.Atoi(vals["stalls"])
	priority, _ := strconv.ParseInt(vals["priority"], 10, 64)
	createdMs, _ := strconv.ParseInt(vals["created_at"], 10, 64)

	return &Item{
		ID:        id,
		JobID:     p.JobID,
		URL:       p.URL,
		Attempts:  attempts,
		Stalls:    stalls,
		Priority:  priority,
		CreatedAt: time.UnixMilli(createdMs),
		member:    member,
	}, nil
}

// process runs the handler for one leased item under the per-item deadline,
// with a background heartbeat keeping the lease alive.
func (q *Queue) process(item *Item) {
	ctx, cancel := context.WithTimeout(q.baseCtx, q.handlerTimeout)
	defer cancel()

	go q.heartbeat(ctx, item.member)

	q.Events.emitActive(item)

	if err := q.runHandler(ctx, item); err != nil {
		q.fail(item, err)
		return
	}
	q.complete(item)
}

// runHandler converts handler panics into errors so one bad page cannot
// take down a worker.
func (q *Queue) runHandler(ctx context.Context, item *Item) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{val: rec, stack: debug.Stack()}
			slog.Error("queue handler panicked",
				"itemId", item.ID,
				"url", item.URL,
				"panic", rec,
			)
		}
	}()
	return q.handler(ctx, item)
}

// heartbeat renews the lease every third of its duration until ctx ends.
// ZADD XX cannot resurrect a member the sweeper removed, so a lost lease
// stays lost and the late finish becomes a no-op.
func (q *Queue) heartbeat(ctx context.Context, member string) {
	t := time.NewTicker(q.cfg.LeaseDuration / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			deadline := float64(time.Now().Add(q.cfg.LeaseDuration).UnixMilli())
			err := q.rdb.ZAddArgs(ctx, q.key("processing"), redis.ZAddArgs{
				XX:      true,
				Members: []redis.Z{{Score: deadline, Member: member}},
			}).Err()
			if err != nil && ctx.Err() == nil {
				q.Events.emitError(models.NewScrapeError(models.ErrCodeQueue, "lease renewal failed", err))
			}
		}
	}
}

// complete finishes an item. A completion whose lease was reclaimed by the
// stall sweeper is silently dropped; the republished copy owns the outcome.
func (q *Queue) complete(item *Item) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := completeScript.Run(ctx, q.rdb,
		[]string{q.key("processing"), q.key("completed"), q.itemKey(item.ID)},
		item.member,
		itemSnapshot(item, item.Attempts+1, ""),
		time.Now().UnixMilli(),
		q.cfg.KeepCompleted,
	).Int()
	if err != nil {
		q.Events.emitError(models.NewScrapeError(models.ErrCodeQueue, "failed to complete item", err))
		return
	}
	if res == 0 {
		slog.Debug("late completion ignored, lease was reclaimed", "itemId", item.ID)
		return
	}
	q.Events.emitCompleted(item)
}

// fail records a failed attempt: backoff and retry while attempts remain,
// terminal failure plus dead-letter once they run out.
func (q *Queue) fail(item *Item, cause error) {
	attemptsAfter := item.Attempts + 1
	delay := Backoff(q.cfg.BackoffBase, q.cfg.BackoffCap, attemptsAfter)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := failScript.Run(ctx, q.rdb,
		[]string{q.key("processing"), q.key("delayed"), q.key("failed"), q.itemKey(item.ID)},
		item.member,
		q.cfg.AttemptsMax,
		time.Now().Add(delay).UnixMilli(),
		itemSnapshot(item, attemptsAfter, cause.Error()),
		time.Now().UnixMilli(),
		q.cfg.KeepFailed,
		cause.Error(),
	).Int()
	if err != nil {
		q.Events.emitError(models.NewScrapeError(models.ErrCodeQueue, "failed to record item failure", err))
		return
	}

	switch {
	case res < 0:
		slog.Debug("late failure ignored, lease was reclaimed", "itemId", item.ID)
	case res > 0:
		slog.Info("queue item scheduled for retry",
			"itemId", item.ID,
			"url", item.URL,
			"attempt", res,
			"maxAttempts", q.cfg.AttemptsMax,
			"delay", delay,
			"error", cause.Error(),
		)
	default:
		q.deadletter(item, cause)
		q.Events.emitFailed(item, cause)
	}
}

// promoterLoop moves items whose backoff expired back into pending.
func (q *Queue) promoterLoop() {
	defer q.wg.Done()
	t := time.NewTicker(q.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-t.C:
			q.promoteDue()
		}
	}
}

func (q *Queue) promoteDue() {
	ctx, cancel := context.WithTimeout(q.baseCtx, 5*time.Second)
	defer cancel()

	now := time.Now().UnixMilli()
	members, err := q.rdb.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: 100,
	}).Result()
	if err != nil {
		q.Events.emitError(models.NewScrapeError(models.ErrCodeQueue, "failed to scan delayed items", err))
		return
	}

	for _, member := range members {
		id, ok := memberID(member)
		if !ok {
			q.rdb.ZRem(ctx, q.key("delayed"), member)
			continue
		}
		res, err := promoteScript.Run(ctx, q.rdb,
			[]string{q.key("delayed"), q.key("pending"), q.itemKey(id)},
			member, now,
		).Int()
		if err != nil {
			q.Events.emitError(models.NewScrapeError(models.ErrCodeQueue, "failed to promote delayed item", err))
			continue
		}
		if res == 1 {
			slog.Debug("delayed item promoted", "itemId", id)
		}
	}
}

// stallLoop periodically reclaims lapsed leases.
func (q *Queue) stallLoop() {
	defer q.wg.Done()
	t := time.NewTicker(q.cfg.StalledInterval)
	defer t.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-t.C:
			q.sweepStalls()
		}
	}
}

// sweepStalls republishes items whose lease deadline passed without a
// heartbeat, and forcibly fails items that stalled past the limit.
func (q *Queue) sweepStalls() {
	ctx, cancel := context.WithTimeout(q.baseCtx, 10*time.Second)
	defer cancel()

	now := time.Now().UnixMilli()
	members, err := q.rdb.ZRangeByScore(ctx, q.key("processing"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: 100,
	}).Result()
	if err != nil {
		q.Events.emitError(models.NewScrapeError(models.ErrCodeQueue, "failed to scan stalled items", err))
		return
	}

	for _, member := range members {
		id, ok := memberID(member)
		if !ok {
			q.rdb.ZRem(ctx, q.key("processing"), member)
			continue
		}
		item, err := q.loadItem(ctx, id, member)
		if err != nil {
			q.Events.emitError(err)
			continue
		}
		if item == nil {
			q.rdb.ZRem(ctx, q.key("processing"), member)
			continue
		}

		res, err := stallScript.Run(ctx, q.rdb,
			[]string{q.key("processing"), q.key("pending"), q.key("failed"), q.itemKey(id)},
			member,
			now,
			q.cfg.MaxStalled,
			q.cfg.KeepFailed,
			itemSnapshot(item, item.Attempts, "stalled past the allowed limit"),
		).Int()
		if err != nil {
			q.Events.emitError(models.NewScrapeError(models.ErrCodeQueue, "failed to reclaim stalled item", err))
			continue
		}

		switch {
		case res < 0:
			// Lease renewed between scan and script, or already finished.
		case res > 0:
			slog.Warn("stalled item republished",
				"itemId", id,
				"url", item.URL,
				"stalls", res,
				"maxStalled", q.cfg.MaxStalled,
			)
			q.Events.emitStalled(id)
		default:
			stallErr := fmt.Errorf("queue: item stalled more than %d times", q.cfg.MaxStalled)
			slog.Error("stalled item forcibly failed", "itemId", id, "url", item.URL)
			q.deadletter(item, stallErr)
			q.Events.emitFailed(item, stallErr)
		}
	}
}
