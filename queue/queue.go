// Package queue implements a durable Redis-backed work queue with retries,
// exponential backoff, stall recovery, priority + LIFO draining, pause /
// resume, bounded retention of finished items, and a dead-letter channel.
//
// Layout under `queue:{name}:`:
//
//	id, seq        INCR counters (item ids, submission sequence)
//	item:{id}      HASH  data(JSON), priority, lifo, attempts, stalls,
//	               member, last_error, created_at
//	pending        ZSET  score=priority, member={ord16}:{id}
//	processing     ZSET  score=lease deadline (unix ms)
//	delayed        ZSET  score=promote-at (unix ms)
//	completed      ZSET  score=finish time, member=snapshot JSON (last 50)
//	failed         ZSET  score=finish time, member=snapshot JSON (last 100)
//	paused         STRING "manual" | "cpu"
//	deadletter     LIST  of DLQ records (last 100)
//
// Draining uses ZPOPMAX, so higher priorities pop first. Within one
// priority, ZPOPMAX breaks ties by reverse-lex member order; the member's
// zero-padded ordinal prefix turns that into LIFO (raw sequence) or FIFO
// (inverted sequence) depending on how the item was enqueued.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magpielabs/magpie/config"
	"github.com/magpielabs/magpie/models"
)

// Pause sources. A cpu pause never downgrades a manual one, and a cpu
// resume never clears a manual pause.
const (
	PauseManual = "manual"
	PauseCPU    = "cpu"
)

// seqSpan inverts sequence numbers for FIFO members. 16 digits outlast any
// realistic queue lifetime.
const seqSpan = int64(1e16)

// Payload is the unit of work: one URL of one scrape job.
type Payload struct {
	JobID int64  `json:"job_id"`
	URL   string `json:"url"`
}

// Item is a leased queue item as handed to the handler and observers.
type Item struct {
	ID        int64
	JobID     int64
	URL       string
	Attempts  int // attempts finished before this run
	Stalls    int
	Priority  int64
	CreatedAt time.Time

	member string
}

// Handler processes one leased item. A nil return completes the item; an
// error fails the attempt and schedules a retry while attempts remain.
type Handler func(ctx context.Context, item *Item) error

// EnqueueOptions control the drain position of a new item.
type EnqueueOptions struct {
	// Priority orders draining: higher pops first. Submissions use the
	// current unix-ms timestamp so fresh batches overtake old backlogs.
	Priority int64

	// LIFO makes the newest item win ties within one priority class.
	LIFO bool
}

// Queue is a named work queue on one Redis connection. Configure Events
// before Start; all methods are safe for concurrent use.
type Queue struct {
	rdb            *redis.Client
	name           string
	cfg            config.QueueConfig
	handlerTimeout time.Duration

	Events Events

	handler Handler

	baseCtx    context.Context
	baseCancel context.CancelFunc
	stopCh     chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	closeOnce  sync.Once
}

// New builds a queue named `queue:{name}:*`. handlerTimeout is the hard
// per-item deadline (scraper timeout plus grace), enforced on the context
// passed to the handler.
func New(rdb *redis.Client, name string, cfg config.QueueConfig, handlerTimeout time.Duration) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		rdb:            rdb,
		name:           name,
		cfg:            cfg,
		handlerTimeout: handlerTimeout,
		baseCtx:        ctx,
		baseCancel:     cancel,
		stopCh:         make(chan struct{}),
	}
}

func (q *Queue) key(suffix string) string {
	return "queue:" + q.name + ":" + suffix
}

func (q *Queue) itemKey(id int64) string {
	return q.key("item:" + strconv.FormatInt(id, 10))
}

// pendingMember encodes drain order into the member string. Zero-padded
// ordinals compare lexicographically like integers, so under ZPOPMAX's
// reverse-lex tiebreak a raw sequence pops newest-first (LIFO) and an
// inverted sequence pops oldest-first (FIFO).
func pendingMember(id, seq int64, lifo bool) string {
	ord := seq
	if !lifo {
		ord = seqSpan - seq
	}
	return fmt.Sprintf("%016d:%d", ord, id)
}

// memberID recovers the item id from a pending/processing member.
func memberID(member string) (int64, bool) {
	i := strings.IndexByte(member, ':')
	if i < 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(member[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Backoff returns the delay before retry number attempt (1-based):
// base doubled per attempt, capped at limit.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if d <= 0 || d > limit {
		return limit
	}
	return d
}

// Enqueue appends one item atomically and returns its queue-assigned id.
func (q *Queue) Enqueue(ctx context.Context, p Payload, opts EnqueueOptions) (int64, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return 0, models.NewScrapeError(models.ErrCodeQueue, "failed to encode queue payload", err)
	}

	id, err := q.rdb.Incr(ctx, q.key("id")).Result()
	if err != nil {
		return 0, models.NewScrapeError(models.ErrCodeQueue, "failed to allocate queue item id", err)
	}
	seq, err := q.rdb.Incr(ctx, q.key("seq")).Result()
	if err != nil {
		return 0, models.NewScrapeError(models.ErrCodeQueue, "failed to allocate queue sequence", err)
	}

	member := pendingMember(id, seq, opts.LIFO)
	lifo := 0
	if opts.LIFO {
		lifo = 1
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.itemKey(id),
		"data", data,
		"priority", opts.Priority,
		"lifo", lifo,
		"attempts", 0,
		"stalls", 0,
		"member", member,
		"created_at", time.Now().UnixMilli(),
	)
	pipe.ZAdd(ctx, q.key("pending"), redis.Z{
		Score:  float64(opts.Priority),
		Member: member,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, models.NewScrapeError(models.ErrCodeQueue, "failed to enqueue item", err)
	}
	return id, nil
}

// Pause stops leasing new items; in-flight items run to completion.
// A manual pause outranks a cpu pause and survives cpu resumes.
func (q *Queue) Pause(ctx context.Context, source string) error {
	if err := pauseScript.Run(ctx, q.rdb, []string{q.key("paused")}, source).Err(); err != nil {
		return models.NewScrapeError(models.ErrCodeQueue, "failed to pause queue", err)
	}
	slog.Info("queue paused", "queue", q.name, "source", source)
	return nil
}

// Resume lifts a pause. A cpu resume only clears a cpu pause; a manual
// resume clears any pause. Returns true when leasing actually resumed.
func (q *Queue) Resume(ctx context.Context, source string) (bool, error) {
	n, err := resumeScript.Run(ctx, q.rdb, []string{q.key("paused")}, source).Int()
	if err != nil {
		return false, models.NewScrapeError(models.ErrCodeQueue, "failed to resume queue", err)
	}
	if n == 1 {
		slog.Info("queue resumed", "queue", q.name, "source", source)
	}
	return n == 1, nil
}

// pauseState reads the paused key: "" when running.
func (q *Queue) pauseState(ctx context.Context) (string, error) {
	state, err := q.rdb.Get(ctx, q.key("paused")).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return state, nil
}

// IsPaused reports whether leasing is currently stopped.
func (q *Queue) IsPaused(ctx context.Context) bool {
	state, err := q.pauseState(ctx)
	return err == nil && state != ""
}

// PausedByCPU reports whether the current pause came from the CPU monitor.
func (q *Queue) PausedByCPU(ctx context.Context) bool {
	state, err := q.pauseState(ctx)
	return err == nil && state == PauseCPU
}

// Stats is a point-in-time queue census.
type Stats struct {
	Waiting     int64 `json:"waiting"`
	Active      int64 `json:"active"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	IsPaused    bool  `json:"isPaused"`
	PausedByCpu bool  `json:"pausedByCpu"`
}

// Stats counts the queue sets. Waiting includes items sitting out a retry
// backoff in the delayed set.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	pipe := q.rdb.Pipeline()
	pending := pipe.ZCard(ctx, q.key("pending"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	active := pipe.ZCard(ctx, q.key("processing"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	paused := pipe.Get(ctx, q.key("paused"))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, models.NewScrapeError(models.ErrCodeQueue, "failed to read queue stats", err)
	}

	state, _ := paused.Result()
	return &Stats{
		Waiting:     pending.Val() + delayed.Val(),
		Active:      active.Val(),
		Completed:   completed.Val(),
		Failed:      failed.Val(),
		IsPaused:    state != "",
		PausedByCpu: state == PauseCPU,
	}, nil
}

// Close stops leasing and waits for in-flight handlers up to the configured
// drain timeout; past that their contexts are canceled and Close returns.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.stopCh)

		done := make(chan struct{})
		go func() {
			q.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			slog.Info("queue drained", "queue", q.name)
		case <-time.After(q.cfg.DrainTimeout):
			slog.Warn("queue drain timed out, canceling in-flight handlers",
				"queue", q.name,
				"timeout", q.cfg.DrainTimeout,
			)
		}
		q.baseCancel()
	})
}
