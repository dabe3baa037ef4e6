package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magpielabs/magpie/models"
)

// keepDeadLetters bounds the Redis-side dead-letter list.
const keepDeadLetters = 100

// Record is one dead-letter entry: a queue item that exhausted its attempts
// or stalled past the limit. It is emitted twice with the same fields, as a
// structured error log and as a Redis list entry for the DLQ endpoint.
type Record struct {
	QueueItemID  int64     `json:"queue_item_id"`
	JobID        int64     `json:"job_id"`
	URL          string    `json:"url"`
	Attempts     int       `json:"attempts"`
	ErrorMessage string    `json:"error_message"`
	Stack        string    `json:"stack,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// deadletter emits the DLQ record for a terminally failed item.
func (q *Queue) deadletter(item *Item, cause error) {
	rec := Record{
		QueueItemID:  item.ID,
		JobID:        item.JobID,
		URL:          item.URL,
		Attempts:     item.Attempts + 1,
		ErrorMessage: cause.Error(),
		Timestamp:    time.Now().UTC(),
	}
	if pe, ok := cause.(*panicError); ok {
		rec.Stack = string(pe.stack)
	}

	slog.Error("queue item dead-lettered",
		"queue_item_id", rec.QueueItemID,
		"job_id", rec.JobID,
		"url", rec.URL,
		"attempts", rec.Attempts,
		"error_message", rec.ErrorMessage,
		"stack", rec.Stack,
		"timestamp", rec.Timestamp,
	)

	// The Redis copy is best-effort; the log line above is the channel the
	// contract guarantees.
	data, err := json.Marshal(rec)
	if err != nil {
		q.Events.emitError(models.NewScrapeError(models.ErrCodeQueue, "failed to encode dead-letter record", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, q.key("deadletter"), data)
	pipe.LTrim(ctx, q.key("deadletter"), 0, keepDeadLetters-1)
	if _, err := pipe.Exec(ctx); err != nil {
		q.Events.emitError(models.NewScrapeError(models.ErrCodeQueue, "failed to record dead letter", err))
	}
}

// DeadLetters returns the most recent dead-letter records, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]Record, error) {
	if limit <= 0 || limit > keepDeadLetters {
		limit = keepDeadLetters
	}
	raw, err := q.rdb.LRange(ctx, q.key("deadletter"), 0, limit-1).Result()
	if err != nil && err != redis.Nil {
		return nil, models.NewScrapeError(models.ErrCodeQueue, "failed to read dead letters", err)
	}

	records := make([]Record, 0, len(raw))
	for _, entry := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			slog.Warn("skipping corrupt dead-letter record", "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
