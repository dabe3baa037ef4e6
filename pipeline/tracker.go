package pipeline

import (
	"log/slog"
	"sync"

	"github.com/magpielabs/magpie/models"
)

// Outcome is the terminal verdict for a job once every URL has reported.
type Outcome struct {
	Status    models.JobStatus
	Total     int
	Completed int
	Failed    int
}

// Tracker counts per-URL outcomes for in-flight jobs. Entries appear on the
// first active event and disappear with the terminal verdict; counters
// saturate at the URL total so duplicate deliveries cannot overshoot, and
// the verdict is produced exactly once.
//
// The map lock and the per-entry locks are never held together.
type Tracker struct {
	mu      sync.Mutex
	entries map[int64]*trackerEntry
}

type trackerEntry struct {
	mu        sync.Mutex
	total     int
	completed int
	failed    int
	done      bool
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[int64]*trackerEntry)}
}

// Activate registers a job with its URL total. Idempotent; the first call
// wins so re-activation cannot reset live counters.
func (t *Tracker) Activate(jobID int64, total int) {
	if total < 1 {
		slog.Warn("refusing to track job without urls", "jobId", jobID)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[jobID]; ok {
		return
	}
	t.entries[jobID] = &trackerEntry{total: total}
}

// Has reports whether the job is currently tracked.
func (t *Tracker) Has(jobID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[jobID]
	return ok
}

// Complete counts one successful URL. When it is the job's last outstanding
// URL the entry is removed and the terminal outcome returned with true.
func (t *Tracker) Complete(jobID int64) (Outcome, bool) {
	return t.finish(jobID, true)
}

// Fail counts one terminally failed URL (retries exhausted), with the same
// return convention as Complete.
func (t *Tracker) Fail(jobID int64) (Outcome, bool) {
	return t.finish(jobID, false)
}

func (t *Tracker) finish(jobID int64, success bool) (Outcome, bool) {
	t.mu.Lock()
	entry, ok := t.entries[jobID]
	t.mu.Unlock()
	if !ok {
		// Tracking state is process-local; after a restart, outcomes for
		// jobs activated by the previous process have nowhere to land.
		slog.Warn("outcome for untracked job dropped", "jobId", jobID, "success", success)
		return Outcome{}, false
	}

	entry.mu.Lock()
	if entry.done || entry.completed+entry.failed >= entry.total {
		entry.mu.Unlock()
		return Outcome{}, false
	}
	if success {
		entry.completed++
	} else {
		entry.failed++
	}
	if entry.completed+entry.failed < entry.total {
		entry.mu.Unlock()
		return Outcome{}, false
	}

	entry.done = true
	status := models.JobCompleted
	if entry.failed == entry.total {
		status = models.JobFailed
	}
	out := Outcome{
		Status:    status,
		Total:     entry.total,
		Completed: entry.completed,
		Failed:    entry.failed,
	}
	entry.mu.Unlock()

	t.mu.Lock()
	delete(t.entries, jobID)
	t.mu.Unlock()

	return out, true
}

// Size returns the number of jobs currently tracked.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
